package footballdata

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/timba-app/livescores/internal/domain/match"
	"github.com/timba-app/livescores/internal/platform/cache"
	"github.com/timba-app/livescores/internal/platform/logging"
	"github.com/timba-app/livescores/internal/platform/ratelimit"
	"github.com/timba-app/livescores/internal/platform/resilience"
	"github.com/timba-app/livescores/internal/usecase"
)

const (
	defaultBaseURL = "https://api.football-data.org/v4"
	authHeader     = "X-Auth-Token"

	defaultCompetitionsTTL = time.Hour
	defaultMatchesTTL      = 5 * time.Minute
	defaultLiveTTL         = time.Minute
)

var errProviderTransient = crerr.New("provider transient failure")

type ClientConfig struct {
	HTTPClient     *http.Client
	BaseURL        string
	Token          string
	Timeout        time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	AcquireTimeout time.Duration
	Limiter        *ratelimit.Bucket
	Cache          *cache.Store
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig

	CompetitionsTTL time.Duration
	MatchesTTL      time.Duration
	LiveTTL         time.Duration
}

// Client talks to the upstream scores provider. Every request that is
// not served from cache passes through the token bucket first, so the
// provider's published rate ceiling is never exceeded no matter how
// many scheduler workers call in concurrently.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	maxRetries     int
	backoffBase    time.Duration
	acquireTimeout time.Duration
	limiter        *ratelimit.Bucket
	cache          *cache.Store
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
	flight         resilience.SingleFlight

	competitionsTTL time.Duration
	matchesTTL      time.Duration
	liveTTL         time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 30 * time.Second
	}

	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		httpClient:      httpClient,
		baseURL:         baseURL,
		token:           strings.TrimSpace(cfg.Token),
		maxRetries:      maxInt(cfg.MaxRetries, 0),
		backoffBase:     backoffBase,
		acquireTimeout:  acquireTimeout,
		limiter:         cfg.Limiter,
		cache:           cfg.Cache,
		logger:          logger,
		breaker:         resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled:  breakerCfg.Enabled,
		competitionsTTL: durationOr(cfg.CompetitionsTTL, defaultCompetitionsTTL),
		matchesTTL:      durationOr(cfg.MatchesTTL, defaultMatchesTTL),
		liveTTL:         durationOr(cfg.LiveTTL, defaultLiveTTL),
	}
}

// Competitions lists the competitions the provider covers.
func (c *Client) Competitions(ctx context.Context) ([]Competition, error) {
	var envelope competitionsEnvelope
	if err := c.getJSON(ctx, "/competitions", nil, c.competitionsTTL, false, &envelope); err != nil {
		return nil, fmt.Errorf("fetch competitions: %w", err)
	}

	out := make([]Competition, 0, len(envelope.Competitions))
	for _, item := range envelope.Competitions {
		if item.Code == "" {
			continue
		}
		out = append(out, mapCompetition(item))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// CompetitionMatches lists matches for one competition code.
func (c *Client) CompetitionMatches(ctx context.Context, code string, forceRefresh bool) ([]match.Summary, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: competition code is required", usecase.ErrInvalidInput)
	}

	var envelope matchesEnvelope
	path := "/competitions/" + code + "/matches"
	if err := c.getJSON(ctx, path, nil, c.matchesTTL, forceRefresh, &envelope); err != nil {
		return nil, fmt.Errorf("fetch competition matches code=%s: %w", code, err)
	}
	return mapMatches(envelope.Matches), nil
}

// LiveMatches lists matches currently in play across the given
// competitions. Poll cycles pass forceRefresh so goal detection never
// runs on a stale cached payload.
func (c *Client) LiveMatches(ctx context.Context, codes []string, forceRefresh bool) ([]match.Summary, error) {
	query := map[string]string{"status": "LIVE"}
	if joined := joinCodes(codes); joined != "" {
		query["competitions"] = joined
	}

	var envelope matchesEnvelope
	if err := c.getJSON(ctx, "/matches", query, c.liveTTL, forceRefresh, &envelope); err != nil {
		return nil, fmt.Errorf("fetch live matches: %w", err)
	}
	return mapMatches(envelope.Matches), nil
}

// MatchDetail fetches the current state of one match. Detail payloads
// are never cached; they feed the event detector directly.
func (c *Client) MatchDetail(ctx context.Context, matchID int64) (match.Summary, error) {
	if matchID <= 0 {
		return match.Summary{}, fmt.Errorf("%w: match id must be positive", usecase.ErrInvalidInput)
	}

	var item matchItem
	path := "/matches/" + strconv.FormatInt(matchID, 10)
	if err := c.getJSON(ctx, path, nil, 0, true, &item); err != nil {
		return match.Summary{}, fmt.Errorf("fetch match detail id=%d: %w", matchID, err)
	}
	return mapMatch(item), nil
}

func (c *Client) getJSON(ctx context.Context, path string, query map[string]string, ttl time.Duration, forceRefresh bool, target any) error {
	values := url.Values{}
	for key, value := range query {
		values.Set(key, value)
	}

	fullURL := c.baseURL + path
	if encoded := values.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}
	key := path + "?" + values.Encode()

	if c.cache != nil && ttl > 0 && !forceRefresh {
		if cached, ok := c.cache.Get(ctx, key); ok {
			if raw, ok := cached.([]byte); ok {
				return sonic.Unmarshal(raw, target)
			}
		}
	}

	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "provider circuit breaker rejected request", "state", c.breaker.State())
			return fmt.Errorf("%w: scores provider is temporarily unavailable", usecase.ErrTransient)
		}
	}

	out, err, _ := c.flight.Do(key, func() (any, error) {
		if c.limiter != nil {
			if acqErr := c.limiter.Acquire(ctx, c.acquireTimeout); acqErr != nil {
				if stderrors.Is(acqErr, ratelimit.ErrNoToken) {
					return nil, fmt.Errorf("%w: token bucket exhausted", usecase.ErrRateLimited)
				}
				return nil, acqErr
			}
		}

		raw, reqErr := c.executeRequest(ctx, fullURL)
		if c.circuitEnabled {
			if reqErr != nil && stderrors.Is(reqErr, errProviderTransient) {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}
		}
		return raw, reqErr
	})
	if err != nil {
		return err
	}

	raw, ok := out.([]byte)
	if !ok {
		return fmt.Errorf("unexpected response payload type %T", out)
	}

	if err := sonic.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode provider payload: %w", err)
	}

	if c.cache != nil && ttl > 0 {
		c.cache.Set(ctx, key, raw, ttl)
	}
	return nil
}

func (c *Client) executeRequest(ctx context.Context, fullURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("accept", "application/json")
		if c.token != "" {
			req.Header.Set(authHeader, c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: send request: %s", errProviderTransient, c.sanitize(err.Error()))
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 6<<20))
			_ = resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("%w: read response body: %v", errProviderTransient, readErr)
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return raw, nil
			default:
				terminal, classified := classifyStatus(resp.StatusCode, raw)
				if terminal {
					return nil, classified
				}
				lastErr = classified
			}
		}

		if attempt == c.maxRetries {
			break
		}
		backoff := c.backoffDelay(attempt)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("provider request failed")
	}
	if !stderrors.Is(lastErr, errProviderTransient) {
		c.logger.WarnContext(ctx, "provider request failed", "url", fullURL, "error", lastErr)
		return nil, lastErr
	}
	c.logger.WarnContext(ctx, "provider request exhausted retries", "url", fullURL, "retries", c.maxRetries, "error", lastErr)
	return nil, fmt.Errorf("%w: %v", usecase.ErrTransient, lastErr)
}

// classifyStatus maps a non-2xx response to the error taxonomy. The
// second return is terminal: true means no retry will help.
func classifyStatus(code int, body []byte) (bool, error) {
	switch {
	case code == http.StatusTooManyRequests:
		return true, fmt.Errorf("%w: provider returned 429", usecase.ErrRateLimited)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return true, fmt.Errorf("%w: provider status=%d", usecase.ErrAuthFailed, code)
	case code == http.StatusNotFound:
		return true, fmt.Errorf("%w: provider status=404", usecase.ErrNotFound)
	case code >= http.StatusInternalServerError:
		return false, fmt.Errorf("%w: provider status=%d body=%s", errProviderTransient, code, abbreviateBody(body))
	default:
		return true, fmt.Errorf("provider status=%d body=%s", code, abbreviateBody(body))
	}
}

// backoffDelay returns base*2^attempt plus up to half the base of
// additive jitter, so retrying workers do not thunder in step.
func (c *Client) backoffDelay(attempt int) time.Duration {
	backoff := c.backoffBase << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(c.backoffBase)/2 + 1))
	return backoff + jitter
}

func (c *Client) sanitize(value string) string {
	value = strings.TrimSpace(value)
	if c.token != "" {
		value = strings.ReplaceAll(value, c.token, "REDACTED")
	}
	return value
}

func abbreviateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= 240 {
		return text
	}
	return text[:240] + "..."
}

func joinCodes(codes []string) string {
	cleaned := make([]string, 0, len(codes))
	for _, code := range codes {
		if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
			cleaned = append(cleaned, code)
		}
	}
	return strings.Join(cleaned, ",")
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
