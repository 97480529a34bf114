package notify

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"github.com/timba-app/livescores/internal/domain/event"
	"github.com/timba-app/livescores/internal/platform/logging"
)

var errWebhookTransient = crerr.New("webhook transient failure")

type WebhookConfig struct {
	URL     string
	Secret  string
	Retries int
	Timeout time.Duration
}

// WebhookSubscriber posts each event as JSON to a fixed URL. Delivery
// is best effort: the tracker logs failures and moves on, so a slow or
// broken endpoint never blocks event persistence.
type WebhookSubscriber struct {
	client  *fasthttp.Client
	url     string
	secret  string
	retries int
	timeout time.Duration
	logger  *logging.Logger
}

func NewWebhookSubscriber(cfg WebhookConfig, logger *logging.Logger) (*WebhookSubscriber, error) {
	target, err := validateWebhookURL(cfg.URL)
	if err != nil {
		return nil, crerr.Wrap(err, "invalid webhook URL")
	}
	if logger == nil {
		logger = logging.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSubscriber{
		client: &fasthttp.Client{
			MaxIdleConnDuration: time.Minute,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
		},
		url:     target,
		secret:  strings.TrimSpace(cfg.Secret),
		retries: cfg.Retries,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (w *WebhookSubscriber) Name() string {
	return "webhook:" + w.url
}

func (w *WebhookSubscriber) Notify(ctx context.Context, evt event.Event) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	body, err := sonic.Marshal(evt)
	if err != nil {
		return crerr.Wrap(err, "marshal event payload")
	}
	_, _ = buf.Write(body)

	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = w.post(buf.Bytes())
		if lastErr == nil {
			return nil
		}
		if !stderrors.Is(lastErr, errWebhookTransient) {
			return lastErr
		}
		if attempt == w.retries {
			break
		}

		backoff := time.Duration(attempt+1) * 500 * time.Millisecond
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	w.logger.WarnContext(ctx, "webhook delivery failed",
		"url", w.url, "kind", evt.Kind, "match_id", evt.MatchID, "error", lastErr)
	return lastErr
}

func (w *WebhookSubscriber) post(body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if w.secret != "" {
		req.Header.Set("X-Webhook-Secret", w.secret)
	}
	req.SetBody(body)

	if err := w.client.DoTimeout(req, resp, w.timeout); err != nil {
		return fmt.Errorf("%w: post webhook: %v", errWebhookTransient, err)
	}

	status := resp.StatusCode()
	switch {
	case status/100 == 2:
		return nil
	case status == fasthttp.StatusRequestTimeout ||
		status == fasthttp.StatusTooManyRequests ||
		status >= fasthttp.StatusInternalServerError:
		return fmt.Errorf("%w: webhook status=%d", errWebhookTransient, status)
	default:
		return fmt.Errorf("webhook status=%d body=%s", status, truncate(resp.Body(), 240))
	}
}

func validateWebhookURL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", crerr.New("value is empty")
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", crerr.Wrapf(err, "parse %q", candidate)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", crerr.Newf("%q uses unsupported scheme=%q; expected http or https", candidate, parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", crerr.Newf("%q has empty host", candidate)
	}
	return candidate, nil
}

func truncate(body []byte, max int) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
