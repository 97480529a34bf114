package footballdata

import "testing"

func TestMapMatch_MinuteNullability(t *testing.T) {
	t.Parallel()

	item := matchItem{ID: 1, Status: "IN_PLAY"}

	if got := mapMatch(item).Minute; got != nil {
		t.Fatalf("minute = %v, want nil when the payload omits it", *got)
	}

	zero := 0
	item.Minute = &zero
	got := mapMatch(item).Minute
	if got == nil || *got != 0 {
		t.Fatalf("minute = %v, want 0: kickoff minute must survive mapping", got)
	}
	if got == item.Minute {
		t.Fatal("mapped minute must not alias the wire payload")
	}
}
