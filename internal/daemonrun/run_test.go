package daemonrun

import (
	"context"
	"testing"

	"ipoddock/internal/status"
)

type countingRecorder struct{ ids []string }

func (c *countingRecorder) RecordSession(summary status.SessionSummary) {
	c.ids = append(c.ids, summary.ID)
}

func TestSessionRecordersFanOut(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	sessionRecorders{a, b}.RecordSession(status.SessionSummary{ID: "s1"})
	if len(a.ids) != 1 || len(b.ids) != 1 || b.ids[0] != "s1" {
		t.Fatalf("expected both recorders to see s1, got %v %v", a.ids, b.ids)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}
