package scheduler

import (
	"strings"
	"testing"
)

func TestRenderOmitsLeadingPipeWhenLogHeadEmpty(t *testing.T) {
	r := newStatRecorder("")
	r.record("Ok(n:1)", 0, 0)
	got := r.render()
	if strings.HasPrefix(got, "|") {
		t.Fatalf("expected no leading pipe for an empty log head, got %q", got)
	}
	if !strings.HasPrefix(got, "Ok(n:1)(phase_ret[ret:0],timecost[") {
		t.Fatalf("expected record to lead with the phase entry, got %q", got)
	}
}

func TestRenderPrependsNonEmptyLogHead(t *testing.T) {
	r := newStatRecorder("session-42")
	r.record("Ok(n:1)", 0, 0)
	got := r.render()
	if !strings.HasPrefix(got, "session-42|Ok(n:1)(phase_ret[ret:0],timecost[") {
		t.Fatalf("expected log head to lead the record, got %q", got)
	}
}
