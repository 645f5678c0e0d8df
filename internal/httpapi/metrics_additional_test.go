package httpapi

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"llamachat/internal/session"
)

func TestIncrementRejection_EmptyReason(t *testing.T) {
	before := testutil.ToFloat64(rejectionsTotal.WithLabelValues("unspecified"))
	IncrementRejection("")
	if got := testutil.ToFloat64(rejectionsTotal.WithLabelValues("unspecified")); got != before+1 {
		t.Fatalf("unspecified=%v want %v", got, before+1)
	}
}

func TestConflictResponsesCountRejections(t *testing.T) {
	busy := testutil.ToFloat64(rejectionsTotal.WithLabelValues("busy"))
	notReady := testutil.ToFloat64(rejectionsTotal.WithLabelValues("not_ready"))

	sess := &mockSession{submitErr: &session.BusyError{State: session.KindGenerating}}
	h := NewMux(sess, &mockCatalog{})
	if w := do(t, h, http.MethodPost, "/submit", `{"text":"a"}`); w.Code != http.StatusConflict {
		t.Fatalf("status=%d", w.Code)
	}
	sess.submitErr = session.ErrNotReady
	if w := do(t, h, http.MethodPost, "/submit", `{"text":"b"}`); w.Code != http.StatusConflict {
		t.Fatalf("status=%d", w.Code)
	}

	if got := testutil.ToFloat64(rejectionsTotal.WithLabelValues("busy")); got != busy+1 {
		t.Fatalf("busy=%v want %v", got, busy+1)
	}
	if got := testutil.ToFloat64(rejectionsTotal.WithLabelValues("not_ready")); got != notReady+1 {
		t.Fatalf("not_ready=%v want %v", got, notReady+1)
	}
}
