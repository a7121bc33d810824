package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStatusMonotonicity(t *testing.T) {
	tests := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{StatusMonitoring, StatusPending, true},
		{StatusMonitoring, StatusCompleted, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusTimeout, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusMonitoring, false},
		{StatusCompleted, StatusPending, false},
		{StatusCancelled, StatusCompleted, false},
		{StatusTimeout, StatusFailed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []TransactionStatus{StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TransactionStatus{StatusMonitoring, StatusPending} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNewTransactionRecord(t *testing.T) {
	rec := NewTransactionRecord(" 0xAbC ", OpDeposit, decimal.NewFromInt(10), "ethereum", "gnosis", 0.5)

	if rec.InternalID == "" {
		t.Fatal("expected a generated internal id")
	}
	if rec.UserID != "0xabc" {
		t.Fatalf("expected normalized user id, got %q", rec.UserID)
	}
	if rec.Status != StatusMonitoring {
		t.Fatalf("expected initial status monitoring, got %s", rec.Status)
	}
	if rec.ChainTxRef != nil {
		t.Fatal("chain tx ref must be nil before submission")
	}
	if rec.RetryCount != 0 {
		t.Fatalf("expected zero retries, got %d", rec.RetryCount)
	}

	other := NewTransactionRecord("0xabc", OpDeposit, decimal.NewFromInt(10), "ethereum", "gnosis", 0.5)
	if other.InternalID == rec.InternalID {
		t.Fatal("internal ids must be unique per record")
	}
}

func TestNewTransactionEventElapsed(t *testing.T) {
	rec := NewTransactionRecord("0xabc", OpWithdraw, decimal.NewFromInt(5), "gnosis", "ethereum", 1.0)
	started := time.Now().UTC().Add(-90 * time.Second)
	finished := started.Add(90 * time.Second)
	rec.StartedMonitoringAt = &started
	rec.CompletedAt = &finished
	rec.Status = StatusCompleted

	ev := NewTransactionEvent(rec, "completed")
	if ev.Kind != "completed" || ev.InternalID != rec.InternalID {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.ElapsedMs != 90_000 {
		t.Fatalf("expected 90000ms elapsed, got %d", ev.ElapsedMs)
	}
}

func TestNormalizeUserID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0xABCdef", "0xabcdef"},
		{"  0xAbc  ", "0xabc"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeUserID(tt.in); got != tt.want {
			t.Errorf("NormalizeUserID(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
