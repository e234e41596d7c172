package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTemporary = errors.New("temporary")

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}

	if got := (Policy{}).Delay(3); got != 0 {
		t.Errorf("zero base delay = %v, want 0", got)
	}
}

func TestDefault(t *testing.T) {
	p := Default()

	for n, want := range map[int]time.Duration{1: 2 * time.Second, 2: 4 * time.Second, 3: 8 * time.Second} {
		if got := p.Delay(n); got != want {
			t.Errorf("Delay(%d) = %v, want %v", n, got, want)
		}
	}
	if !p.ShouldRetry(3, errTemporary) {
		t.Error("ShouldRetry(3) = false, want a third retry")
	}
	if p.ShouldRetry(4, errTemporary) {
		t.Error("ShouldRetry(4) = true, want the fourth failure to be final")
	}
}

func TestDo(t *testing.T) {
	fatal := errors.New("fatal")

	tests := []struct {
		name      string
		policy    Policy
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{
			name:      "succeeds first time",
			policy:    Policy{MaxAttempts: 3},
			errs:      []error{nil},
			wantCalls: 1,
		},
		{
			name:      "succeeds after retries",
			policy:    Policy{MaxAttempts: 3},
			errs:      []error{errTemporary, errTemporary, nil},
			wantCalls: 3,
		},
		{
			name:      "exhausts attempts",
			policy:    Policy{MaxAttempts: 3},
			errs:      []error{errTemporary, errTemporary, errTemporary, nil},
			wantCalls: 3,
			wantErr:   errTemporary,
		},
		{
			name: "stops on non-retryable",
			policy: Policy{
				MaxAttempts: 3,
				Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
			},
			errs:      []error{fatal, nil},
			wantCalls: 1,
			wantErr:   fatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.policy, "test", func(context.Context) error {
				err := tt.errs[calls]
				calls++
				return err
			})

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Do() error = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}

	calls := 0
	err := Do(ctx, p, "test", func(context.Context) error {
		calls++
		cancel()
		return errTemporary
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
