package pioneer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_Do(t *testing.T) {
	errTransient := errors.New("transient")

	tests := []struct {
		name         string
		policy       RetryPolicy
		failures     int
		wantAttempts int
		wantErr      bool
	}{
		{"succeeds first time", RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}, 0, 1, false},
		{"succeeds on fifth attempt", RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}, 4, 5, false},
		{"exhausted after five", RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}, 5, 5, true},
		{"zero attempts runs once", RetryPolicy{MaxAttempts: 0}, 1, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			attempts, err := tt.policy.Do(context.Background(), func(int) error {
				calls++
				if calls <= tt.failures {
					return errTransient
				}
				return nil
			})

			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if calls != tt.wantAttempts {
				t.Errorf("calls = %d, want %d", calls, tt.wantAttempts)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errTransient) {
				t.Errorf("err = %v, want %v", err, errTransient)
			}
		})
	}
}

func TestRetryPolicy_DelayAfterEveryFailure(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, Delay: 10 * time.Millisecond}

	var stamps []time.Time
	start := time.Now()
	_, err := policy.Do(context.Background(), func(int) error {
		stamps = append(stamps, time.Now())
		return errors.New("refused")
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error")
	}
	if len(stamps) != 5 {
		t.Fatalf("attempts = %d, want 5", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < policy.Delay {
			t.Errorf("gap before attempt %d = %v, want >= %v", i+1, gap, policy.Delay)
		}
	}
	if elapsed < 5*policy.Delay {
		t.Errorf("elapsed = %v, want >= %v", elapsed, 5*policy.Delay)
	}
}

func TestRetryPolicy_NoDelayAfterSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, Delay: time.Hour}

	done := make(chan int, 1)
	go func() {
		attempts, _ := policy.Do(context.Background(), func(int) error { return nil })
		done <- attempts
	}()

	select {
	case attempts := <-done:
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	case <-time.After(time.Second):
		t.Fatal("Do waited after a successful attempt")
	}
}

func TestRetryPolicy_ContextCancelled(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := policy.Do(ctx, func(int) error {
			calls++
			return errors.New("refused")
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want %v", err, context.Canceled)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", p.MaxAttempts)
	}
	if p.Delay != 500*time.Millisecond {
		t.Errorf("Delay = %v, want 500ms", p.Delay)
	}
}
