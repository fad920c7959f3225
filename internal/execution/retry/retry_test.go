package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/postforge/internal/core/domain"
)

// =============================================================================
// Helpers
// =============================================================================

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func testPolicy(s *recordingSleeper) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: s.Sleep}
}

// =============================================================================
// Backoff
// =============================================================================

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		base    time.Duration
		expect  time.Duration
	}{
		{1, time.Second, time.Second},
		{2, time.Second, 2 * time.Second},
		{3, time.Second, 4 * time.Second},
		{4, 500 * time.Millisecond, 4 * time.Second},
		{0, time.Second, time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, tt.base); got != tt.expect {
			t.Errorf("Backoff(%d, %v) = %v, want %v", tt.attempt, tt.base, got, tt.expect)
		}
	}
}

func TestBackoffDoubles(t *testing.T) {
	base := 250 * time.Millisecond
	for k := 1; k < 10; k++ {
		if Backoff(k+1, base) != 2*Backoff(k, base) {
			t.Fatalf("Backoff(%d) is not twice Backoff(%d)", k+1, k)
		}
	}
}

// =============================================================================
// Classify
// =============================================================================

func TestClassify(t *testing.T) {
	quotaStatus, _ := status.New(codes.Unavailable, "backend busy").WithDetails(&errdetails.QuotaFailure{})

	tests := []struct {
		name      string
		err       error
		kind      domain.Kind
		retryable bool
	}{
		{"domain transient", domain.NewTransient("503 service unavailable"), domain.KindTransient, true},
		{"domain validation", domain.NewValidation("bad input"), domain.KindValidation, false},
		{"quota message", domain.NewTransient("429 quota exceeded for project"), domain.KindTransient, false},
		{"rate limit message", domain.NewTransient("Rate limit reached"), domain.KindTransient, false},
		{"plain error", errors.New("connection reset by peer"), domain.KindTransient, true},
		{"plain quota error", errors.New("RESOURCE_EXHAUSTED: try later"), domain.KindTransient, false},
		{"deadline", context.DeadlineExceeded, domain.KindTransient, true},
		{"cancelled", context.Canceled, domain.KindValidation, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "try again"), domain.KindTransient, true},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "slow down"), domain.KindTransient, false},
		{"grpc quota detail", quotaStatus.Err(), domain.KindTransient, false},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad prompt"), domain.KindValidation, false},
		{"grpc not found", status.Error(codes.NotFound, "no model"), domain.KindValidation, false},
		{"wrapped grpc status", fmt.Errorf("gemini m: %w", status.Error(codes.Unavailable, "busy")), domain.KindTransient, true},
	}

	for _, tt := range tests {
		got := Classify(tt.err)
		if got.Kind != tt.kind || got.Retryable != tt.retryable {
			t.Errorf("Classify(%s) = %v/%v, want %v/%v", tt.name, got.Kind, got.Retryable, tt.kind, tt.retryable)
		}
	}
}

func TestClassifyQuotaAppendsHintOnce(t *testing.T) {
	first := Classify(domain.NewTransient("quota exceeded"))
	second := Classify(first)

	if !strings.HasSuffix(first.Message, QuotaHint) {
		t.Fatalf("message = %q, want quota hint", first.Message)
	}
	if strings.Count(second.Message, "Resolve quota") != 1 {
		t.Errorf("hint appended twice: %q", second.Message)
	}
}

// =============================================================================
// Circuit breaker
// =============================================================================

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	b := NewCircuitBreaker(3)

	if err := b.RecordFailure(); err != nil {
		t.Fatalf("failure 1 tripped: %v", err)
	}
	if err := b.RecordFailure(); err != nil {
		t.Fatalf("failure 2 tripped: %v", err)
	}
	err := b.RecordFailure()
	if !domain.IsKind(err, domain.KindCircuitOpen) {
		t.Fatalf("failure 3 = %v, want CircuitBreakerTripped", err)
	}
	if !strings.Contains(err.Error(), "3 consecutive") {
		t.Errorf("message should cite count: %q", err.Error())
	}
	if !domain.IsKind(b.RecordFailure(), domain.KindCircuitOpen) {
		t.Error("failures after trip should keep raising")
	}
	if !b.State().Tripped {
		t.Error("State().Tripped = false")
	}
}

func TestCircuitBreakerResetsOnSuccess(t *testing.T) {
	b := NewCircuitBreaker(3)
	_ = b.RecordFailure()
	_ = b.RecordFailure()
	b.RecordSuccess()

	if got := b.State().ConsecutiveFailures; got != 0 {
		t.Fatalf("ConsecutiveFailures = %d, want 0", got)
	}
	if err := b.RecordFailure(); err != nil {
		t.Errorf("unexpected trip after reset: %v", err)
	}
}

// =============================================================================
// Do
// =============================================================================

func TestDoRetryBound(t *testing.T) {
	sleeper := &recordingSleeper{}
	breaker := NewCircuitBreaker(10)
	orig := domain.NewTransient("503 upstream")
	calls := 0

	_, err := Do(context.Background(), testPolicy(sleeper), breaker, func(ctx context.Context) (string, error) {
		calls++
		return "", orig
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if err != error(orig) {
		t.Errorf("err = %v, want original error", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleeper.delays, want)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, sleeper.delays[i], want[i])
		}
	}
}

func TestDoNonRetryableShortCircuits(t *testing.T) {
	sleeper := &recordingSleeper{}
	breaker := NewCircuitBreaker(3)
	calls := 0

	_, err := Do(context.Background(), testPolicy(sleeper), breaker, func(ctx context.Context) (int, error) {
		calls++
		return 0, domain.NewValidation("missing field")
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("err = %v, want ValidationError", err)
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("slept %v, want no sleep", sleeper.delays)
	}
	if breaker.State().ConsecutiveFailures != 0 {
		t.Error("breaker should not count non-retryable failures")
	}
}

func TestDoRecoversAndResetsBreaker(t *testing.T) {
	sleeper := &recordingSleeper{}
	breaker := NewCircuitBreaker(3)
	calls := 0

	got, err := Do(context.Background(), testPolicy(sleeper), breaker, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("timeout")
		}
		return "draft", nil
	})

	if err != nil || got != "draft" {
		t.Fatalf("Do = %q, %v", got, err)
	}
	if breaker.State().ConsecutiveFailures != 0 {
		t.Error("success should reset breaker")
	}
}

func TestDoBreakerSharedAcrossSteps(t *testing.T) {
	sleeper := &recordingSleeper{}
	breaker := NewCircuitBreaker(3)
	policy := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Sleep: sleeper.Sleep}
	fail := func(ctx context.Context) (string, error) { return "", domain.NewTransient("503") }

	_, err := Do(context.Background(), policy, breaker, fail)
	if domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("step 1 err = %v, want transient", err)
	}

	calls := 0
	_, err = Do(context.Background(), policy, breaker, func(ctx context.Context) (string, error) {
		calls++
		return "", domain.NewTransient("503")
	})
	if !domain.IsKind(err, domain.KindCircuitOpen) {
		t.Fatalf("step 2 err = %v, want CircuitBreakerTripped", err)
	}
	if calls != 1 {
		t.Errorf("step 2 calls = %d, want 1", calls)
	}
}

func TestDoObserveEveryAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	var seen []Attempt
	policy := testPolicy(sleeper)
	policy.Observe = func(a Attempt) { seen = append(seen, a) }

	calls := 0
	_, _ = Do(context.Background(), policy, NewCircuitBreaker(10), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 1, nil
	})

	if len(seen) != 3 {
		t.Fatalf("observed %d attempts, want 3", len(seen))
	}
	if seen[0].Err == nil || seen[2].Err != nil {
		t.Errorf("attempt errors = %v, %v", seen[0].Err, seen[2].Err)
	}
	if seen[1].Delay != 2*time.Second {
		t.Errorf("attempt 2 delay = %v, want 2s", seen[1].Delay)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour}, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, domain.NewTransient("503")
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if domain.KindOf(err) != domain.KindValidation {
		t.Errorf("err = %v, want cancellation", err)
	}
}
