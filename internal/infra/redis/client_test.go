package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/postforge/internal/core/domain"
)

func TestEventValues(t *testing.T) {
	inv := domain.StepInvocation{
		Timestamp:  time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC),
		RunID:      "2026-10-17-abc123",
		Step:       "writer_agent",
		Attempt:    2,
		Status:     domain.StepStatusError,
		ErrorKind:  "TransientServiceError",
		DurationMs: 1500,
		TokenUsage: map[string]int{"input_tokens": 10},
	}

	v := eventValues(inv)

	tests := []struct {
		field  string
		expect any
	}{
		{"run_id", "2026-10-17-abc123"},
		{"step", "writer_agent"},
		{"attempt", "2"},
		{"status", "error"},
		{"error_type", "TransientServiceError"},
		{"duration_ms", "1500"},
		{"usage_input_tokens", "10"},
		{"timestamp", "2026-10-17T08:00:00Z"},
	}
	for _, tt := range tests {
		if v[tt.field] != tt.expect {
			t.Errorf("%s = %v, want %v", tt.field, v[tt.field], tt.expect)
		}
	}
	if _, ok := v["model"]; ok {
		t.Error("empty model should be omitted")
	}
}

func TestKeyDefaults(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	c := newClient(rdb, Config{})
	if c.stream != "postforge:events" || c.maxLen != 10000 {
		t.Errorf("defaults = %q/%d", c.stream, c.maxLen)
	}

	repo := NewFailedRunRepo(newClient(rdb, Config{KeyPrefix: "pf"}))
	if repo.indexKey() != "pf:failed_runs" || repo.runKey("r1") != "pf:failed_run:r1" {
		t.Errorf("keys = %q, %q", repo.indexKey(), repo.runKey("r1"))
	}
}

func newTestClient(t *testing.T, cfg Config) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.URL = "redis://" + mr.Addr()
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPublishTrimsStream(t *testing.T) {
	c, _ := newTestClient(t, Config{Stream: "pf:events", MaxLen: 5})
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		inv := domain.StepInvocation{
			Timestamp: time.Date(2026, 10, 17, 8, 0, i, 0, time.UTC),
			RunID:     "run",
			Step:      "writer_agent",
			Attempt:   i,
			Status:    domain.StepStatusOK,
		}
		if err := c.Publish(ctx, inv); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	n, err := c.rdb.XLen(ctx, "pf:events").Result()
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 || n > 5 {
		t.Errorf("stream length = %d, want 1..5", n)
	}

	events, err := c.RecentEvents(ctx, 3)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i, want := range []string{"8", "7", "6"} {
		if events[i]["attempt"] != want {
			t.Errorf("events[%d].attempt = %v, want %s", i, events[i]["attempt"], want)
		}
	}
}

func TestFailedRunRepo_ListNewestFirst(t *testing.T) {
	c, _ := newTestClient(t, Config{KeyPrefix: "pf"})
	repo := NewFailedRunRepo(c)
	ctx := context.Background()

	base := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		fr := domain.FailedRun{
			RunID:     id,
			ErrorKind: domain.KindTransient.String(),
			Message:   "upstream unavailable",
			FailedAt:  base.Add(time.Duration(i) * time.Hour),
		}
		if err := repo.Add(ctx, fr); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}

	runs, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-c" || runs[1].RunID != "run-b" {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].Message != "upstream unavailable" || !runs[0].FailedAt.Equal(base.Add(2*time.Hour)) {
		t.Errorf("decoded run = %+v", runs[0])
	}

	if err := repo.Remove(ctx, "run-c"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	runs, err = repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-b" {
		t.Errorf("after remove = %+v", runs)
	}
	if c.rdb.Exists(ctx, repo.runKey("run-c")).Val() != 0 {
		t.Error("removed run record still stored")
	}
}

func TestFailedRunRepo_ListDropsExpired(t *testing.T) {
	c, mr := newTestClient(t, Config{})
	repo := NewFailedRunRepo(c)
	ctx := context.Background()

	if err := repo.Add(ctx, domain.FailedRun{RunID: "old", FailedAt: time.Now()}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	mr.FastForward(failedRunTTL + time.Hour)

	runs, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("runs = %+v, want none", runs)
	}
	if n := c.rdb.ZCard(ctx, repo.indexKey()).Val(); n != 0 {
		t.Errorf("index still holds %d expired ids", n)
	}
}

func TestNewClientBadURL(t *testing.T) {
	if _, err := NewClient(Config{URL: "not a url"}); err == nil {
		t.Error("expected parse error")
	}
}
