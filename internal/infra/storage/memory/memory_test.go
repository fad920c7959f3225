package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/postforge/internal/infra/storage"
)

func TestSelectTopicSkipsRecentAndExcluded(t *testing.T) {
	ctx := context.Background()
	repo := NewTopicRepo(NewMemoryStorage())
	if _, err := storage.Seed(ctx, repo); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	first, err := repo.SelectTopic(ctx, storage.CategoryGenAI, nil)
	if err != nil || first == nil {
		t.Fatalf("SelectTopic = %v, %v", first, err)
	}
	if first.Name != storage.SeedTopics[storage.CategoryGenAI][0] {
		t.Errorf("first = %q", first.Name)
	}

	second, _ := repo.SelectTopic(ctx, storage.CategoryGenAI, []string{first.Name})
	if second == nil || second.Name != storage.SeedTopics[storage.CategoryGenAI][1] {
		t.Fatalf("second = %+v", second)
	}

	_ = repo.RecordPosted(ctx, second.Name, time.Now())
	third, _ := repo.SelectTopic(ctx, storage.CategoryGenAI, []string{first.Name})
	if third == nil || third.Name != storage.SeedTopics[storage.CategoryGenAI][2] {
		t.Errorf("third = %+v", third)
	}
}

func TestSelectTopicExhausted(t *testing.T) {
	ctx := context.Background()
	repo := NewTopicRepo(NewMemoryStorage())
	_, _ = repo.AddCandidates(ctx, "x", []string{"only"})

	got, err := repo.SelectTopic(ctx, "x", []string{"only"})
	if err != nil || got != nil {
		t.Errorf("SelectTopic = %+v, %v; want nil, nil", got, err)
	}
}

func TestRecentWindowReleasesOldTopics(t *testing.T) {
	ctx := context.Background()
	repo := NewTopicRepo(NewMemoryStorage())
	_, _ = repo.AddCandidates(ctx, "x", []string{"old"})

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.RecordPosted(ctx, "old", base)
	if got, _ := repo.SelectTopic(ctx, "x", nil); got != nil {
		t.Fatalf("recent topic selected: %+v", got)
	}

	for i := 0; i < storage.RecentWindow; i++ {
		_ = repo.RecordPosted(ctx, fmt.Sprintf("later-%d", i), base.Add(time.Duration(i+1)*time.Hour))
	}
	if got, _ := repo.SelectTopic(ctx, "x", nil); got == nil || got.Name != "old" {
		t.Errorf("old topic should be selectable again, got %+v", got)
	}
}

func TestAddCandidatesIgnoresDuplicates(t *testing.T) {
	repo := NewTopicRepo(NewMemoryStorage())
	n, _ := repo.AddCandidates(context.Background(), "x", []string{"a", "b", "a"})
	m, _ := repo.AddCandidates(context.Background(), "x", []string{"b", "c"})
	if n != 2 || m != 1 {
		t.Errorf("inserted %d then %d, want 2 then 1", n, m)
	}
}
