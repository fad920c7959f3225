package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/postforge/internal/infra/storage"
)

func newTestRepo(t *testing.T) *TopicRepo {
	t.Helper()
	ctx := context.Background()
	db, err := NewDB(ctx, Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "data", "topics.db")})
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	repo := NewTopicRepo(db)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMigrateIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.db.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}

func TestSeedAndSelect(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	n, err := storage.Seed(ctx, repo)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 16 {
		t.Errorf("seeded %d, want 16", n)
	}
	if again, _ := storage.Seed(ctx, repo); again != 0 {
		t.Errorf("reseed inserted %d, want 0", again)
	}

	got, err := repo.SelectTopic(ctx, storage.CategoryDataScience, nil)
	if err != nil {
		t.Fatalf("SelectTopic: %v", err)
	}
	if got == nil || got.Name != storage.SeedTopics[storage.CategoryDataScience][0] {
		t.Fatalf("SelectTopic = %+v", got)
	}
	if got.Category != storage.CategoryDataScience || got.Source != "database" {
		t.Errorf("topic = %+v", got)
	}
}

func TestSelectSkipsRecentAndExcluded(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	_, _ = storage.Seed(ctx, repo)
	seeds := storage.SeedTopics[storage.CategoryGenAI]

	if err := repo.RecordPosted(ctx, seeds[0], time.Now()); err != nil {
		t.Fatalf("RecordPosted: %v", err)
	}

	got, err := repo.SelectTopic(ctx, storage.CategoryGenAI, []string{seeds[1]})
	if err != nil {
		t.Fatalf("SelectTopic: %v", err)
	}
	if got == nil || got.Name != seeds[2] {
		t.Errorf("SelectTopic = %+v, want %q", got, seeds[2])
	}
}

func TestSelectNoCandidates(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.SelectTopic(context.Background(), "Quantum Basket Weaving", nil)
	if err != nil || got != nil {
		t.Errorf("SelectTopic = %+v, %v; want nil, nil", got, err)
	}
}

func TestRecentTopicsOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	_ = repo.RecordPosted(ctx, "first", base)
	_ = repo.RecordPosted(ctx, "third", base.Add(2*time.Hour))
	_ = repo.RecordPosted(ctx, "second", base.Add(time.Hour))

	names, err := repo.RecentTopics(ctx, 2)
	if err != nil {
		t.Fatalf("RecentTopics: %v", err)
	}
	if len(names) != 2 || names[0] != "third" || names[1] != "second" {
		t.Errorf("RecentTopics = %v", names)
	}
}

func TestUnknownDriver(t *testing.T) {
	_, err := NewDB(context.Background(), Config{Driver: "oracle"})
	if !errors.Is(err, storage.ErrUnknownDriver) {
		t.Errorf("err = %v, want ErrUnknownDriver", err)
	}
}
