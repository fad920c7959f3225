package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/infra/storage"
)

type posted struct {
	id   int64
	name string
	at   time.Time
}

type MemoryStorage struct {
	candidates []domain.Topic
	history    []posted
	nextID     int64
	mu         sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{nextID: 1}
}

// -----------------------------------------------------------------------------
// Topic Repository
// -----------------------------------------------------------------------------

type TopicRepo struct {
	store *MemoryStorage
}

var _ storage.TopicRepository = (*TopicRepo)(nil)

func NewTopicRepo(store *MemoryStorage) *TopicRepo {
	return &TopicRepo{store: store}
}

func (r *TopicRepo) SelectTopic(ctx context.Context, category string, exclude []string) (*domain.Topic, error) {
	recent, _ := r.RecentTopics(ctx, storage.RecentWindow)
	skip := storage.Excluded(recent, exclude)

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, t := range r.store.candidates {
		if t.Category != category || skip[t.Name] {
			continue
		}
		t.Source = domain.TopicSourceDatabase
		return &t, nil
	}
	return nil, nil
}

func (r *TopicRepo) RecordPosted(ctx context.Context, topic string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.history = append(r.store.history, posted{id: r.store.nextID, name: topic, at: at})
	r.store.nextID++
	return nil
}

func (r *TopicRepo) RecentTopics(ctx context.Context, limit int) ([]string, error) {
	r.store.mu.RLock()
	h := append([]posted(nil), r.store.history...)
	r.store.mu.RUnlock()

	sort.Slice(h, func(i, j int) bool {
		if !h[i].at.Equal(h[j].at) {
			return h[i].at.After(h[j].at)
		}
		return h[i].id > h[j].id
	})
	if limit > 0 && len(h) > limit {
		h = h[:limit]
	}
	names := make([]string, len(h))
	for i, p := range h {
		names[i] = p.name
	}
	return names, nil
}

func (r *TopicRepo) AddCandidates(ctx context.Context, category string, names []string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing := make(map[string]bool, len(r.store.candidates))
	for _, t := range r.store.candidates {
		existing[t.Name] = true
	}
	added := 0
	for _, n := range names {
		if existing[n] {
			continue
		}
		r.store.candidates = append(r.store.candidates, domain.Topic{ID: r.store.nextID, Name: n, Category: category})
		r.store.nextID++
		existing[n] = true
		added++
	}
	return added, nil
}

func (r *TopicRepo) Close() error {
	return nil
}
