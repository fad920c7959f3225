// Package control assembles the pipeline and its infrastructure from
// configuration.
package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vietddude/postforge/internal/core/config"
	"github.com/vietddude/postforge/internal/execution/fallback"
	"github.com/vietddude/postforge/internal/infra/generation"
	"github.com/vietddude/postforge/internal/infra/storage"
	"github.com/vietddude/postforge/internal/infra/storage/memory"
	"github.com/vietddude/postforge/internal/infra/storage/sqlstore"
)

// OpenTopics opens the configured topic repository. SQL databases are
// migrated, and seeded when seed is set and the database has no candidates.
func OpenTopics(ctx context.Context, cfg config.TopicsConfig) (storage.TopicRepository, error) {
	if cfg.Driver == config.TopicsDriverMemory {
		repo := memory.NewTopicRepo(memory.NewMemoryStorage())
		if cfg.Seed {
			if _, err := storage.Seed(ctx, repo); err != nil {
				return nil, err
			}
		}
		slog.Info("Using memory topic storage")
		return repo, nil
	}

	db, err := sqlstore.NewDB(ctx, cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to init topic db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate topic db: %w", err)
	}

	repo := sqlstore.NewTopicRepo(db)
	if cfg.Seed {
		n, err := storage.Seed(ctx, repo)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to seed topics: %w", err)
		}
		if n > 0 {
			slog.Info("Seeded topic database", "inserted", n)
		}
	}
	slog.Info("Using SQL topic storage", "driver", db.Driver())
	return repo, nil
}

// NewGenerator returns the offline generator for dry runs and the
// "offline" provider, and the Gemini client otherwise.
func NewGenerator(ctx context.Context, cfg *config.AppConfig) (generation.Generator, error) {
	if cfg.Pipeline.DryRun || cfg.Generation.Provider == generation.ProviderOffline {
		return generation.Offline{}, nil
	}
	client, err := generation.NewGeminiClient(ctx, cfg.Generation)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewPrompter maps a fallback mode to the prompter that answers it.
func NewPrompter(mode string, in io.Reader, out io.Writer) (fallback.Prompter, error) {
	switch mode {
	case config.FallbackModePrompt, "":
		return fallback.NewTerminalPrompter(in, out), nil
	case config.FallbackModeApprove:
		return fallback.StaticPrompter{Approve: true}, nil
	case config.FallbackModeDecline:
		return fallback.StaticPrompter{}, nil
	default:
		return nil, fmt.Errorf("unknown fallback mode %q", mode)
	}
}
