package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/listinglab/pagepull/internal/config"
	"github.com/listinglab/pagepull/internal/fetch"
	"github.com/listinglab/pagepull/internal/fetcher/headless"
	"github.com/listinglab/pagepull/internal/fetcher/httpfetch"
	"github.com/listinglab/pagepull/internal/publish"
	"github.com/listinglab/pagepull/internal/sink"
	"github.com/listinglab/pagepull/internal/state"
	"github.com/listinglab/pagepull/internal/state/postgres"
)

// buildStateStore constructs the configured ledger backend. The
// returned func releases any backend resources and is safe to call
// once.
func buildStateStore(ctx context.Context, cfg config.Config) (fetch.StateStore, func(), error) {
	switch cfg.State.Provider {
	case "file":
		store, err := state.NewFileStore(cfg.State.LedgerPath, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("open file ledger: %w", err)
		}
		return store, func() {}, nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:   cfg.State.DSN,
			Table: cfg.State.Table,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres ledger: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: state.provider %q", fetch.ErrConfigMissing, cfg.State.Provider)
	}
}

func buildFailureStore(cfg config.Config) (fetch.FailureStore, error) {
	store, err := state.NewFileFailureStore(cfg.State.FailurePath)
	if err != nil {
		return nil, fmt.Errorf("open failure ledger: %w", err)
	}
	return store, nil
}

func buildFetcher(cfg config.Config) (fetch.PageFetcher, func(), error) {
	switch cfg.Fetcher.Mode {
	case "headless":
		f, err := headless.New(headless.Config{
			MaxParallel:       cfg.Fetcher.MaxParallel,
			NavigationTimeout: cfg.Fetcher.NavTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		return f, f.Close, nil
	case "http":
		f := httpfetch.New(httpfetch.Config{Timeout: cfg.Fetcher.Timeout})
		return f, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: fetcher.mode %q", fetch.ErrConfigMissing, cfg.Fetcher.Mode)
	}
}

func buildSink(ctx context.Context, cfg config.Config, hasher fetch.Hasher, logger *zap.Logger) (fetch.ContentSink, func(), error) {
	switch cfg.Storage.Provider {
	case "gcs":
		s, err := sink.NewGCSSink(ctx, cfg.Storage.GCSBucket, cfg.Storage.Prefix, hasher)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs sink: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case "fs":
		s, err := sink.NewFileSystemSink(cfg.Storage.OutputDir, hasher, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init filesystem sink: %w", err)
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: storage.provider %q", fetch.ErrConfigMissing, cfg.Storage.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (fetch.Publisher, func(), error) {
	switch cfg.Publish.Provider {
	case "pubsub":
		p, err := publish.NewPubSubPublisher(ctx, cfg.Publish.ProjectID, cfg.Publish.Topic)
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		return p, func() { _ = p.Close() }, nil
	case "none", "":
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: publish.provider %q", fetch.ErrConfigMissing, cfg.Publish.Provider)
	}
}
