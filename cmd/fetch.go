package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/listinglab/pagepull/internal/api"
	"github.com/listinglab/pagepull/internal/clock/system"
	"github.com/listinglab/pagepull/internal/control"
	"github.com/listinglab/pagepull/internal/detector"
	"github.com/listinglab/pagepull/internal/fetch"
	"github.com/listinglab/pagepull/internal/hash/sha256"
	"github.com/listinglab/pagepull/internal/id/uuid"
	"github.com/listinglab/pagepull/internal/metrics"
	"github.com/listinglab/pagepull/internal/orchestrator"
	"github.com/listinglab/pagepull/internal/session"
	"github.com/listinglab/pagepull/internal/worker"
)

// newFetchCmd creates the 'fetch' subcommand. It runs the worker pool
// against the ledger until every page is fetched or the operator stops
// the run.
func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <website>",
		Short: "Fetch all remaining unfetched pages for a website",
		Long: `Reads the unfetched entries from the ledger, partitions them across
the worker pool, and fetches them with retry, backoff, and session
rotation. Interrupting the run is safe; a later invocation resumes from
the ledger.`,
		Args: cobra.ExactArgs(1),
		RunE: runFetchCommand,
	}
	return cmd
}

func runFetchCommand(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	website := args[0]
	site, err := cfg.Site(website)
	if err != nil {
		return err
	}

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStateStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	failures, err := buildFailureStore(cfg)
	if err != nil {
		return err
	}

	fetcher, closeFetcher, err := buildFetcher(cfg)
	if err != nil {
		return err
	}
	defer closeFetcher()

	hasher := sha256.New()
	contentSink, closeSink, err := buildSink(ctx, cfg, hasher, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	gate := control.NewChallengeGate()
	board := control.NewStatusBoard()
	clock := system.New()

	deps := worker.Deps{
		Fetcher:  fetcher,
		Detector: detector.New(detector.Config{
			MinContentBytes:   cfg.Detector.MinContentBytes,
			BlockPhrases:      cfg.Detector.BlockPhrases,
			ChallengePhrases:  cfg.Detector.ChallengePhrases,
			RequiredSelectors: cfg.Detector.RequiredSelectors,
		}),
		State:     store,
		Failures:  failures,
		Sink:      contentSink,
		Publisher: publisher,
		Rotator: session.NewRotator(session.Config{
			UserAgents:     cfg.Fetcher.UserAgents,
			RotateEveryN:   site.RotateEveryNRequests,
			SessionTimeout: site.SessionTimeout,
		}),
		Gate:    gate,
		Board:   board,
		Clock:   clock,
		Backoff: backoffFor(site.MaxRetries),
	}

	if cfg.Server.Enabled {
		startStatusServer(ctx, cfg.Server.Port, board, gate, store, clock, logger)
	}

	orch := orchestrator.New(
		orchestrator.Config{
			Workers:      cfg.Workers,
			PollInterval: cfg.PollInterval,
			GracePeriod:  cfg.GracePeriod,
			Worker: worker.Config{
				Website:          website,
				Topic:            cfg.Publish.Topic,
				MaxRetries:       site.MaxRetries,
				MinDelay:         site.MinDelay,
				MaxDelay:         site.MaxDelay,
				CooldownEvery:    site.CooldownEvery,
				CooldownInterval: site.CooldownInterval,
			},
		},
		store,
		deps,
		&orchestrator.StdinResolver{In: os.Stdin, Out: os.Stderr},
		uuid.NewGenerator(),
		logger,
	)

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run fetch pool: %w", err)
	}
	return nil
}

func backoffFor(maxRetries int) fetch.BackoffPolicy {
	policy := fetch.NewBackoffPolicy()
	if maxRetries > 0 {
		policy.MaxRetries = maxRetries
	}
	return policy
}

// startStatusServer serves /healthz, /v1/status, and /metrics for the
// duration of the run. Failures to serve are logged, never fatal; the
// fetch run does not depend on the observability surface.
func startStatusServer(
	ctx context.Context,
	port int,
	board *control.StatusBoard,
	gate *control.ChallengeGate,
	store fetch.StateStore,
	clock fetch.Clock,
	logger *zap.Logger,
) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewServer(board, gate, store, clock, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
