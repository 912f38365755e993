package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/listinglab/pagepull/internal/config"
	"github.com/listinglab/pagepull/internal/fetch"
	"github.com/listinglab/pagepull/internal/pages"
)

// newInitCmd creates the 'init' subcommand. It regenerates the fetch
// ledger for a website from its pagination plan or links CSV, marking
// every page unfetched. Running it against an existing ledger discards
// all recorded progress.
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <website>",
		Short: "Build a fresh fetch ledger for a configured website",
		Long: `Expands the website's pagination plan (or links CSV) into the full
list of page URLs and writes them to the ledger with every entry marked
unfetched. Any progress in an existing ledger is discarded.`,
		Args: cobra.ExactArgs(1),
		RunE: runInitCommand,
	}
	return cmd
}

func runInitCommand(cmd *cobra.Command, args []string) error {
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

	tasks, err := buildTasks(site)
	if err != nil {
		return fmt.Errorf("build page list for %q: %w", website, err)
	}

	store, closeStore, err := buildStateStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Initialize(cmd.Context(), tasks); err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}

	logger.Info("ledger initialized",
		zap.String("website", website),
		zap.Int("pages", len(tasks)),
		zap.String("provider", cfg.State.Provider),
	)
	return nil
}

func buildTasks(site config.WebsiteConfig) ([]fetch.PageTask, error) {
	if site.LinksCSV != "" {
		return pages.LoadCSV(site.LinksCSV, site.LinksColumn)
	}
	return pages.Build(pages.Plan{
		BaseURLTemplate: site.BaseURLTemplate,
		FirstURL:        site.FirstURL,
		PageIncrement:   site.PageIncrement,
		LastPageNumber:  site.LastPageNumber,
	})
}
