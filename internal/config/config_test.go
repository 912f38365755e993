package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/listinglab/pagepull/internal/fetch"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagepull.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
websites:
  hepsiemlak:
    base_url_template: "https://example.com/satilik?page={page_number}"
    first_url: "https://example.com/satilik"
    last_page_number: 50
`

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Equal(t, "http", cfg.Fetcher.Mode)
	require.Equal(t, "file", cfg.State.Provider)
	require.Equal(t, "fs", cfg.Storage.Provider)
	require.Equal(t, "none", cfg.Publish.Provider)
	require.True(t, cfg.Server.Enabled)
	require.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_ReadsWebsiteSettings(t *testing.T) {
	path := writeConfig(t, `
workers: 2
fetcher:
  mode: headless
  nav_timeout: 30s
websites:
  hepsiemlak:
    base_url_template: "https://example.com/satilik?page={page_number}"
    last_page_number: 120
    page_increment: 1
    max_retries: 5
    min_delay: 2s
    max_delay: 6s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, "headless", cfg.Fetcher.Mode)
	require.Equal(t, 30*time.Second, cfg.Fetcher.NavTimeout)

	site, err := cfg.Site("hepsiemlak")
	require.NoError(t, err)
	require.Equal(t, 120, site.LastPageNumber)
	require.Equal(t, 5, site.MaxRetries)
	require.Equal(t, 2*time.Second, site.MinDelay)
	require.Equal(t, 6*time.Second, site.MaxDelay)
}

func TestLoad_MissingWebsitesIsFatal(t *testing.T) {
	path := writeConfig(t, "workers: 2\n")
	_, err := Load(path)
	require.ErrorIs(t, err, fetch.ErrConfigMissing)
}

func TestLoad_InvalidFetcherMode(t *testing.T) {
	path := writeConfig(t, `
fetcher:
  mode: carrier-pigeon
`+minimalConfig)
	_, err := Load(path)
	require.ErrorIs(t, err, fetch.ErrConfigMissing)
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	path := writeConfig(t, `
state:
  provider: postgres
`+minimalConfig)
	_, err := Load(path)
	require.ErrorIs(t, err, fetch.ErrConfigMissing)
}

func TestLoad_GCSRequiresBucket(t *testing.T) {
	path := writeConfig(t, `
storage:
  provider: gcs
`+minimalConfig)
	_, err := Load(path)
	require.ErrorIs(t, err, fetch.ErrConfigMissing)
}

func TestLoad_PubSubRequiresProjectAndTopic(t *testing.T) {
	path := writeConfig(t, `
publish:
  provider: pubsub
  topic: pages
`+minimalConfig)
	_, err := Load(path)
	require.ErrorIs(t, err, fetch.ErrConfigMissing)
}

func TestLoad_WebsiteWithoutPaginationOrCSV(t *testing.T) {
	path := writeConfig(t, `
websites:
  broken: {}
`)
	_, err := Load(path)
	require.ErrorIs(t, err, fetch.ErrConfigMissing)
}

func TestSite_AppliesPerSiteDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	site, err := cfg.Site("hepsiemlak")
	require.NoError(t, err)
	require.Equal(t, 3, site.MaxRetries)
	require.Equal(t, time.Second, site.MinDelay)
	require.Equal(t, 5*time.Second, site.MaxDelay)
	require.Equal(t, 10, site.CooldownEvery)
	require.Equal(t, 3*time.Minute, site.CooldownInterval)
	require.Equal(t, 35, site.RotateEveryNRequests)
	require.Equal(t, "@id", site.LinksColumn)
}

func TestSite_UnknownWebsite(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.Site("nope")
	require.ErrorIs(t, err, fetch.ErrConfigMissing)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("PAGEPULL_WORKERS", "9")
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Workers)
}
