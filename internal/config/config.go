package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/blackmichael/bluesky-modlists/internal/domain"
)

// Config holds all configuration for the daemon.
type Config struct {
	// NumSchedulers is the size of the scheduler worker pool.
	NumSchedulers int

	// NumResolvers is the size of the resolver worker pool.
	NumResolvers int

	// NumReconcilers is the size of the reconciler worker pool.
	NumReconcilers int

	// CacheLife is how long a cached profile may substitute for a remote
	// fetch.
	CacheLife time.Duration

	// CacheExpire enables the freshness predicate. When false every cached
	// profile is treated as fresh.
	CacheExpire bool

	// CachePath is the SQLite cache file.
	CachePath string

	// CacheImportPath is an optional gzipped JSON snapshot upserted once on
	// startup if the file exists.
	CacheImportPath string

	// RescanCache seeds the schedule queue with every cached DID at startup.
	RescanCache bool

	// CompactionWatermark is the query-queue depth above which compaction
	// de-duplicates the queue.
	CompactionWatermark int

	// FirehoseURL is the Jetstream WebSocket endpoint.
	FirehoseURL string

	// PDSHost serves authenticated XRPC calls (writes and session auth).
	PDSHost string

	// PublicAPIHost serves anonymous XRPC reads.
	PublicAPIHost string

	// CredentialsPath is the YAML credentials file.
	CredentialsPath string

	// WordsDir is the directory holding the word-list and exception files.
	WordsDir string

	// MetricsAddr, if non-empty, serves Prometheus metrics on this address.
	MetricsAddr string

	// Verbose lowers the log level to debug.
	Verbose bool

	// DefaultHandleSuffix marks accounts that never verified a custom
	// domain, for the unverified follow-count lists.
	DefaultHandleSuffix string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		NumSchedulers:       2,
		NumResolvers:        40,
		NumReconcilers:      20,
		CacheLife:           time.Hour,
		CacheExpire:         true,
		CachePath:           "cache.db",
		CacheImportPath:     "cache.json.gz",
		CompactionWatermark: 10_530_000,
		FirehoseURL:         "wss://jetstream1.us-east.bsky.network/subscribe",
		PDSHost:             "https://bsky.social",
		PublicAPIHost:       "https://public.api.bsky.app",
		CredentialsPath:     "creds.yml",
		WordsDir:            ".",
		DefaultHandleSuffix: ".bsky.social",
	}

	for _, v := range []struct {
		env string
		dst *int
	}{
		{"MODLISTD_NUM_SCHEDULERS", &cfg.NumSchedulers},
		{"MODLISTD_NUM_RESOLVERS", &cfg.NumResolvers},
		{"MODLISTD_NUM_RECONCILERS", &cfg.NumReconcilers},
		{"MODLISTD_COMPACT_WATERMARK", &cfg.CompactionWatermark},
	} {
		if s := os.Getenv(v.env); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid %s: %q", v.env, s)
			}
			*v.dst = n
		}
	}

	if s := os.Getenv("MODLISTD_CACHE_HOURS"); s != "" {
		hours, err := strconv.ParseFloat(s, 64)
		if err != nil || hours <= 0 {
			return nil, fmt.Errorf("invalid MODLISTD_CACHE_HOURS: %q", s)
		}
		cfg.CacheLife = time.Duration(hours * float64(time.Hour))
	}

	for _, v := range []struct {
		env string
		dst *string
	}{
		{"MODLISTD_CACHE_PATH", &cfg.CachePath},
		{"MODLISTD_CACHE_IMPORT", &cfg.CacheImportPath},
		{"MODLISTD_FIREHOSE_URL", &cfg.FirehoseURL},
		{"MODLISTD_PDS_HOST", &cfg.PDSHost},
		{"MODLISTD_PUBLIC_API_HOST", &cfg.PublicAPIHost},
		{"MODLISTD_CREDENTIALS", &cfg.CredentialsPath},
		{"MODLISTD_WORDS_DIR", &cfg.WordsDir},
		{"MODLISTD_METRICS_ADDR", &cfg.MetricsAddr},
	} {
		if s := os.Getenv(v.env); s != "" {
			*v.dst = s
		}
	}

	return cfg, nil
}

// Lists returns the moderation lists this deployment maintains, with
// follow-count thresholds in ascending order.
func (c *Config) Lists() []domain.ListRule {
	words := func(name string) string { return c.WordsDir + "/" + name }
	return []domain.ListRule{
		{Key: "over5k", Name: "Follows Over 5k", Description: "Accounts following more than 5,000 others.", Kind: domain.RuleFollows, Threshold: 5_000, ExceptionsFile: words("over5k_exceptions.txt")},
		{Key: "over7k", Name: "Follows Over 7k", Description: "Accounts following more than 7,000 others.", Kind: domain.RuleFollows, Threshold: 7_000},
		{Key: "over10k", Name: "Follows Over 10k", Description: "Accounts following more than 10,000 others.", Kind: domain.RuleFollows, Threshold: 10_000},
		{Key: "over15k", Name: "Follows Over 15k", Description: "Accounts following more than 15,000 others.", Kind: domain.RuleFollows, Threshold: 15_000},
		{Key: "over20k", Name: "Follows Over 20k", Description: "Accounts following more than 20,000 others.", Kind: domain.RuleFollows, Threshold: 20_000},
		{Key: "unverified5k", Name: "Unverified Follows Over 5k", Description: "Default-handle accounts following more than 5,000 others.", Kind: domain.RuleFollowsUnverified, Threshold: 5_000},
		{Key: "unverified10k", Name: "Unverified Follows Over 10k", Description: "Default-handle accounts following more than 10,000 others.", Kind: domain.RuleFollowsUnverified, Threshold: 10_000},
		{Key: "followersover100k", Name: "Followers Over 100k", Description: "Accounts with more than 100,000 followers.", Kind: domain.RuleFollowers, Threshold: 100_000},
		{Key: "mw", Name: "MAGA Words", Description: "Accounts whose profile matches the MAGA word list.", Kind: domain.RuleWords, WordsFile: words("maga_words.txt"), ExceptionsFile: words("mw_exceptions.txt")},
		{Key: "hate", Name: "Hate Words", Description: "Accounts whose profile matches the hate word list.", Kind: domain.RuleWords, WordsFile: words("hate_words.txt")},
		{Key: "porn", Name: "Porn Words", Description: "Accounts whose profile matches the porn word list.", Kind: domain.RuleWords, WordsFile: words("porn_words.txt")},
	}
}
