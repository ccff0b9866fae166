package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/blackmichael/bluesky-modlists/internal/bluesky"
	"github.com/blackmichael/bluesky-modlists/internal/cache"
	"github.com/blackmichael/bluesky-modlists/internal/config"
	"github.com/blackmichael/bluesky-modlists/internal/domain"
	"github.com/blackmichael/bluesky-modlists/internal/firehose"
	"github.com/blackmichael/bluesky-modlists/internal/metrics"
	"github.com/blackmichael/bluesky-modlists/internal/pipeline"
	"github.com/blackmichael/bluesky-modlists/internal/registry"
	"github.com/spf13/cobra"
)

// usageError marks errors that should exit with status 2.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var uerr usageError
		if errors.As(err, &uerr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "modlistd",
		Short:         "Moderation-list daemon for the Bluesky network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(newRunCmd())
	root.AddCommand(newRemoveUserCmd())
	root.AddCommand(newDeleteListCmd())
	return root
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

func newRunCmd() *cobra.Command {
	var (
		rescanCache   bool
		expireCache   bool
		noExpireCache bool
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume the firehose and maintain the moderation lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			if expireCache && noExpireCache {
				return usageError{errors.New("--expire-cache and --no-expire-cache are mutually exclusive")}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.RescanCache = rescanCache
			cfg.Verbose = verbose
			if noExpireCache {
				cfg.CacheExpire = false
			}

			return runDaemon(cfg)
		},
	}

	cmd.Flags().BoolVar(&rescanCache, "cache", false, "seed the pipeline with every cached DID at startup")
	cmd.Flags().BoolVar(&expireCache, "expire-cache", false, "enable the cache freshness predicate (default)")
	cmd.Flags().BoolVar(&noExpireCache, "no-expire-cache", false, "treat every cached profile as fresh")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func runDaemon(cfg *config.Config) error {
	logger := newLogger(cfg.Verbose)

	creds, err := config.LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		return err
	}

	store, err := cache.Open(cfg.CachePath, cfg.CacheLife, cfg.CacheExpire)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()
	logger.Info("cache opened", "path", cfg.CachePath, "expire", cfg.CacheExpire)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.ImportJSONGz(ctx, cfg.CacheImportPath, logger); err != nil {
		return err
	}

	reg, err := registry.New(cfg.Lists(), logger)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	newWriter := func(ctx context.Context) (domain.ListAPI, error) {
		client := bluesky.NewSessionClient(cfg.PDSHost, creds.ID, creds.Pass, logger)
		if err := client.Login(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
	newReader := func() domain.ProfileAPI {
		return bluesky.NewClient(cfg.PublicAPIHost, logger)
	}

	queues := pipeline.NewQueues()
	pipe := pipeline.New(cfg, store, reg, queues, newWriter, newReader, logger)

	if err := pipe.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, cfg.MetricsAddr, logger)
	}

	ingestor := firehose.NewIngestor(cfg.FirehoseURL, queues.Schedule, logger)
	go func() {
		if err := ingestor.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("firehose ingestor exited with error", "error", err)
		}
	}()

	logger.Info("daemon started",
		"schedulers", cfg.NumSchedulers,
		"resolvers", cfg.NumResolvers,
		"reconcilers", cfg.NumReconcilers,
	)

	pipe.Run(ctx)
	logger.Info("shutdown complete")
	return nil
}

func newRemoveUserCmd() *cobra.Command {
	var (
		user     string
		listName string
	)

	cmd := &cobra.Command{
		Use:   "remove-user",
		Short: "Remove an account from one moderation list",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" || listName == "" {
				return usageError{errors.New("--user and --list are required")}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(false)
			ctx := cmd.Context()

			client, err := login(ctx, cfg, logger)
			if err != nil {
				return err
			}

			profile, err := client.GetProfile(ctx, user)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", user, err)
			}

			uri, err := findListURI(ctx, client, cfg, listName)
			if err != nil {
				return err
			}

			entries, err := client.ListMembers(ctx, uri)
			if err != nil {
				return fmt.Errorf("load members of %s: %w", listName, err)
			}
			for _, entry := range entries {
				if entry.DID == profile.DID {
					if err := client.DeleteMember(ctx, entry.RKey); err != nil {
						return err
					}
					logger.Info("removed user from list", "did", profile.DID, "list", listName)
					return nil
				}
			}
			return fmt.Errorf("%s is not a member of %s", user, listName)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "handle or DID of the account to remove")
	cmd.Flags().StringVar(&listName, "list", "", "list key or published name")
	return cmd
}

func newDeleteListCmd() *cobra.Command {
	var listName string

	cmd := &cobra.Command{
		Use:   "delete-list",
		Short: "Delete a published moderation list",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listName == "" {
				return usageError{errors.New("--list is required")}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(false)
			ctx := cmd.Context()

			client, err := login(ctx, cfg, logger)
			if err != nil {
				return err
			}

			uri, err := findListURI(ctx, client, cfg, listName)
			if err != nil {
				return err
			}
			if err := client.DeleteList(ctx, bluesky.RKeyFromURI(uri)); err != nil {
				return err
			}
			logger.Info("deleted list", "list", listName, "uri", uri)
			return nil
		},
	}

	cmd.Flags().StringVar(&listName, "list", "", "list key or published name")
	return cmd
}

func login(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bluesky.Client, error) {
	creds, err := config.LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	client := bluesky.NewSessionClient(cfg.PDSHost, creds.ID, creds.Pass, logger)
	if err := client.Login(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// findListURI resolves a list key or published name to the remote list URI.
func findListURI(ctx context.Context, client *bluesky.Client, cfg *config.Config, listName string) (string, error) {
	name := listName
	for _, rule := range cfg.Lists() {
		if rule.Key == listName {
			name = rule.Name
			break
		}
	}

	refs, err := client.ListMyLists(ctx)
	if err != nil {
		return "", fmt.Errorf("list published lists: %w", err)
	}
	for _, ref := range refs {
		if ref.Name == name {
			return ref.URI, nil
		}
	}
	return "", fmt.Errorf("list %q not found", listName)
}
