// Command gitserve runs the Git Smart HTTP server: a cobra command tree
// (serve / repo create) with each flag except --cache-entries and --public
// falling back to an env var when unset.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"gitserve/authz"
	"gitserve/internal/logging"
	"gitserve/metrics"
	"gitserve/notify"
	"gitserve/objectstore"
	"gitserve/repoactor"
	"gitserve/rescache"
	"gitserve/router"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gitserve",
		Short: "Git Smart HTTP server",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newRepoCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var addr, reposDir, dbPath, jwtSecret, logLevel string
	var enableMetrics, enableNotify bool
	var cacheEntries int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Smart HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(serveConfig{
				addr: addr, reposDir: reposDir, dbPath: dbPath, jwtSecret: jwtSecret,
				logLevel: logLevel, enableMetrics: enableMetrics, enableNotify: enableNotify,
				cacheEntries: cacheEntries,
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("GITSERVE_ADDR", ":8080"), "listen address")
	cmd.Flags().StringVar(&reposDir, "repos-dir", envOr("GITSERVE_REPOS_DIR", "./repos"), "bare repository storage root")
	cmd.Flags().StringVar(&dbPath, "db-path", envOr("GITSERVE_DB_PATH", "./gitserve.db"), "SQLite path for the bundled AuthZ store")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", envOr("GITSERVE_JWT_SECRET", "change-me-in-production"), "HMAC secret for issued JWTs")
	cmd.Flags().StringVar(&logLevel, "log-level", envOr("GITSERVE_LOG_LEVEL", "info"), "zerolog level")
	cmd.Flags().BoolVar(&enableMetrics, "metrics", envOr("GITSERVE_METRICS", "true") == "true", "expose /metrics")
	cmd.Flags().BoolVar(&enableNotify, "notify", envOr("GITSERVE_NOTIFY", "true") == "true", "broadcast ref updates over WebSocket")
	cmd.Flags().IntVar(&cacheEntries, "cache-entries", 10000, "ReadAPI ResultCache max entries (0 disables caching)")
	return cmd
}

type serveConfig struct {
	addr, reposDir, dbPath, jwtSecret, logLevel string
	enableMetrics, enableNotify                 bool
	cacheEntries                                int
}

func runServe(cfg serveConfig) error {
	logging.SetLevel(cfg.logLevel)

	az, err := authz.NewSQLiteAuthZ(cfg.dbPath, []byte(cfg.jwtSecret))
	if err != nil {
		return fmt.Errorf("open authz store: %w", err)
	}

	registry := repoactor.NewRegistry(func(owner, repo string) (objectstore.Store, error) {
		return objectstore.NewFS(objectstore.RepoRoot(cfg.reposDir, owner, repo))
	})

	var opts []router.Option
	if cfg.enableMetrics {
		opts = append(opts, router.WithMetrics(metrics.New()))
	}
	if cfg.cacheEntries > 0 {
		opts = append(opts, router.WithResultCache(rescache.New(cfg.cacheEntries, rescache.DefaultTTL)))
	}
	if cfg.enableNotify {
		hub := notify.NewHub()
		go hub.Run()
		opts = append(opts, router.WithNotifyHub(hub))
	}

	srv := router.New(registry, az, opts...)
	logging.L().Info().Str("addr", cfg.addr).Str("repos_dir", cfg.reposDir).Msg("gitserve starting")
	return http.ListenAndServe(cfg.addr, srv.Handler())
}

func newRepoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage repositories in the bundled AuthZ store",
	}
	cmd.AddCommand(newRepoCreateCommand())
	return cmd
}

func newRepoCreateCommand() *cobra.Command {
	var dbPath, jwtSecret string
	var public bool

	cmd := &cobra.Command{
		Use:   "create OWNER/REPO",
		Short: "Register a repository in the bundled AuthZ store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitOwnerRepo(args[0])
			if err != nil {
				return err
			}
			az, err := authz.NewSQLiteAuthZ(dbPath, []byte(jwtSecret))
			if err != nil {
				return err
			}
			return az.RegisterRepo(owner, repo, public)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db-path", envOr("GITSERVE_DB_PATH", "./gitserve.db"), "SQLite path for the bundled AuthZ store")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", envOr("GITSERVE_JWT_SECRET", "change-me-in-production"), "HMAC secret for issued JWTs")
	cmd.Flags().BoolVar(&public, "public", false, "allow anonymous reads")
	return cmd
}

func splitOwnerRepo(arg string) (owner, repo string, err error) {
	owner, repo = filepath.Split(arg)
	owner = filepath.Clean(owner)
	if owner == "." || owner == "" || repo == "" {
		return "", "", fmt.Errorf("expected OWNER/REPO, got %q", arg)
	}
	return owner, repo, nil
}
