package commands

import (
	"context"
	"errors"

	"github.com/maltedev/yellowpages-scraper/internal/api"
	"github.com/maltedev/yellowpages-scraper/internal/cache"
	"github.com/maltedev/yellowpages-scraper/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves searches over HTTP until interrupted.",
	Long: `Serves searches over HTTP until interrupted.

With DATABASE_URL set, runs are stored and listed. With REDIS_ADDR set,
results are cached. With both, completed runs are published to the
` + database.SearchRunsStream + ` Redis stream.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		var opts []api.Option

		var db *database.DB
		if a.cfg.Database.Enabled() {
			db, err = database.New(ctx, database.Config{
				URL:      a.cfg.Database.URL,
				MaxConns: a.cfg.Database.MaxConns,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(ctx); err != nil {
				return err
			}
			opts = append(opts, api.WithStore(db))
		}

		var rdb *redis.Client
		if a.cfg.Redis.Enabled() {
			rdb, err = cache.Connect(ctx, cache.Config{
				Addr:     a.cfg.Redis.Addr,
				Password: a.cfg.Redis.Password,
				DB:       a.cfg.Redis.DB,
			})
			if err != nil {
				return err
			}
			defer rdb.Close()
			opts = append(opts, api.WithCache(cache.NewWithClient(rdb, a.cfg.Redis.TTL, a.logger)))
		}

		if db != nil && rdb != nil {
			outbox := database.NewOutboxRepository(db)
			opts = append(opts, api.WithOutbox(outbox))

			relay := database.NewRelay(outbox, rdb, a.logger, database.RelayConfig{})
			g.Go(func() error {
				if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}

		handlers := api.NewHandlers(a.searcherFactory(), a.cfg.Server.MaxConcurrentSearches, a.logger, opts...)
		srv := api.NewServer(api.ServerConfig{
			Addr:            a.cfg.Server.Addr,
			ReadTimeout:     a.cfg.Server.ReadTimeout,
			WriteTimeout:    a.cfg.Server.WriteTimeout,
			ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		}, api.NewRouter(handlers), a.logger)

		g.Go(func() error { return srv.Run(ctx) })

		return g.Wait()
	},
}
