package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"contest-rating-service/internal/app"
	"contest-rating-service/internal/config"
	"contest-rating-service/internal/infra/memory"
	"contest-rating-service/internal/infra/postgres"
	infraredis "contest-rating-service/internal/infra/redis"
)

// runtime is the wired service plus whatever must be closed on shutdown.
type runtime struct {
	service *app.Service
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildRuntime picks Postgres or the in-memory store and Redis or in-process caching
// depending on what the config provides.
func buildRuntime(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{}

	var (
		store  app.Store
		loader app.SnapshotLoader
	)
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return nil, err
		}
		db := openBun(cfg.Postgres.URL)
		rt.closers = append(rt.closers, func() { _ = db.Close() })

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect postgres pool: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)

		store = postgres.NewStore(db)
		loader = postgres.NewSnapshotLoader(pool)
	} else {
		logger.Warn().Msg("postgres not configured, using in-memory store")
		mem := memory.NewStore()
		store, loader = mem, mem
	}

	boardTTL := config.TTLDuration(cfg.Leaderboard.TTL, 30*time.Second)
	var (
		standings app.LeaderboardCache
		hubs      app.HubRegistry
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		standings = infraredis.NewLeaderboardCache(client, loader, boardTTL)
		hubs = infraredis.NewHubRegistry(client, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		standings = memory.NewLeaderboardCache(loader, boardTTL)
		hubs = memory.NewHubRegistry()
	}

	rt.service = app.NewService(app.Deps{
		Store:     store,
		Standings: standings,
		Hubs:      hubs,
		Engine:    cfg.Rating,
		Validate:  validator.New(validator.WithRequiredStructEnabled()),
		Logger:    logger,
	})
	return rt, nil
}
