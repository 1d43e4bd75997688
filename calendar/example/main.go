package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cyp0633/librecur/cache"
	"github.com/cyp0633/librecur/calendar"
	"github.com/cyp0633/librecur/export"
	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/feed"
	"github.com/cyp0633/librecur/filter"
	"github.com/cyp0633/librecur/internal/config"
	"github.com/cyp0633/librecur/internal/logging"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
	"github.com/cyp0633/librecur/storage/memory"
	"github.com/cyp0633/librecur/storage/postgres"
	"github.com/cyp0633/librecur/storage/sqlite"
)

type task struct {
	Title    string `json:"title"`
	Priority int    `json:"priority"`
}

var taskFields = expr.Fields[task]{
	"title":    func(t task) any { return t.Title },
	"priority": func(t task) any { return t.Priority },
}

func main() {
	configPath := flag.String("config", "librecur.yaml", "path to the YAML config")
	envFile := flag.String("env", ".env", "path to the .env file")
	days := flag.Int("days", 7, "number of days to print")
	listen := flag.String("listen", "", "serve the feed on this address instead of printing it")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger, *days, *listen); err != nil {
		logger.Fatal("example failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, days int, listen string) error {
	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	zones, err := cfg.Filter.Locations()
	if err != nil {
		return err
	}
	flags, err := cfg.Filter.ParsedFlags()
	if err != nil {
		return err
	}
	factory := filter.NewFactory(taskFields, zones...)

	var c cache.Cache[task]
	if cfg.Cache.Enabled {
		cacheCfg, err := cfg.Cache.Build()
		if err != nil {
			return err
		}
		cacheCfg.Flags = flags
		wc, err := cache.New(store, factory, cacheCfg, logger)
		if err != nil {
			return err
		}
		if err := wc.Start(ctx); err != nil {
			return err
		}
		defer wc.Stop()
		c = wc
	}

	svc, err := calendar.NewService(store, c, factory, calendar.Config{Logger: logger, Flags: flags})
	if err != nil {
		return err
	}

	loc := time.UTC
	if len(zones) > 0 {
		loc = zones[0]
	}
	if err := seed(ctx, svc, loc); err != nil {
		return err
	}

	opts := export.Options[task]{
		Summary:     func(t task) string { return t.Title },
		Description: func(t task) string { return fmt.Sprintf("priority %d", t.Priority) },
	}
	if listen != "" {
		return serve(ctx, listen, feed.NewHandler[task](svc, feed.Config[task]{Days: days, Options: opts, Logger: logger}), logger)
	}

	from := time.Now().Truncate(time.Minute)
	events, err := svc.GetCalculated(ctx, from, from.AddDate(0, 0, days), nil)
	if err != nil {
		return err
	}
	logger.Info("calculated events", zap.Int("count", len(events)), zap.Time("from", from))
	return export.Encode(os.Stdout, export.ICS(events, opts))
}

// serve runs the feed until ctx is cancelled
func serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/calendar.ics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Info("serving feed", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seed adds a weekly standup and a one-off review when the store is empty
func seed(ctx context.Context, svc *calendar.Service[task], loc *time.Location) error {
	now := time.Now().Truncate(time.Minute)
	existing, err := svc.GetCalculated(ctx, now, now.AddDate(0, 0, 1), nil)
	if err != nil || len(existing) > 0 {
		return err
	}

	standup, err := recurrence.NewWeekdayMatch(9*60+30, 15,
		recurrence.NewWeekdaySet(recurrence.Monday, recurrence.Tuesday, recurrence.Wednesday, recurrence.Thursday, recurrence.Friday), loc)
	if err != nil {
		return err
	}
	return svc.Do(ctx, func(s *calendar.Session[task]) error {
		if _, err := s.AddRecurrent(standup, recurrence.Since(now), task{Title: "standup", Priority: 2}); err != nil {
			return err
		}
		review := now.Add(26 * time.Hour)
		_, err := s.AddOneTime(recurrence.MustPeriod(review, review.Add(time.Hour)), task{Title: "design review", Priority: 1})
		return err
	})
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (storage.Store[task], func(), error) {
	switch cfg.Kind {
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.DSN, taskFields, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.New(pool, taskFields, logger), pool.Close, nil
	}
	return memory.New(taskFields), func() {}, nil
}
