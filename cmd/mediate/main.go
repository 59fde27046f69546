// Command mediate runs an order-processing demo on top of the mediator.
//
// It places orders through the request pipeline, stores them in SQLite
// inside a unit of work and delivers the resulting OrderPlaced events in
// the background. Failing deliveries are retried and dead-lettered as
// configured.
//
// Usage:
//
//	mediate [--config settings.yaml] [--orders 20] [--fail-every 7] [--metrics-addr :9090]
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/randalmurphal/mediate/pkg/mediate"
	"github.com/randalmurphal/mediate/pkg/mediate/behavior"
	"github.com/randalmurphal/mediate/pkg/mediate/config"
	"github.com/randalmurphal/mediate/pkg/mediate/deadletter"
	"github.com/randalmurphal/mediate/pkg/mediate/listener"
	"github.com/randalmurphal/mediate/pkg/mediate/observability"
	"github.com/randalmurphal/mediate/pkg/mediate/publish"
	"github.com/randalmurphal/mediate/pkg/mediate/queue"
	"github.com/randalmurphal/mediate/pkg/mediate/uow"

	_ "modernc.org/sqlite"
)

type options struct {
	configPath  string
	orders      int
	failEvery   int64
	dbPath      string
	metricsAddr string
	verbose     bool
}

func main() {
	var opts options
	fs := flag.NewFlagSet("mediate", flag.ExitOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "settings file (yaml or json)")
	fs.IntVarP(&opts.orders, "orders", "n", 20, "number of orders to place")
	fs.Int64Var(&opts.failEvery, "fail-every", 7, "fail notification of every n-th order (0 disables)")
	fs.StringVar(&opts.dbPath, "db", "file:orders.db", "SQLite database for orders")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	_ = fs.Parse(os.Args[1:])

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(opts, logger); err != nil {
		logger.Error("mediate failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options, logger *slog.Logger) error {
	settings, err := config.LoadSettings(opts.configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	recorder, err := observability.NewPrometheusRecorder(promReg)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, promReg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	db, err := sql.Open("sqlite", opts.dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if err := migrate(ctx, db); err != nil {
		return err
	}

	strategy, err := publish.New(settings.Publish.Strategy, settings.Publish.MaxConcurrency)
	if err != nil {
		return err
	}

	reg := mediate.NewRegistry()
	reg.Use(
		behavior.Exceptions(),
		behavior.Logging(),
		behavior.Tracing(nil),
		behavior.Metrics(recorder),
	)
	registerOrders(reg, opts.failEvery)
	d := reg.Build(
		mediate.WithLogger(logger),
		mediate.WithMetrics(recorder),
		mediate.WithScopeFactory(uow.Factory(db, nil)),
		mediate.WithPublishStrategy(strategy),
	)

	mode, err := queue.ParseFullMode(settings.Queue.FullMode)
	if err != nil {
		return err
	}
	q, err := mediate.NewEventQueue(queue.Config{Capacity: settings.Queue.Capacity, FullMode: mode})
	if err != nil {
		return err
	}

	dl, err := deadletter.Open(settings.DeadLetter)
	if err != nil {
		return err
	}
	if c, ok := dl.(io.Closer); ok {
		defer c.Close()
	}

	lcfg, err := listener.ConfigFrom(settings.Listener)
	if err != nil {
		return err
	}
	l := listener.New(d, q, dl, lcfg, listener.WithLogger(logger))
	l.Start(ctx)
	defer l.Stop()

	for i := range opts.orders {
		req := PlaceOrder{Customer: fmt.Sprintf("customer-%02d", i%5), Amount: float64(10 + i)}
		evt, err := mediate.Send[PlaceOrder, OrderPlaced](ctx, d, req)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("order rejected", "error", err)
			continue
		}
		if err := q.Enqueue(ctx, evt); err != nil {
			if errors.Is(err, queue.ErrFull) {
				logger.Warn("event queue full, event not published", "event_id", evt.EventID())
				continue
			}
			break
		}
	}

	waitDrained(ctx, q, l)
	l.Stop()

	stats := l.Stats()
	logger.Info("done",
		"delivered", stats.Delivered,
		"retried", stats.Retried,
		"dead_lettered", stats.DeadLettered,
		"dropped", stats.Dropped,
		"pending", q.Len())
	return nil
}

// waitDrained returns once the queue has been empty with the listener
// idle for two consecutive ticks, or ctx is done.
func waitDrained(ctx context.Context, q *mediate.EventQueue, l *listener.Listener) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	quiet := 0
	for {
		if q.Len() == 0 && l.State() == listener.Idle {
			quiet++
		} else {
			quiet = 0
		}
		if quiet >= 2 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
