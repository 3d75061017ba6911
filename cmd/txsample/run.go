package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/txsample"
	"github.com/peterbourgon/txsample/internal/txsutil"
	"github.com/peterbourgon/txsample/txsarchive"
	"github.com/peterbourgon/txsample/txsharvest"
	"github.com/peterbourgon/txsample/txsweb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type runConfig struct {
	*rootConfig

	httpAddr        string
	maxSamples      int
	developerMode   bool
	stackSkip       int
	harvestInterval time.Duration
	archivePath     string
	jsonPath        string
	workers         int
	workInterval    time.Duration
	workScale       time.Duration
	faultRate       float64
	statsInterval   time.Duration
}

func (cfg *runConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "http-addr" /*        */, Value: ffval.NewValueDefault(&cfg.httpAddr, "localhost:8080") /*       */, Usage: "diagnostics HTTP listen address"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "max-samples" /*      */, Value: ffval.NewValueDefault(&cfg.maxSamples, 100) /*                  */, Usage: "recent samples retained in developer mode, 1 to 10000"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'd', LongName: "developer" /*        */, Value: ffval.NewValue(&cfg.developerMode) /*                          */, Usage: "enable developer mode: backtraces and recent samples", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "stack-skip" /*       */, Value: ffval.NewValueDefault(&cfg.stackSkip, 0) /*                     */, Usage: "backtrace frames to skip above the sampler, 0 for the default, negative for none"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "harvest-interval" /* */, Value: ffval.NewValueDefault(&cfg.harvestInterval, time.Minute) /*       */, Usage: "interval between slowest-trace harvests"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "archive" /*          */, Value: ffval.NewValue(&cfg.archivePath) /*                            */, Usage: "SQLite archive of harvested traces (optional)", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "json-output" /*      */, Value: ffval.NewValue(&cfg.jsonPath) /*                               */, Usage: "append harvested traces as JSON lines to this file, - for stdout (optional)", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'w', LongName: "workers" /*          */, Value: ffval.NewValueDefault(&cfg.workers, 4) /*                       */, Usage: "synthetic workload goroutines, 0 to disable"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "work-interval" /*    */, Value: ffval.NewValueDefault(&cfg.workInterval, 100*time.Millisecond) /* */, Usage: "pause between synthetic transactions"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "work-scale" /*       */, Value: ffval.NewValueDefault(&cfg.workScale, time.Millisecond) /*      */, Usage: "time unit of synthetic operation costs"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "fault-rate" /*       */, Value: ffval.NewValueDefault(&cfg.faultRate, 0.01) /*                 */, Usage: "fraction of synthetic transactions with unbalanced instrumentation"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "stats-interval" /*   */, Value: ffval.NewValueDefault(&cfg.statsInterval, 30*time.Second) /*    */, Usage: "interval between sampler stats log entries"})
}

func (cfg *runConfig) Exec(ctx context.Context, args []string) error {
	logger := cfg.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sampler := txsample.NewSampler(txsample.Config{
		MaxSamples:    cfg.maxSamples,
		DeveloperMode: cfg.developerMode,
		StackSkip:     cfg.stackSkip,
		Logger:        logger,
		Registerer:    registry,
	})

	logger.Info("sampler",
		zap.Bool("developer_mode", cfg.developerMode),
		zap.Int("max_samples", sampler.Stats().MaxSamples),
	)

	reporters := txsharvest.MultiReporter{
		&txsharvest.LogReporter{Logger: logger.Named("slowest")},
	}

	webConfig := txsweb.Config{
		Sampler:  sampler,
		Gatherer: registry,
		Logger:   logger,
	}

	if cfg.archivePath != "" {
		store, err := txsarchive.Open(ctx, cfg.archivePath)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer store.Close()

		logger.Info("archive", zap.String("path", cfg.archivePath))
		reporters = append(reporters, store)
		webConfig.Archive = store
	}

	if cfg.jsonPath != "" {
		w, closer, err := openOutput(cfg.jsonPath, cfg.stdout)
		if err != nil {
			return fmt.Errorf("open JSON output: %w", err)
		}
		defer closer.Close()

		reporters = append(reporters, txsharvest.NewJSONReporter(w))
	}

	harvester, err := txsharvest.NewHarvester(txsharvest.HarvesterConfig{
		Source:   sampler,
		Reporter: reporters,
		Interval: cfg.harvestInterval,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create harvester: %w", err)
	}

	work := &workload{
		sampler:   sampler,
		logger:    logger.Named("workload"),
		interval:  cfg.workInterval,
		scale:     cfg.workScale,
		faultRate: cfg.faultRate,
	}

	mux := http.NewServeMux()
	mux.Handle("/", txsweb.NewHandler(webConfig))
	mux.Handle("/work/", txsweb.Middleware(sampler, txsweb.CategorizeByPath, logger)(work))

	var g run.Group

	{
		ln, err := net.Listen("tcp", cfg.httpAddr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		server := &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			logger.Info("serving diagnostics", zap.String("addr", ln.Addr().String()))
			return server.Serve(ln)
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return harvester.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	if cfg.workers > 0 {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			logger.Info("starting workload", zap.Int("workers", cfg.workers))
			return work.Run(ctx, cfg.workers)
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return logStats(ctx, sampler, cfg.statsInterval, logger)
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	err = g.Run()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func logStats(ctx context.Context, sampler *txsample.Sampler, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := sampler.Stats()
			logger.Info("sampler stats",
				zap.Int("active_builders", stats.ActiveBuilders),
				zap.Int("samples", stats.Samples),
				zap.String("slowest", txsutil.HumanizeDuration(stats.Slowest)),
			)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openOutput(path string, stdout io.Writer) (io.Writer, io.Closer, error) {
	if path == "-" {
		return stdout, nopCloser{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}
