package main

import (
	"context"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/txsample"
	"github.com/peterbourgon/txsample/txsweb"
	"go.uber.org/zap"
)

type streamConfig struct {
	*clientConfig

	recvBuf       int
	retryInterval time.Duration
}

func (cfg *streamConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "recv-buffer" /*    */, Value: ffval.NewValueDefault(&cfg.recvBuf, 100) /*                 */, Usage: "local receive buffer size"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "retry-interval" /* */, Value: ffval.NewValueDefault(&cfg.retryInterval, 1*time.Second) /* */, Usage: "connection retry interval"})
}

func (cfg *streamConfig) Exec(ctx context.Context, args []string) error {
	client, err := cfg.newClient()
	if err != nil {
		return err
	}

	traces := make(chan txsweb.RemoteTrace, cfg.recvBuf)

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			cfg.logger.Debug("streaming", zap.String("uri", cfg.uri))
			return client.Stream(ctx, cfg.query(0), cfg.retryInterval, traces, func(stats txsample.StreamStats) {
				cfg.logger.Debug("stream stats", zap.Stringer("stats", stats))
			})
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			enc := cfg.newEncoder(cfg.stdout)
			for {
				select {
				case tr := <-traces:
					if err := cfg.write(enc, tr); err != nil {
						return err
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	return g.Run()
}
