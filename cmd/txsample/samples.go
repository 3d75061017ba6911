package main

import (
	"context"
	"fmt"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"go.uber.org/zap"
)

type samplesConfig struct {
	*clientConfig

	limit int
}

func (cfg *samplesConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName: 'n',
		LongName:  "limit",
		Value:     ffval.NewValueDefault(&cfg.limit, 10),
		Usage:     "maximum number of traces, newest first",
	})
}

func (cfg *samplesConfig) Exec(ctx context.Context, args []string) error {
	client, err := cfg.newClient()
	if err != nil {
		return err
	}

	res, err := client.Samples(ctx, cfg.query(cfg.limit))
	if err != nil {
		return fmt.Errorf("fetch samples: %w", err)
	}

	cfg.logger.Debug("samples",
		zap.String("uri", cfg.uri),
		zap.Int("total", res.Total),
		zap.Int("matched", res.Matched),
		zap.Int("returned", len(res.Samples)),
	)

	enc := cfg.newEncoder(cfg.stdout)
	for _, tr := range res.Samples {
		if err := cfg.write(enc, tr); err != nil {
			return err
		}
	}

	return nil
}
