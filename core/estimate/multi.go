package estimate

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"go.uber.org/zap"

	"example.com/serverdate/base/zaplog"

	"example.com/serverdate/core/client"
	"example.com/serverdate/core/config"
	"example.com/serverdate/core/measurements"
)

// MultiSample issues a fixed number of sequential probes and keeps the one
// with the lowest uncertainty. A zero ServerResolution is taken from the
// sampler if it reports one.
type MultiSample struct {
	Samples          int
	ServerResolution time.Duration
	Strict           bool
	Clock            clockwork.Clock
}

var _ Estimator = (*MultiSample)(nil)

func (e *MultiSample) Estimate(ctx context.Context, log *zap.Logger, s client.Sampler) (
	measurements.Estimate, error) {
	log = zaplog.Or(log)
	clk := clockOrReal(e.Clock)
	n := e.Samples
	if n <= 0 {
		n = config.SamplesPerSync
	}
	penalty := serverResolution(e.ServerResolution, s) / 2

	var best measurements.Estimate
	var found bool
	var lastErr error
	for i := range n {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		sample, err := client.Collect(ctx, log, s)
		if err != nil {
			lastErr = err
			log.Info("failed to collect sample", zap.Int("index", i), zap.Error(err))
			continue
		}
		m := fromSample(sample, penalty)
		if !found || m.Uncertainty < best.Uncertainty {
			best = m
			found = true
		}
	}

	if !found {
		log.Info("no usable samples", zap.Int("samples", n), zap.Error(lastErr))
		if e.Strict {
			return measurements.FailedEstimate(clk.Now()),
				fmt.Errorf("%w: %w", ErrNoSamples, lastErr)
		}
		return measurements.FailedEstimate(clk.Now()), nil
	}

	log.Debug("estimated server time",
		zap.Time("date", best.Date),
		zap.Duration("offset", best.Offset),
		zap.Duration("uncertainty", best.Uncertainty),
	)
	return best, nil
}
