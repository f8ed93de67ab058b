package estimate

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"go.uber.org/zap"

	"example.com/serverdate/base/timemath"
	"example.com/serverdate/base/zaplog"

	"example.com/serverdate/core/client"
	"example.com/serverdate/core/config"
	"example.com/serverdate/core/measurements"
)

// TickBoundary polls a server that reports whole seconds until its reported
// second advances between two consecutive samples. The advance happened
// between the request of the earlier sample and the response of the later
// one, which bounds the offset far tighter than a single sample can.
type TickBoundary struct {
	PollInterval     time.Duration
	Timeout          time.Duration
	MaxSamples       int
	ServerResolution time.Duration
	Strict           bool
	Clock            clockwork.Clock
}

var _ Estimator = (*TickBoundary)(nil)

func (e *TickBoundary) params() (poll, timeout time.Duration, n int) {
	poll, timeout, n = e.PollInterval, e.Timeout, e.MaxSamples
	if poll <= 0 {
		poll = config.PollInterval
	}
	if timeout <= 0 {
		timeout = config.TickTimeout
	}
	if n <= 0 {
		n = config.TickSamples
	}
	return
}

func tickEstimate(before, after measurements.Sample) measurements.Estimate {
	window := before.RequestTime.Sub(after.ResponseTime)
	return measurements.Estimate{
		Date:        after.ServerTime,
		Offset:      after.ServerTime.Sub(after.ResponseTime),
		Uncertainty: timemath.Abs(window) / 2,
	}
}

func (e *TickBoundary) Estimate(ctx context.Context, log *zap.Logger, s client.Sampler) (
	measurements.Estimate, error) {
	log = zaplog.Or(log)
	clk := clockOrReal(e.Clock)
	poll, timeout, n := e.params()

	var prev measurements.Sample
	var havePrev bool
	var lastErr error
	start := clk.Now()
loop:
	for i := range n {
		if i != 0 {
			if clk.Since(start) >= timeout {
				break
			}
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break loop
			case <-clk.After(poll):
			}
		}
		sample, err := client.Collect(ctx, log, s)
		if err != nil {
			lastErr = err
			log.Info("failed to collect sample", zap.Int("index", i), zap.Error(err))
			continue
		}
		if havePrev && prev.ServerTime.Unix() != sample.ServerTime.Unix() {
			m := tickEstimate(prev, sample)
			log.Debug("captured tick",
				zap.Int("index", i),
				zap.Time("date", m.Date),
				zap.Duration("offset", m.Offset),
				zap.Duration("uncertainty", m.Uncertainty),
			)
			return m, nil
		}
		prev, havePrev = sample, true
	}

	if !havePrev {
		log.Info("no usable samples", zap.Error(lastErr))
		if e.Strict {
			return measurements.FailedEstimate(clk.Now()),
				fmt.Errorf("%w: %w", ErrNoSamples, lastErr)
		}
		return measurements.FailedEstimate(clk.Now()), nil
	}

	penalty := serverResolution(e.ServerResolution, s) / 2
	m := fromSample(prev, penalty)
	log.Info("no tick captured, falling back to last sample",
		zap.Duration("elapsed", clk.Since(start)),
		zap.Duration("offset", m.Offset),
		zap.Duration("uncertainty", m.Uncertainty),
	)
	if e.Strict {
		return m, ErrNoTick
	}
	return m, nil
}
