// Package estimate derives the offset between the local clock and a server
// clock from a sequence of probes.
package estimate

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"go.uber.org/zap"

	"example.com/serverdate/core/client"
	"example.com/serverdate/core/config"
	"example.com/serverdate/core/measurements"
)

var (
	// ErrNoSamples is returned in strict mode when every probe failed.
	ErrNoSamples = errors.New("no usable samples")
	// ErrNoTick is returned in strict mode when no tick of the server clock
	// was observed. The fallback estimate is returned along with it.
	ErrNoTick = errors.New("no tick captured")
)

type Estimator interface {
	Estimate(ctx context.Context, log *zap.Logger, s client.Sampler) (
		measurements.Estimate, error)
}

func clockOrReal(clk clockwork.Clock) clockwork.Clock {
	if clk == nil {
		return clockwork.NewRealClock()
	}
	return clk
}

func serverResolution(res time.Duration, s client.Sampler) time.Duration {
	if res != 0 {
		return res
	}
	return client.ServerResolution(s, config.ServerResolution)
}

// fromSample biases the server time towards the middle of the server's
// reporting window and bounds the result by half the round trip.
func fromSample(s measurements.Sample, penalty time.Duration) measurements.Estimate {
	date := s.ServerTime.Add(penalty)
	return measurements.Estimate{
		Date:        date,
		Offset:      date.Sub(s.ResponseTime),
		Uncertainty: s.RoundTrip()/2 + penalty,
	}
}
