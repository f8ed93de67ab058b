package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.uber.org/zap"

	"example.com/serverdate/base/metrics"
	"example.com/serverdate/base/zaplog"

	"example.com/serverdate/core/measurements"
)

// A Sampler issues a single probe and reports its timing.
type Sampler interface {
	FetchSample(ctx context.Context) (measurements.Sample, error)
}

type SamplerFunc func(ctx context.Context) (measurements.Sample, error)

func (f SamplerFunc) FetchSample(ctx context.Context) (measurements.Sample, error) {
	return f(ctx)
}

// A Resolver reports the granularity at which a sampler's server reports time.
type Resolver interface {
	ServerResolution() time.Duration
}

type sampleMetrics struct {
	samplesCollected prometheus.Counter
	samplesFailed    prometheus.Counter
	samplesInvalid   prometheus.Counter
}

var (
	mtrcs atomic.Pointer[sampleMetrics]
)

func init() {
	mtrcs.Store(newSampleMetrics())
}

func newSampleMetrics() *sampleMetrics {
	return &sampleMetrics{
		samplesCollected: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientSamplesCollectedN,
			Help: metrics.ClientSamplesCollectedH,
		}),
		samplesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientSamplesFailedN,
			Help: metrics.ClientSamplesFailedH,
		}),
		samplesInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientSamplesInvalidN,
			Help: metrics.ClientSamplesInvalidH,
		}),
	}
}

// Collect fetches exactly one sample from s. Errors that are neither a
// *SampleError nor a *ParseError are reported as a *SampleError.
func Collect(ctx context.Context, log *zap.Logger, s Sampler) (
	measurements.Sample, error) {
	m := mtrcs.Load()
	log = zaplog.Or(log)

	sample, err := s.FetchSample(ctx)
	if err == nil {
		err = sample.Validate()
		if err != nil {
			err = &SampleError{Err: err}
		}
	}
	if err != nil {
		var perr *ParseError
		var serr *SampleError
		switch {
		case errors.As(err, &perr):
			m.samplesInvalid.Inc()
		case errors.As(err, &serr):
			m.samplesFailed.Inc()
		default:
			m.samplesFailed.Inc()
			err = &SampleError{Err: err}
		}
		return measurements.Sample{}, err
	}
	m.samplesCollected.Inc()

	log.Debug("collected sample",
		zap.Time("request", sample.RequestTime),
		zap.Time("response", sample.ResponseTime),
		zap.Time("server", sample.ServerTime),
		zap.Duration("rtt", sample.RoundTrip()),
	)
	return sample, nil
}

// ServerResolution returns the reporting granularity of s, or def if s does
// not know it.
func ServerResolution(s Sampler, def time.Duration) time.Duration {
	r, ok := s.(Resolver)
	if !ok {
		return def
	}
	return r.ServerResolution()
}
