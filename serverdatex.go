// Driver for quick experiments

package main

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"go.uber.org/zap"

	"example.com/serverdate/core/client"
	"example.com/serverdate/core/estimate"
	"example.com/serverdate/core/measurements"
	"example.com/serverdate/core/sync"
)

func runX() {
	initLogger(true /* verbose */)

	clk := clockwork.NewRealClock()
	// A server one second behind the local clock, reporting milliseconds.
	s := client.SamplerFunc(func(context.Context) (measurements.Sample, error) {
		t := clk.Now()
		return measurements.Sample{
			RequestTime:  t,
			ResponseTime: t,
			ServerTime:   t.Add(-1 * time.Second),
		}, nil
	})
	sy := sync.NewSynchronizer(log, clk, s, sync.Config{
		Estimator: &estimate.MultiSample{ServerResolution: time.Millisecond, Clock: clk},
	})
	defer sy.Close()

	done := make(chan sync.Result, 1)
	sy.Sync(func(r sync.Result) { done <- r })
	r := <-done
	log.Debug("synchronized", zap.Bool("success", r.Success), zap.Stringer("target", r.Target))

	for _, d := range []sync.Date{sync.DateOf(clk.Now()), sy.Date()} {
		log.Debug("date",
			zap.String("iso", d.ISOString()),
			zap.String("utc", d.UTCString()),
			zap.String("local", d.String()),
			zap.Int("timezone offset", d.TimezoneOffset()),
			zap.Int64("unix ms", d.UnixMilli()),
		)
	}
	log.Debug("precision", zap.Duration("precision", sy.Precision()))
}
