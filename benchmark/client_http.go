package benchmark

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"go.uber.org/zap"

	"example.com/serverdate/core/client"
)

const (
	histoMinValue = 1
	histoMaxValue = 10_000_000 // us
	histoSigFigs  = 3
)

// RunHTTPBenchmark sends numRequestPerClient probes from each of
// numClientGoroutine concurrent clients and writes the distribution of probe
// round trip times in microseconds to w, one histogram per client. newClient
// is called once per goroutine.
func RunHTTPBenchmark(ctx context.Context, log *zap.Logger, w io.Writer,
	newClient func() *client.HTTPClient, numClientGoroutine, numRequestPerClient int) {
	var mu sync.Mutex
	sg := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(numClientGoroutine)
	for i := numClientGoroutine; i > 0; i-- {
		go func() {
			defer wg.Done()
			hg := hdrhistogram.New(histoMinValue, histoMaxValue, histoSigFigs)
			c := newClient()
			c.Histo = hg

			<-sg
			for j := numRequestPerClient; j > 0; j-- {
				_, err := c.FetchSample(ctx)
				if err != nil {
					log.Info("failed to fetch sample", zap.Error(err))
					if ctx.Err() != nil {
						break
					}
				}
			}
			mu.Lock()
			defer mu.Unlock()
			_, err := hg.PercentilesPrint(w, 1, 1.0)
			if err != nil {
				log.Info("failed to print histogram", zap.Error(err))
			}
		}()
	}
	t0 := time.Now()
	close(sg)
	wg.Wait()
	log.Info("benchmark completed",
		zap.Int("clients", numClientGoroutine),
		zap.Int("requests per client", numRequestPerClient),
		zap.Duration("duration", time.Since(t0)),
	)
}
