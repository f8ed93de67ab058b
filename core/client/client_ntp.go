package client

import (
	"context"
	"time"

	"github.com/beevik/ntp"
	"github.com/jonboulle/clockwork"

	"example.com/serverdate/core/measurements"
)

const ntpDefaultTimeout = 5 * time.Second

// NTPClient samples the transmit timestamp of an NTP server. Only the timing
// of the exchange is used, as for an HTTP probe.
type NTPClient struct {
	Server  string
	Timeout time.Duration
	Clock   clockwork.Clock
}

var _ Sampler = (*NTPClient)(nil)

func (c *NTPClient) ServerResolution() time.Duration {
	return 0
}

func (c *NTPClient) FetchSample(ctx context.Context) (measurements.Sample, error) {
	clk := c.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	err := ctx.Err()
	if err != nil {
		return measurements.Sample{}, &SampleError{Source: c.Server, Err: err}
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = ntpDefaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, deadline.Sub(clk.Now()))
		if timeout <= 0 {
			return measurements.Sample{}, &SampleError{Source: c.Server, Err: context.DeadlineExceeded}
		}
	}

	requestTime := clk.Now()
	resp, err := ntp.QueryWithOptions(c.Server, ntp.QueryOptions{Timeout: timeout})
	responseTime := clk.Now()
	if err != nil {
		return measurements.Sample{}, &SampleError{Source: c.Server, Err: err}
	}
	err = resp.Validate()
	if err != nil {
		return measurements.Sample{}, &ParseError{Source: c.Server, Err: err}
	}

	return measurements.Sample{
		RequestTime:  requestTime,
		ResponseTime: responseTime,
		ServerTime:   resp.Time,
	}, nil
}
