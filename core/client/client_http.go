package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"go.uber.org/zap"

	"example.com/serverdate/base/zaplog"

	"example.com/serverdate/core/config"
	"example.com/serverdate/core/measurements"
)

// Format selects where a server reports its time.
type Format int

const (
	// FormatDateHeader reads the standard Date response header.
	FormatDateHeader Format = iota
	// FormatMillis requests "?time=now" and reads Unix milliseconds from the
	// JSON response body.
	FormatMillis
)

const (
	noCacheParam = "noCache"
	timeParam    = "time"
)

func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "date":
		return FormatDateHeader, nil
	case "millis":
		return FormatMillis, nil
	default:
		return 0, fmt.Errorf("unknown sample format: %q", s)
	}
}

func (f Format) String() string {
	switch f {
	case FormatDateHeader:
		return "date"
	case FormatMillis:
		return "millis"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

type HTTPClient struct {
	URL    string
	Method string
	Format Format
	Client *http.Client
	Clock  clockwork.Clock
	Log    *zap.Logger
	Histo  *hdrhistogram.Histogram
}

var _ Sampler = (*HTTPClient)(nil)

func (c *HTTPClient) ServerResolution() time.Duration {
	if c.Format == FormatMillis {
		return 0
	}
	return config.ServerResolution
}

func (c *HTTPClient) method() string {
	switch {
	case c.Method != "":
		return c.Method
	case c.Format == FormatMillis:
		return http.MethodGet
	default:
		return http.MethodHead
	}
}

func (c *HTTPClient) requestURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(noCacheParam, uuid.NewString())
	if c.Format == FormatMillis {
		q.Set(timeParam, "now")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *HTTPClient) FetchSample(ctx context.Context) (measurements.Sample, error) {
	clk := c.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	hc := c.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	log := zaplog.Or(c.Log)

	u, err := c.requestURL()
	if err != nil {
		return measurements.Sample{}, &SampleError{Source: c.URL, Err: err}
	}

	var responseTime time.Time
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			responseTime = clk.Now()
		},
	}
	req, err := http.NewRequestWithContext(
		httptrace.WithClientTrace(ctx, trace), c.method(), u, nil)
	if err != nil {
		return measurements.Sample{}, &SampleError{Source: c.URL, Err: err}
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	requestTime := clk.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return measurements.Sample{}, &SampleError{Source: c.URL, Err: err}
	}
	defer resp.Body.Close()
	if responseTime.IsZero() {
		responseTime = clk.Now()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return measurements.Sample{}, &SampleError{
			Source: c.URL,
			Err:    fmt.Errorf("%w: %s", errUnexpectedStatus, resp.Status),
		}
	}

	var serverTime time.Time
	if c.Format == FormatMillis {
		serverTime, err = c.parseMillis(resp.Body)
	} else {
		serverTime, err = c.parseDateHeader(resp.Header)
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, config.MaxResponseBody))
	}
	if err != nil {
		return measurements.Sample{}, err
	}

	s := measurements.Sample{
		RequestTime:  requestTime,
		ResponseTime: responseTime,
		ServerTime:   serverTime,
	}
	if c.Histo != nil {
		err = c.Histo.RecordValue(s.RoundTrip().Microseconds())
		if err != nil {
			log.Info("failed to record histogram value", zap.Error(err))
		}
	}
	return s, nil
}

func (c *HTTPClient) parseDateHeader(h http.Header) (time.Time, error) {
	v := h.Get("Date")
	if v == "" {
		return time.Time{}, &ParseError{Source: c.URL, Err: errMissingDate}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, &ParseError{Source: c.URL, Value: v, Err: err}
	}
	return t, nil
}

func (c *HTTPClient) parseMillis(body io.Reader) (time.Time, error) {
	b, err := io.ReadAll(io.LimitReader(body, config.MaxResponseBody))
	if err != nil {
		return time.Time{}, &SampleError{Source: c.URL, Err: err}
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return time.Time{}, &ParseError{Source: c.URL, Err: errEmptyBody}
	}
	var ms int64
	err = json.Unmarshal(b, &ms)
	if err != nil {
		return time.Time{}, &ParseError{Source: c.URL, Value: string(b), Err: err}
	}
	return time.UnixMilli(ms), nil
}
