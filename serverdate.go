// Server clock estimation service

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/serverdate/base/timemath"
	"example.com/serverdate/base/zaplog"

	"example.com/serverdate/benchmark"

	"example.com/serverdate/core/client"
	"example.com/serverdate/core/config"
	"example.com/serverdate/core/estimate"
	"example.com/serverdate/core/measurements"
	"example.com/serverdate/core/server"
	"example.com/serverdate/core/sync"
)

const (
	estimatorModeMulti = "multi"
	estimatorModeTick  = "tick"

	defaultMonitorAddr = "127.0.0.1:8080"

	defaultBenchmarkGoroutines = 1
	defaultBenchmarkRequests   = 1000
)

type svcConfig struct {
	LocalAddr             string  `toml:"local_address,omitempty"`
	RemoteURL             string  `toml:"remote_url,omitempty"`
	Format                string  `toml:"format,omitempty"`
	Method                string  `toml:"method,omitempty"`
	HTTP3                 bool    `toml:"http3,omitempty"`
	NTPServer             string  `toml:"ntp_server,omitempty"`
	Estimator             string  `toml:"estimator,omitempty"`
	Samples               int     `toml:"samples,omitempty"`
	ServerResolution      string  `toml:"server_resolution,omitempty"`
	PollInterval          string  `toml:"poll_interval,omitempty"`
	TickTimeout           string  `toml:"tick_timeout,omitempty"`
	SyncTimeout           string  `toml:"sync_timeout,omitempty"`
	SyncInterval          string  `toml:"sync_interval,omitempty"`
	AmortizationRate      string  `toml:"amortization_rate,omitempty"`
	AmortizationThreshold string  `toml:"amortization_threshold,omitempty"`
	IntervalChangeRate    float64 `toml:"interval_change_rate,omitempty"`
	ReusePort             bool    `toml:"reuse_port,omitempty"`
	MonitorAddr           string  `toml:"monitor_address,omitempty"`
	BenchmarkRequests     int     `toml:"benchmark_requests,omitempty"`
	BenchmarkGoroutines   int     `toml:"benchmark_goroutines,omitempty"`
}

type toolResult struct {
	Date        string  `json:"date"`
	UnixMilli   int64   `json:"unix_ms"`
	Offset      float64 `json:"offset_ms"`
	Uncertainty float64 `json:"uncertainty_ms,omitempty"`
	Failed      bool    `json:"failed,omitempty"`
}

var (
	log *zap.Logger

	errNoRemote = errors.New("no remote specified")
)

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(log)
}

func runMonitor(log *zap.Logger, addr string) {
	if addr == "" {
		addr = defaultMonitorAddr
	}
	http.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, nil)
	log.Fatal("failed to serve metrics", zap.Error(err))
}

func decodeConfig(r io.Reader) (svcConfig, error) {
	var cfg svcConfig
	err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg)
	return cfg, err
}

func loadConfig(configFile string) svcConfig {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	cfg, err := decodeConfig(bytes.NewReader(raw))
	if err != nil {
		log.Fatal("failed to decode configuration", zap.Error(err))
	}
	return cfg
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative %s: %s", name, s)
	}
	return d, nil
}

// newSampler returns the sampler configured by cfg and a function that
// releases its resources.
func newSampler(cfg svcConfig, clk clockwork.Clock) (client.Sampler, func(), error) {
	if cfg.NTPServer != "" {
		return &client.NTPClient{Server: cfg.NTPServer, Clock: clk}, func() {}, nil
	}
	if cfg.RemoteURL == "" {
		return nil, nil, errNoRemote
	}
	f, err := client.ParseFormat(cfg.Format)
	if err != nil {
		return nil, nil, err
	}
	hc := client.NewHTTPClient(cfg.HTTP3, config.SyncTimeout)
	c := &client.HTTPClient{
		URL:    cfg.RemoteURL,
		Method: cfg.Method,
		Format: f,
		Client: hc,
		Clock:  clk,
		Log:    log,
	}
	return c, func() { client.CloseHTTPClient(hc) }, nil
}

func newEstimator(cfg svcConfig, clk clockwork.Clock, strict bool) (estimate.Estimator, error) {
	res, err := parseDuration("server_resolution", cfg.ServerResolution)
	if err != nil {
		return nil, err
	}
	switch cfg.Estimator {
	case "", estimatorModeMulti:
		if cfg.Samples < 0 {
			return nil, fmt.Errorf("negative samples: %d", cfg.Samples)
		}
		return &estimate.MultiSample{
			Samples:          cfg.Samples,
			ServerResolution: res,
			Strict:           strict,
			Clock:            clk,
		}, nil
	case estimatorModeTick:
		poll, err := parseDuration("poll_interval", cfg.PollInterval)
		if err != nil {
			return nil, err
		}
		timeout, err := parseDuration("tick_timeout", cfg.TickTimeout)
		if err != nil {
			return nil, err
		}
		return &estimate.TickBoundary{
			PollInterval:     poll,
			Timeout:          timeout,
			MaxSamples:       cfg.Samples,
			ServerResolution: res,
			Strict:           strict,
			Clock:            clk,
		}, nil
	default:
		return nil, fmt.Errorf("unknown estimator: %q", cfg.Estimator)
	}
}

func newSynchronizerConfig(cfg svcConfig, est estimate.Estimator) (sync.Config, error) {
	var err error
	c := sync.Config{
		Estimator:          est,
		IntervalChangeRate: cfg.IntervalChangeRate,
	}
	for _, d := range []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"sync_timeout", cfg.SyncTimeout, &c.SyncTimeout},
		{"sync_interval", cfg.SyncInterval, &c.SyncInterval},
		{"amortization_rate", cfg.AmortizationRate, &c.AmortizationRate},
		{"amortization_threshold", cfg.AmortizationThreshold, &c.AmortizationThreshold},
	} {
		*d.dst, err = parseDuration(d.name, d.val)
		if err != nil {
			return sync.Config{}, err
		}
	}

	// A sync must outlast the tick estimator so that its fallback estimate
	// is reported instead of a timeout.
	if tb, ok := est.(*estimate.TickBoundary); ok {
		tickTimeout := tb.Timeout
		if tickTimeout <= 0 {
			tickTimeout = config.TickTimeout
		}
		switch {
		case c.SyncTimeout == 0:
			c.SyncTimeout = tickTimeout + config.SyncTimeout
		case c.SyncTimeout <= tickTimeout:
			return sync.Config{}, fmt.Errorf(
				"sync_timeout (%v) must exceed tick_timeout (%v)", c.SyncTimeout, tickTimeout)
		}
	}
	return c, nil
}

func newToolResult(m measurements.Estimate) toolResult {
	r := toolResult{
		Date:      sync.DateOf(m.Date).ISOString(),
		UnixMilli: m.Date.UnixMilli(),
		Offset:    timemath.Milliseconds(m.Offset),
		Failed:    m.Failed(),
	}
	if !r.Failed {
		r.Uncertainty = timemath.Milliseconds(m.Uncertainty)
	}
	return r
}

func runServer(configFile string) {
	ctx := context.Background()

	cfg := loadConfig(configFile)
	if cfg.LocalAddr == "" {
		log.Fatal("local_address not specified in config")
	}

	server.StartHTTPServer(ctx, log, clockwork.NewRealClock(), cfg.LocalAddr, cfg.ReusePort)

	runMonitor(log, cfg.MonitorAddr)
}

func runClient(configFile string) {
	ctx := context.Background()
	clk := clockwork.NewRealClock()

	cfg := loadConfig(configFile)
	s, closeSampler, err := newSampler(cfg, clk)
	if err != nil {
		log.Fatal("failed to create sampler", zap.Error(err))
	}
	defer closeSampler()
	est, err := newEstimator(cfg, clk, false /* strict */)
	if err != nil {
		log.Fatal("failed to create estimator", zap.Error(err))
	}
	syncCfg, err := newSynchronizerConfig(cfg, est)
	if err != nil {
		log.Fatal("failed to create synchronizer", zap.Error(err))
	}

	sy := sync.NewSynchronizer(log, clk, s, syncCfg)
	defer sy.Close()
	sy.On(func(r sync.Result) {
		log.Info("clock synchronized",
			zap.Bool("success", r.Success),
			zap.Stringer("target", r.Target),
			zap.Stringer("previous", r.Previous),
			zap.String("date", sy.Date().ISOString()),
			zap.Duration("precision", sy.Precision()),
		)
	})
	notifyWake(ctx, sy)
	sy.Start()

	runMonitor(log, cfg.MonitorAddr)
}

func runTool(cfg svcConfig, strict bool) {
	clk := clockwork.NewRealClock()

	s, closeSampler, err := newSampler(cfg, clk)
	if err != nil {
		log.Fatal("failed to create sampler", zap.Error(err))
	}
	defer closeSampler()
	est, err := newEstimator(cfg, clk, strict)
	if err != nil {
		log.Fatal("failed to create estimator", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.TickTimeout+config.SyncTimeout)
	defer cancel()
	m, err := est.Estimate(ctx, log, s)
	if err != nil {
		log.Fatal("failed to estimate server time", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	err = enc.Encode(newToolResult(m))
	if err != nil {
		log.Fatal("failed to write result", zap.Error(err))
	}
}

func runBenchmark(configFile string) {
	ctx := context.Background()

	cfg := loadConfig(configFile)
	if cfg.RemoteURL == "" {
		log.Fatal("remote_url not specified in config")
	}
	f, err := client.ParseFormat(cfg.Format)
	if err != nil {
		log.Fatal("failed to parse format", zap.Error(err))
	}
	numGoroutine := cfg.BenchmarkGoroutines
	if numGoroutine <= 0 {
		numGoroutine = defaultBenchmarkGoroutines
	}
	numRequest := cfg.BenchmarkRequests
	if numRequest <= 0 {
		numRequest = defaultBenchmarkRequests
	}

	var hcs []*http.Client
	defer func() {
		for _, hc := range hcs {
			client.CloseHTTPClient(hc)
		}
	}()
	benchmark.RunHTTPBenchmark(ctx, log, os.Stdout, func() *client.HTTPClient {
		hc := client.NewHTTPClient(cfg.HTTP3, config.SyncTimeout)
		hcs = append(hcs, hc)
		return &client.HTTPClient{
			URL:    cfg.RemoteURL,
			Method: cfg.Method,
			Format: f,
			Client: hc,
			Log:    log,
		}
	}, numGoroutine, numRequest)
}

func exitWithUsage() {
	fmt.Println("<usage>")
	os.Exit(1)
}

func main() {
	var (
		verbose    bool
		configFile string
		strict     bool
		toolCfg    svcConfig
	)

	serverFlags := flag.NewFlagSet("server", flag.ExitOnError)
	clientFlags := flag.NewFlagSet("client", flag.ExitOnError)
	toolFlags := flag.NewFlagSet("tool", flag.ExitOnError)
	benchmarkFlags := flag.NewFlagSet("benchmark", flag.ExitOnError)

	serverFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	serverFlags.StringVar(&configFile, "config", "", "Config file")

	clientFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	clientFlags.StringVar(&configFile, "config", "", "Config file")

	toolFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	toolFlags.StringVar(&toolCfg.RemoteURL, "remote", "", "Remote URL")
	toolFlags.StringVar(&toolCfg.Estimator, "mode", estimatorModeMulti, "Estimator mode")
	toolFlags.StringVar(&toolCfg.Format, "format", "date", "Server time format")
	toolFlags.BoolVar(&toolCfg.HTTP3, "http3", false, "Probe via HTTP/3")
	toolFlags.StringVar(&toolCfg.NTPServer, "ntp", "", "NTP server")
	toolFlags.BoolVar(&strict, "strict", false, "Fail if no usable estimate")

	benchmarkFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	benchmarkFlags.StringVar(&configFile, "config", "", "Config file")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case serverFlags.Name():
		err := serverFlags.Parse(os.Args[2:])
		if err != nil || serverFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runServer(configFile)
	case clientFlags.Name():
		err := clientFlags.Parse(os.Args[2:])
		if err != nil || clientFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runClient(configFile)
	case toolFlags.Name():
		err := toolFlags.Parse(os.Args[2:])
		if err != nil || toolFlags.NArg() != 0 {
			exitWithUsage()
		}
		if toolCfg.RemoteURL == "" && toolCfg.NTPServer == "" {
			exitWithUsage()
		}
		if toolCfg.Estimator != estimatorModeMulti && toolCfg.Estimator != estimatorModeTick {
			exitWithUsage()
		}
		initLogger(verbose)
		runTool(toolCfg, strict)
	case benchmarkFlags.Name():
		err := benchmarkFlags.Parse(os.Args[2:])
		if err != nil || benchmarkFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runBenchmark(configFile)
	case "x":
		runX()
	default:
		exitWithUsage()
	}
}
