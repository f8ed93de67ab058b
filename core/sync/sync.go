package sync

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.uber.org/zap"

	"example.com/serverdate/base/metrics"
	"example.com/serverdate/base/timemath"
	"example.com/serverdate/base/zaplog"

	"example.com/serverdate/core/client"
	"example.com/serverdate/core/config"
	"example.com/serverdate/core/estimate"
	"example.com/serverdate/core/measurements"
)

var (
	// ErrTimeout is reported when a synchronization did not complete within
	// its deadline.
	ErrTimeout = errors.New("synchronization timed out")

	errNoEstimate = errors.New("no usable estimate")

	syncMetrics atomic.Pointer[synchronizerMetrics]
)

type synchronizerMetrics struct {
	offset    prometheus.Gauge
	target    prometheus.Gauge
	precision prometheus.Gauge
	interval  prometheus.Gauge
	succeeded prometheus.Counter
	failed    prometheus.Counter
}

func init() {
	syncMetrics.Store(newSynchronizerMetrics())
}

func newSynchronizerMetrics() *synchronizerMetrics {
	return &synchronizerMetrics{
		offset: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncOffsetN,
			Help: metrics.SyncOffsetH,
		}),
		target: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncTargetN,
			Help: metrics.SyncTargetH,
		}),
		precision: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncPrecisionN,
			Help: metrics.SyncPrecisionH,
		}),
		interval: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncIntervalN,
			Help: metrics.SyncIntervalH,
		}),
		succeeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncSucceededN,
			Help: metrics.SyncSucceededH,
		}),
		failed: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncFailedN,
			Help: metrics.SyncFailedH,
		}),
	}
}

// Config holds the parameters of a Synchronizer. Zero values select the
// defaults in package config.
type Config struct {
	Estimator             estimate.Estimator
	SyncTimeout           time.Duration
	SyncInterval          time.Duration
	AmortizationPeriod    time.Duration
	AmortizationRate      time.Duration
	AmortizationThreshold time.Duration
	IntervalChangeRate    float64
	Bootstrap             *measurements.Offset
}

// Result is passed to listeners once per completed synchronization.
type Result struct {
	Success  bool
	Target   measurements.Offset
	Previous measurements.Offset
}

type Listener func(Result)

type ListenerID uint64

type listener struct {
	id ListenerID
	fn Listener
}

// A Synchronizer keeps an estimate of a server clock up to date. It
// periodically runs an estimator against the server and walks the offset it
// applies to the local clock towards the latest estimate at a bounded rate.
type Synchronizer struct {
	log        *zap.Logger
	clk        clockwork.Clock
	sampler    client.Sampler
	estimator  estimate.Estimator
	timeout    time.Duration
	period     time.Duration
	changeRate float64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	resched   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	mu             sync.RWMutex
	offset         time.Duration
	target         measurements.Offset
	previousTarget measurements.Offset
	hasPrevious    bool
	interval       time.Duration
	rate           time.Duration
	threshold      time.Duration
	listeners      []listener
	nextID         ListenerID
	synchronizing  bool
	pending        []Listener
	closed         bool
}

// NewSynchronizer returns a stopped Synchronizer probing sampler. The sampler
// must return once its context is done.
func NewSynchronizer(log *zap.Logger, clk clockwork.Clock, sampler client.Sampler,
	cfg Config) *Synchronizer {
	if sampler == nil {
		panic("unexpected sampler (nil)")
	}
	log = zaplog.Or(log)
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if cfg.Estimator == nil {
		cfg.Estimator = &estimate.MultiSample{Clock: clk}
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = config.SyncTimeout
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = config.SyncInterval
	}
	if cfg.AmortizationPeriod <= 0 {
		cfg.AmortizationPeriod = config.AmortizationPeriod
	}
	if cfg.AmortizationRate <= 0 {
		cfg.AmortizationRate = config.AmortizationRate
	}
	if cfg.AmortizationThreshold <= 0 {
		cfg.AmortizationThreshold = config.AmortizationThreshold
	}
	if cfg.IntervalChangeRate <= 0 || cfg.IntervalChangeRate >= 1 {
		cfg.IntervalChangeRate = config.IntervalChangeRate
	}
	bootstrap := measurements.Offset{Uncertainty: measurements.MaxUncertainty}
	if cfg.Bootstrap != nil {
		bootstrap = *cfg.Bootstrap
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		log:        log,
		clk:        clk,
		sampler:    sampler,
		estimator:  cfg.Estimator,
		timeout:    cfg.SyncTimeout,
		period:     cfg.AmortizationPeriod,
		changeRate: cfg.IntervalChangeRate,
		ctx:        ctx,
		cancel:     cancel,
		resched:    make(chan struct{}, 1),
		offset:     bootstrap.Value,
		target:     bootstrap,
		interval:   clampInterval(cfg.SyncInterval),
		rate:       cfg.AmortizationRate,
		threshold:  cfg.AmortizationThreshold,
	}
	log.Debug("initialized synchronizer", zap.Stringer("target", bootstrap))
	return s
}

func clampInterval(d time.Duration) time.Duration {
	return timemath.Clamp(d, config.MinSyncInterval, config.MaxSyncInterval)
}

// Start launches the amortization and periodic synchronization timers and
// triggers the first synchronization.
func (s *Synchronizer) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.run()
		s.trigger(nil)
	})
}

// Close stops all timers and any synchronization in progress and waits for
// its sampler to return. No listener fires once Close has returned. Close
// must not be called from a listener.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.mu.Unlock()
		s.cancel()
		s.wg.Wait()
		s.log.Debug("closed synchronizer")
	})
}

func (s *Synchronizer) run() {
	defer s.wg.Done()
	amortization := s.clk.NewTicker(s.period)
	defer amortization.Stop()
	timer := s.clk.NewTimer(s.SyncInterval())
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-amortization.Chan():
			s.amortize()
		case <-timer.Chan():
			s.trigger(nil)
			timer.Reset(s.SyncInterval())
		case <-s.resched:
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
			timer.Reset(s.SyncInterval())
		}
	}
}

// Sync triggers a synchronization. If one is already in progress, no second
// one is started and cb fires when the running one completes.
func (s *Synchronizer) Sync(cb Listener) {
	s.trigger(cb)
}

// Wake reports that the process resumed after having been suspended or
// hidden, which warrants an immediate synchronization.
func (s *Synchronizer) Wake() {
	s.log.Debug("woken up")
	s.trigger(nil)
}

func (s *Synchronizer) trigger(cb Listener) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if cb != nil {
		s.pending = append(s.pending, cb)
	}
	if s.synchronizing {
		s.mu.Unlock()
		s.log.Debug("synchronization already in progress")
		return
	}
	s.synchronizing = true
	s.wg.Add(1)
	s.mu.Unlock()
	go s.synchronize()
}

type estimateResult struct {
	m   measurements.Estimate
	err error
}

func (s *Synchronizer) synchronize() {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	timeout := s.clk.NewTimer(s.timeout)
	defer timeout.Stop()

	s.log.Debug("synchronizing")
	resc := make(chan estimateResult, 1)
	go func() {
		m, err := s.estimator.Estimate(ctx, s.log, s.sampler)
		resc <- estimateResult{m: m, err: err}
	}()

	// The estimator must have returned before the sync is completed so that
	// probe sequences never overlap and Close never leaves a probe running.
	select {
	case r := <-resc:
		if r.err == nil && r.m.Failed() {
			r.err = errNoEstimate
		}
		s.complete(r.m, r.err)
	case <-timeout.Chan():
		cancel()
		<-resc
		s.complete(measurements.Estimate{}, ErrTimeout)
	case <-s.ctx.Done():
		cancel()
		<-resc
	}
}

func (s *Synchronizer) complete(m measurements.Estimate, err error) {
	mtrcs := syncMetrics.Load()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.synchronizing = false
	fire := make([]Listener, 0, len(s.listeners)+len(s.pending))
	for _, l := range s.listeners {
		fire = append(fire, l.fn)
	}
	fire = append(fire, s.pending...)
	s.pending = nil

	var res Result
	if err != nil {
		res = Result{Success: false, Target: s.target, Previous: s.target}
		s.mu.Unlock()
		mtrcs.failed.Inc()
		s.log.Info("synchronization failed", zap.Error(err))
	} else {
		previous := s.target
		s.setTarget(m.AsOffset())
		s.adaptInterval()
		s.previousTarget = s.target
		s.hasPrevious = true
		res = Result{Success: true, Target: s.target, Previous: previous}
		interval := s.interval
		s.mu.Unlock()
		s.reschedule()
		mtrcs.succeeded.Inc()
		s.log.Info("synchronized",
			zap.Stringer("target", res.Target),
			zap.Stringer("previous", res.Previous),
			zap.Duration("next", interval),
		)
	}
	s.updateMetrics()

	for _, fn := range fire {
		fn(res)
	}
}

// setTarget must be called with s.mu held.
func (s *Synchronizer) setTarget(t measurements.Offset) {
	s.target = t
	delta := timemath.Abs(t.Value - s.offset)
	if delta > s.threshold {
		s.log.Info("difference between target and offset too high, skipping amortization",
			zap.Duration("delta", delta))
		s.offset = t.Value
	}
}

// adaptInterval must be called with s.mu held, after the new target is set
// and before s.previousTarget is replaced.
func (s *Synchronizer) adaptInterval() {
	if !s.hasPrevious {
		return
	}
	drift := timemath.Abs(s.target.Value - s.previousTarget.Value)
	if s.target.Agrees(s.previousTarget) {
		s.interval = clampInterval(timemath.Scale(s.interval, 1+s.changeRate))
	} else {
		s.interval = clampInterval(timemath.Scale(s.interval, 1-s.changeRate))
	}
	s.log.Debug("measured drift",
		zap.Duration("drift", drift),
		zap.Duration("precision", timemath.Add(s.target.Uncertainty, s.previousTarget.Uncertainty)),
		zap.Duration("interval", s.interval),
	)
}

func (s *Synchronizer) reschedule() {
	select {
	case s.resched <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) amortize() {
	s.mu.Lock()
	delta := timemath.Clamp(s.target.Value-s.offset, -s.rate, s.rate)
	s.offset += delta
	offset, target := s.offset, s.target
	s.mu.Unlock()

	if delta != 0 {
		s.log.Debug("adjusted offset",
			zap.Duration("delta", delta),
			zap.Duration("offset", offset),
			zap.Stringer("target", target),
		)
		s.updateMetrics()
	}
}

func (s *Synchronizer) updateMetrics() {
	mtrcs := syncMetrics.Load()
	s.mu.RLock()
	offset, target, interval := s.offset, s.target, s.interval
	s.mu.RUnlock()
	mtrcs.offset.Set(timemath.Seconds(offset))
	mtrcs.target.Set(timemath.Seconds(target.Value))
	mtrcs.precision.Set(timemath.Seconds(s.Precision()))
	mtrcs.interval.Set(timemath.Seconds(interval))
}

// Now returns the local time corrected by the currently applied offset.
func (s *Synchronizer) Now() time.Time {
	s.mu.RLock()
	offset := s.offset
	s.mu.RUnlock()
	return s.clk.Now().Add(offset)
}

// Precision accounts for the uncertainty of the last synchronization and for
// the part of it that has not been amortized yet.
func (s *Synchronizer) Precision() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return timemath.Add(s.target.Uncertainty, timemath.Abs(s.target.Value-s.offset))
}

func (s *Synchronizer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

func (s *Synchronizer) Target() measurements.Offset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// On registers fn to be called after every completed synchronization. The
// same function may be registered more than once.
func (s *Synchronizer) On(fn Listener) ListenerID {
	if fn == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.listeners = append(s.listeners, listener{id: s.nextID, fn: fn})
	return s.nextID
}

// Off removes the listeners registered under ids, or all listeners if no id
// is given.
func (s *Synchronizer) Off(ids ...ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		s.listeners = nil
		return
	}
	s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool {
		return slices.Contains(ids, l.id)
	})
}

func (s *Synchronizer) AmortizationRate() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate
}

func (s *Synchronizer) SetAmortizationRate(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = max(d, 0)
}

func (s *Synchronizer) AmortizationThreshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

func (s *Synchronizer) SetAmortizationThreshold(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = max(d, 0)
}

func (s *Synchronizer) SyncInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// SetSyncInterval changes the delay between periodic synchronizations and
// restarts the periodic timer with it.
func (s *Synchronizer) SetSyncInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = clampInterval(d)
	interval := s.interval
	s.mu.Unlock()
	s.reschedule()
	s.log.Debug("set synchronization interval", zap.Duration("interval", interval))
}
