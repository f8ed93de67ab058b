package config

import "time"

// SamplesPerSync is the number of probes issued by one multi-sample estimation.
const SamplesPerSync = 10

// ServerResolution is the reporting granularity of a server that only provides
// an HTTP Date header.
const ServerResolution = time.Second

const (
	PollInterval = 100 * time.Millisecond
	TickTimeout  = 10 * time.Second
	TickSamples  = 200
)

const (
	SyncTimeout           = 10 * time.Second
	SyncInterval          = time.Hour
	AmortizationPeriod    = time.Second
	AmortizationRate      = 25 * time.Millisecond
	AmortizationThreshold = 2 * time.Second
	IntervalChangeRate    = 0.5
)

// MinSyncInterval and MaxSyncInterval bound the self-tuning synchronization
// interval. The upper bound is the largest delay browsers accept for timers.
const (
	MinSyncInterval = time.Second
	MaxSyncInterval = 2147483647 * time.Millisecond
)

// MaxResponseBody is the maximum size of a response body read by a probe.
const MaxResponseBody = 1 << 10
