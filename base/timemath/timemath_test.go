package timemath_test

import (
	"math"
	"testing"
	"time"

	"example.com/serverdate/base/timemath"
)

func TestMilliseconds(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     float64
	}{
		{582500 * time.Microsecond, 582.5},
		{time.Second, 1000},
		{0, 0},
		{-67 * time.Millisecond, -67},
	}

	for _, tt := range tests {
		got := timemath.Milliseconds(tt.duration)
		if got != tt.want {
			t.Errorf("timemath.Milliseconds(%v) = %v, want %v", tt.duration, got, tt.want)
		}
	}
}

func TestAbs(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     time.Duration
	}{
		{time.Second, time.Second},
		{-time.Second, time.Second},
		{0, 0},
	}

	for _, tt := range tests {
		got := timemath.Abs(tt.duration)
		if got != tt.want {
			t.Errorf("timemath.Abs(%v) = %v, want %v", tt.duration, got, tt.want)
		}
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("timemath.Abs(%v), did not panic", math.MinInt64)
		}
	}()
	timemath.Abs(math.MinInt64)
}

func TestClamp(t *testing.T) {
	const rate = 25 * time.Millisecond
	tests := []struct {
		duration time.Duration
		want     time.Duration
	}{
		{100 * time.Millisecond, rate},
		{-100 * time.Millisecond, -rate},
		{10 * time.Millisecond, 10 * time.Millisecond},
		{-rate, -rate},
		{0, 0},
	}

	for _, tt := range tests {
		got := timemath.Clamp(tt.duration, -rate, rate)
		if got != tt.want {
			t.Errorf("timemath.Clamp(%v) = %v, want %v", tt.duration, got, tt.want)
		}
	}
}

func TestAdd(t *testing.T) {
	tests := []struct {
		x, y time.Duration
		want time.Duration
	}{
		{time.Second, time.Second, 2 * time.Second},
		{math.MaxInt64, time.Second, math.MaxInt64},
		{math.MinInt64, -time.Second, math.MinInt64},
		{math.MaxInt64, -time.Second, math.MaxInt64 - time.Second},
	}

	for _, tt := range tests {
		got := timemath.Add(tt.x, tt.y)
		if got != tt.want {
			t.Errorf("timemath.Add(%v, %v) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		duration time.Duration
		factor   float64
		want     time.Duration
	}{
		{time.Hour, 0.5, 30 * time.Minute},
		{time.Hour, 1.5, 90 * time.Minute},
		{math.MaxInt64, 2, math.MaxInt64},
		{math.MinInt64 + 1, 2, math.MinInt64},
	}

	for _, tt := range tests {
		got := timemath.Scale(tt.duration, tt.factor)
		if got != tt.want {
			t.Errorf("timemath.Scale(%v, %v) = %v, want %v", tt.duration, tt.factor, got, tt.want)
		}
	}
}
