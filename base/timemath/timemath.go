package timemath

import (
	"math"
	"time"
)

func Seconds(d time.Duration) float64 {
	return float64(d) / float64(time.Second)
}

func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func Abs(d time.Duration) time.Duration {
	if d == math.MinInt64 {
		panic("unexpected duration value (math.MinInt64)")
	}
	if d < 0 {
		d = -d
	}
	return d
}

// Clamp limits d to the closed interval [lo, hi].
func Clamp(d, lo, hi time.Duration) time.Duration {
	if lo > hi {
		panic("unexpected interval bounds")
	}
	return max(lo, min(d, hi))
}

// Add returns x + y, saturating at the bounds of time.Duration.
func Add(x, y time.Duration) time.Duration {
	s := x + y
	if x > 0 && y > 0 && s < 0 {
		return math.MaxInt64
	}
	if x < 0 && y < 0 && s >= 0 {
		return math.MinInt64
	}
	return s
}

// Scale returns d * f, saturating at the bounds of time.Duration.
func Scale(d time.Duration, f float64) time.Duration {
	x := float64(d) * f
	if x >= math.MaxInt64 {
		return math.MaxInt64
	}
	if x <= math.MinInt64 {
		return math.MinInt64
	}
	return time.Duration(x)
}
