package measurements

import (
	"errors"
	"fmt"
	"math"
	"time"

	"example.com/serverdate/base/timemath"
)

// MaxUncertainty marks an estimate without any confidence.
const MaxUncertainty = time.Duration(math.MaxInt64)

var errInvalidSample = errors.New("response time precedes request time")

// A Sample is the result of a single probe. RequestTime and ResponseTime are
// local clock readings, ServerTime is the time reported by the server.
type Sample struct {
	RequestTime  time.Time
	ResponseTime time.Time
	ServerTime   time.Time
}

func (s Sample) Validate() error {
	if s.ResponseTime.Before(s.RequestTime) {
		return errInvalidSample
	}
	return nil
}

func (s Sample) RoundTrip() time.Duration {
	return s.ResponseTime.Sub(s.RequestTime)
}

// An Offset is the amount of time to add to the local clock to obtain the
// server clock, together with its uncertainty.
type Offset struct {
	Value       time.Duration
	Uncertainty time.Duration
}

func (o Offset) String() string {
	if o.Uncertainty == MaxUncertainty {
		return fmt.Sprintf("%v +/- inf", o.Value)
	}
	return fmt.Sprintf("%v +/- %v", o.Value, o.Uncertainty)
}

// Agrees reports whether o and p are equal within their combined uncertainty.
func (o Offset) Agrees(p Offset) bool {
	d := timemath.Abs(o.Value - p.Value)
	return d <= timemath.Add(o.Uncertainty, p.Uncertainty)
}

// An Estimate is the best guess of the server clock at the time of estimation.
type Estimate struct {
	Date        time.Time
	Offset      time.Duration
	Uncertainty time.Duration
}

// FailedEstimate returns the estimate reported when no usable sample exists.
func FailedEstimate(now time.Time) Estimate {
	return Estimate{
		Date:        now,
		Offset:      0,
		Uncertainty: MaxUncertainty,
	}
}

func (e Estimate) Failed() bool {
	return e.Uncertainty == MaxUncertainty
}

func (e Estimate) AsOffset() Offset {
	return Offset{
		Value:       e.Offset,
		Uncertainty: e.Uncertainty,
	}
}
