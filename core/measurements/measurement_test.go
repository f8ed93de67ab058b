package measurements_test

import (
	"testing"
	"time"

	"example.com/serverdate/core/measurements"
)

func TestSampleValidate(t *testing.T) {
	t0 := time.Date(2021, 2, 2, 23, 43, 32, 268e6, time.UTC)
	tests := []struct {
		name    string
		sample  measurements.Sample
		wantErr bool
	}{
		{
			name: "ordered",
			sample: measurements.Sample{
				RequestTime:  t0,
				ResponseTime: t0.Add(165 * time.Millisecond),
				ServerTime:   t0,
			},
		},
		{
			name: "instant",
			sample: measurements.Sample{
				RequestTime:  t0,
				ResponseTime: t0,
			},
		},
		{
			name: "reversed",
			sample: measurements.Sample{
				RequestTime:  t0.Add(time.Millisecond),
				ResponseTime: t0,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sample.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() == %v; want error %v", err, tt.wantErr)
			}
		})
	}
}

func TestOffsetAgrees(t *testing.T) {
	tests := []struct {
		x, y measurements.Offset
		want bool
	}{
		{
			x:    measurements.Offset{Value: 100 * time.Millisecond, Uncertainty: 50 * time.Millisecond},
			y:    measurements.Offset{Value: 180 * time.Millisecond, Uncertainty: 40 * time.Millisecond},
			want: true,
		},
		{
			x:    measurements.Offset{Value: 100 * time.Millisecond, Uncertainty: 10 * time.Millisecond},
			y:    measurements.Offset{Value: 180 * time.Millisecond, Uncertainty: 10 * time.Millisecond},
			want: false,
		},
		{
			x:    measurements.Offset{Value: 0, Uncertainty: measurements.MaxUncertainty},
			y:    measurements.Offset{Value: time.Hour, Uncertainty: time.Millisecond},
			want: true,
		},
	}

	for _, tt := range tests {
		got := tt.x.Agrees(tt.y)
		if got != tt.want {
			t.Errorf("%v.Agrees(%v) == %v; want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestFailedEstimate(t *testing.T) {
	now := time.Now()
	e := measurements.FailedEstimate(now)
	if !e.Failed() {
		t.Errorf("FailedEstimate(%v).Failed() == false; want true", now)
	}
	if e.Offset != 0 || !e.Date.Equal(now) {
		t.Errorf("FailedEstimate(%v) == %+v; want zero offset at %v", now, e, now)
	}
	o := e.AsOffset()
	if o.String() != "0s +/- inf" {
		t.Errorf("FailedEstimate(%v).AsOffset().String() == %q", now, o.String())
	}
}
