package sync

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	isoLayout  = "2006-01-02T15:04:05.000Z07:00"
	dateLayout = "Mon Jan 02 2006"
	timeLayout = "15:04:05 GMT-0700 (MST)"
)

// A Date is a read-only reading of a synchronized clock. Its accessors
// follow the platform's date formatting; it offers no way to modify it.
type Date struct {
	t time.Time
}

func DateOf(t time.Time) Date {
	return Date{t: t}
}

// Date returns the current reading of the synchronized clock.
func (s *Synchronizer) Date() Date {
	return DateOf(s.Now())
}

func (d Date) Time() time.Time       { return d.t }
func (d Date) UTC() Date             { return Date{t: d.t.UTC()} }
func (d Date) Local() Date           { return Date{t: d.t.Local()} }
func (d Date) UnixMilli() int64      { return d.t.UnixMilli() }
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) Hour() int             { return d.t.Hour() }
func (d Date) Minute() int           { return d.t.Minute() }
func (d Date) Second() int           { return d.t.Second() }
func (d Date) Millisecond() int      { return d.t.Nanosecond() / int(time.Millisecond) }

// TimezoneOffset returns the difference between UTC and the date's zone in
// minutes, positive west of UTC.
func (d Date) TimezoneOffset() int {
	_, off := d.t.Zone()
	return -off / 60
}

func (d Date) ISOString() string  { return d.t.UTC().Format(isoLayout) }
func (d Date) UTCString() string  { return d.t.UTC().Format(http.TimeFormat) }
func (d Date) DateString() string { return d.t.Format(dateLayout) }
func (d Date) TimeString() string { return d.t.Format(timeLayout) }
func (d Date) String() string     { return d.t.Format(dateLayout + " " + timeLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.ISOString())
}
