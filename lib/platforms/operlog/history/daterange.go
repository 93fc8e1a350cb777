package history

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"operlog-client/lib/platforms/operlog/core"
)

// DateLayout is the calendar day format the search form accepts.
const DateLayout = "2006-01-02"

type boundKind int

const (
	boundUnix boundKind = iota
	boundDate
	boundTime
)

// Bound is one end of a requested history range, either an instant or a
// calendar day.
type Bound struct {
	kind boundKind
	unix int64
	date string
	at   time.Time
}

func FromUnix(ts int64) Bound {
	return Bound{kind: boundUnix, unix: ts}
}

// FromDate takes a "YYYY-MM-DD" calendar day, it is resolved in the
// location of `now` passed to Resolve.
func FromDate(date string) Bound {
	return Bound{kind: boundDate, date: date}
}

func FromTime(t time.Time) Bound {
	return Bound{kind: boundTime, at: t}
}

// IsDay reports whether the bound names a whole calendar day.
func (b Bound) IsDay() bool {
	return b.kind == boundDate
}

func (b Bound) String() string {
	switch b.kind {
	case boundUnix:
		return strconv.FormatInt(b.unix, 10)
	case boundDate:
		return b.date
	default:
		return b.at.Format(time.RFC3339)
	}
}

// Resolve returns the instant the bound names. A malformed bound resolves to
// `now` along with a *core.MalformedDateError.
func (b Bound) Resolve(now time.Time) (time.Time, error) {
	switch b.kind {
	case boundUnix:
		if b.unix <= 0 {
			return now, &core.MalformedDateError{
				Input: b.String(),
				Err:   errors.New("timestamp must be positive"),
			}
		}
		return time.Unix(b.unix, 0).In(now.Location()), nil
	case boundDate:
		day, err := time.ParseInLocation(DateLayout, b.date, now.Location())
		if err != nil {
			return now, &core.MalformedDateError{Input: b.date, Err: err}
		}
		return day, nil
	default:
		if b.at.IsZero() {
			return now, &core.MalformedDateError{
				Input: "zero time",
				Err:   errors.New("time is unset"),
			}
		}
		return b.at.In(now.Location()), nil
	}
}

// DateRange is an inclusive range of instants.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func endOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(-time.Second)
}

// NewRange resolves both bounds against `now`. A calendar day as the upper
// bound covers the whole day and an inverted pair is swapped. The returned
// range is always usable, a non nil error lists the bounds that fell back to
// `now`.
func NewRange(from, to Bound, now time.Time) (DateRange, error) {
	start, startErr := from.Resolve(now)
	end, endErr := to.Resolve(now)

	if end.Before(start) {
		start, end = end, start
		from, to = to, from
		startErr, endErr = endErr, startErr
	}
	if to.IsDay() && endErr == nil {
		end = endOfDay(end)
	}

	return DateRange{Start: start, End: end}, errors.Join(startErr, endErr)
}

// LastDays is the range [now - n days, now].
func LastDays(n int, now time.Time) (DateRange, error) {
	if n < 0 {
		return DateRange{}, fmt.Errorf("%w: day count must not be negative, got %d", core.ErrInvalidArgument, n)
	}
	return DateRange{Start: now.AddDate(0, 0, -n), End: now}, nil
}

// Query returns the day granular form values for the range.
func (r DateRange) Query() (date1, date2 string) {
	return r.Start.Format(DateLayout), r.End.Format(DateLayout)
}

// Contains reports whether the unix timestamp lies in the range, both ends
// included.
func (r DateRange) Contains(ts int64) bool {
	return ts >= r.Start.Unix() && ts <= r.End.Unix()
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
