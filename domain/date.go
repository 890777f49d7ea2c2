package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the wire format of a calendar date.
	DateLayout = "2006-01-02"
	// DisplayLayout is the short date shown on task cards.
	DisplayLayout = "1/2/2006"
	// NoDueDate is rendered for tasks without a due date.
	NoDueDate = "No Due Date"
)

const day = 24 * time.Hour

// Range of due dates the table store accepts for Edm.DateTime values.
const (
	MinYear = 1601
	MaxYear = 9999
)

// Date is a calendar day. It carries no time-of-day and no zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a Date, normalizing out-of-range values the way time.Date does.
func NewDate(year int, month time.Month, d int) Date {
	return DateOf(time.Date(year, month, d, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a yyyy-MM-dd string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDueDate, s)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Timestamp anchors the day to 00:00 UTC.
func (d Date) Timestamp() Timestamp {
	return Timestamp{Time: time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDueDate, s)
	}
	parsed, err := ParseDate(unquoted)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Timestamp is the store representation of a due date.
type Timestamp struct {
	time.Time
}

// Date reads the timestamp in UTC and rounds to the nearest midnight, which
// also recovers days written from a local midnight at offsets up to ±12h.
func (ts Timestamp) Date() Date {
	return DateOf(ts.Time.UTC().Round(day))
}

// ToStoreTimestamp converts a user-entered due date into its store form.
// Absent input (nil, empty string, zero value) yields nil without error.
// A Timestamp is passed through unchanged. Days outside the range the store
// can hold are rejected.
func ToStoreTimestamp(input any) (*Timestamp, error) {
	ts, err := toStoreTimestamp(input)
	if err != nil || ts == nil {
		return ts, err
	}
	if y := ts.Time.UTC().Year(); y < MinYear || y > MaxYear {
		return nil, fmt.Errorf("%w: %s is outside %04d-01-01..%04d-12-31", ErrInvalidDueDate, ts.Time.UTC().Format(DateLayout), MinYear, MaxYear)
	}
	return ts, nil
}

func toStoreTimestamp(input any) (*Timestamp, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case Timestamp:
		if v.IsZero() {
			return nil, nil
		}
		return &v, nil
	case *Timestamp:
		if v == nil || v.IsZero() {
			return nil, nil
		}
		return v, nil
	case Date:
		if v.IsZero() {
			return nil, nil
		}
		ts := v.Timestamp()
		return &ts, nil
	case *Date:
		if v == nil {
			return nil, nil
		}
		return toStoreTimestamp(*v)
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}
		ts := DateOf(v).Timestamp()
		return &ts, nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return toStoreTimestamp(*v)
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		d, err := ParseDate(v)
		if err != nil {
			return nil, err
		}
		ts := d.Timestamp()
		return &ts, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidDueDate, input)
	}
}

// FromStoreTimestamp reads a stored due date back into a calendar day.
// Stored history is heterogeneous, so timestamps, time values, dates and the
// string forms written by older clients are all accepted. Absent values yield
// nil without error.
func FromStoreTimestamp(value any) (*Date, error) {
	var d Date
	switch v := value.(type) {
	case nil:
		return nil, nil
	case Timestamp:
		if v.IsZero() {
			return nil, nil
		}
		d = v.Date()
	case *Timestamp:
		if v == nil {
			return nil, nil
		}
		return FromStoreTimestamp(*v)
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}
		if v.Location() == time.UTC {
			d = Timestamp{Time: v}.Date()
		} else {
			d = DateOf(v)
		}
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return FromStoreTimestamp(*v)
	case Date:
		if v.IsZero() {
			return nil, nil
		}
		d = v
	case *Date:
		if v == nil {
			return nil, nil
		}
		return FromStoreTimestamp(*v)
	case string:
		return parseStoredDate(v)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidDueDate, value)
	}
	return &d, nil
}

func parseStoredDate(s string) (*Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		d := DateOf(t)
		return &d, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		var d Date
		if _, offset := t.Zone(); offset == 0 {
			d = Timestamp{Time: t}.Date()
		} else {
			d = DateOf(t)
		}
		return &d, nil
	}
	if t, err := time.Parse(DisplayLayout, s); err == nil {
		d := DateOf(t)
		return &d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidDueDate, s)
}

// DisplayString renders a due date for a task card.
func DisplayString(d *Date) string {
	if d == nil || d.IsZero() {
		return NoDueDate
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(DisplayLayout)
}
