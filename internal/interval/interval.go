// Package interval implements the time-grid arithmetic detectkit uses to
// align datapoints and enumerate gap-fill timestamps.
package interval

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Interval is a fixed spacing between consecutive datapoints of a metric,
// stored as whole seconds.
type Interval struct {
	seconds int64
}

var pattern = regexp.MustCompile(`^(\d+)([a-zA-Z]*)$`)

// unitSeconds maps a recognized unit suffix to its length in seconds.
// Longer/plural forms are listed alongside their short form so that both
// "1d" and "7days" parse (the original detectkit accepts both).
var unitSeconds = map[string]int64{
	"":      1,
	"s":     1,
	"sec":   1,
	"secs":  1,
	"min":   60,
	"mins":  60,
	"m":     60,
	"h":     3600,
	"hour":  3600,
	"hours": 3600,
	"d":     86400,
	"day":   86400,
	"days":  86400,
}

// Parse parses an interval expression of the form "<integer><unit>", with
// unit in {s, min, m, h, hour, d, day} (and common plurals); a plain
// integer is interpreted as seconds.
func Parse(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Interval{}, fmt.Errorf("interval: invalid interval format %q", s)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Interval{}, fmt.Errorf("interval: invalid interval format %q", s)
	}

	unit := strings.ToLower(m[2])
	mult, ok := unitSeconds[unit]
	if !ok {
		return Interval{}, fmt.Errorf("interval: unknown time unit %q", m[2])
	}

	seconds := n * mult
	if seconds <= 0 {
		return Interval{}, fmt.Errorf("interval: duration must be positive, got %q", s)
	}

	return Interval{seconds: seconds}, nil
}

// FromSeconds builds an Interval directly from a positive second count.
func FromSeconds(seconds int64) (Interval, error) {
	if seconds <= 0 {
		return Interval{}, fmt.Errorf("interval: duration must be positive, got %d", seconds)
	}
	return Interval{seconds: seconds}, nil
}

// MustParse is Parse, panicking on error. Intended for config defaults and
// tests, never for user-supplied strings.
func MustParse(s string) Interval {
	iv, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return iv
}

// Seconds returns the interval length in seconds.
func (i Interval) Seconds() int64 { return i.seconds }

// Duration returns the interval as a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.seconds) * time.Second
}

// DividesDay reports whether the interval divides a 24h day evenly. §4.1
// notes that seasonality extraction of hour/dow features degrades
// gracefully (sparse masks) rather than failing when this is false.
func (i Interval) DividesDay() bool {
	return (86400 % i.seconds) == 0
}

// Align truncates t to the latest instant on the interval grid that is <= t,
// anchored at the Unix epoch. t must be a naive UTC instant.
func (i Interval) Align(t time.Time) time.Time {
	unix := t.Unix()
	aligned := unix - (unix % i.seconds)
	return time.Unix(aligned, 0).UTC()
}

// Next returns t + interval.
func (i Interval) Next(t time.Time) time.Time {
	return t.Add(i.Duration())
}

// Range enumerates each aligned instant in [from, to), inclusive of the
// aligned `from` and exclusive of `to`. Both bounds are aligned to the grid
// before enumeration, matching the "range(from, to, i)" contract in §4.1.
func (i Interval) Range(from, to time.Time) []time.Time {
	start := i.Align(from)
	end := i.Align(to)
	if !start.Before(end) {
		return nil
	}
	n := int((end.Unix() - start.Unix()) / i.seconds)
	out := make([]time.Time, 0, n)
	for t := start; t.Before(end); t = i.Next(t) {
		out = append(out, t)
	}
	return out
}

// String renders the interval the way the original detectkit's __str__
// does: whole days as "Nd", whole hours as "Nh", whole minutes as "Nmin",
// otherwise raw seconds as "Ns".
func (i Interval) String() string {
	switch {
	case i.seconds%86400 == 0:
		return fmt.Sprintf("%dd", i.seconds/86400)
	case i.seconds%3600 == 0:
		return fmt.Sprintf("%dh", i.seconds/3600)
	case i.seconds%60 == 0:
		return fmt.Sprintf("%dmin", i.seconds/60)
	default:
		return fmt.Sprintf("%ds", i.seconds)
	}
}

// Equal reports whether two intervals have the same length.
func (i Interval) Equal(other Interval) bool {
	return i.seconds == other.seconds
}
