package payload

import (
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultMessage = "Hello from linecast!"

	// TimestampLayout is the wall-clock format embedded in every line.
	TimestampLayout = "2006-01-02 15:04:05"

	timeMarker = "  time: "
)

// Source builds payload lines of the form "<message>  time: <timestamp>".
// It holds no mutable state and is safe for concurrent use.
type Source struct {
	clock   clockwork.Clock
	message string
}

func NewSource(clock clockwork.Clock, message string) *Source {
	if message == "" {
		message = DefaultMessage
	}
	return &Source{clock: clock, message: message}
}

// Next returns a fresh line stamped with the current time. Line terminators are
// the transport's responsibility.
func (s *Source) Next() string {
	return s.message + timeMarker + s.clock.Now().Format(TimestampLayout)
}

// ParseTimestamp extracts the timestamp from a line produced by Next. The
// result is interpreted in loc.
func ParseTimestamp(line string, loc *time.Location) (time.Time, bool) {
	i := strings.LastIndex(line, timeMarker)
	if i < 0 {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimRight(line[i+len(timeMarker):], "\r\n"), loc)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
