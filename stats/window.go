package stats

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/aschepis/memvault/memerr"
)

// Window is one of the supported activity windows.
type Window string

const (
	WindowHour  Window = "1h"
	WindowDay   Window = "24h"
	WindowWeek  Window = "7d"
	WindowMonth Window = "30d"
)

type windowShape struct {
	bucket time.Duration
	count  int
}

var windowShapes = map[Window]windowShape{
	WindowHour:  {bucket: 5 * time.Minute, count: 12},
	WindowDay:   {bucket: time.Hour, count: 24},
	WindowWeek:  {bucket: 24 * time.Hour, count: 7},
	WindowMonth: {bucket: 24 * time.Hour, count: 30},
}

// Windows lists the supported windows, shortest first.
var Windows = []Window{WindowHour, WindowDay, WindowWeek, WindowMonth}

// ParseWindow validates a window token. Unknown tokens are a ValidationError,
// never a silent default.
func ParseWindow(s string) (Window, error) {
	w := Window(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := windowShapes[w]; !ok {
		names := lo.Map(Windows, func(w Window, _ int) string { return string(w) })
		return "", memerr.NewValidationError("unsupported window %q (want one of %s)", s, strings.Join(names, ", "))
	}
	return w, nil
}

// Valid reports whether w is a supported window.
func (w Window) Valid() bool {
	_, ok := windowShapes[w]
	return ok
}

// BucketSize returns the width of one activity bucket.
func (w Window) BucketSize() time.Duration {
	return windowShapes[w].bucket
}

// Buckets returns the number of activity buckets in the window.
func (w Window) Buckets() int {
	return windowShapes[w].count
}

// bounds returns the aligned [start, end) range covering the window at now.
// The last bucket is the one containing now.
func (w Window) bounds(now time.Time) (time.Time, time.Time) {
	shape := windowShapes[w]
	end := now.UTC().Truncate(shape.bucket).Add(shape.bucket)
	start := end.Add(-time.Duration(shape.count) * shape.bucket)
	return start, end
}
