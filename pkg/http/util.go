package http

import (
	"time"

	xutil "Rewind/pkg/util"
)

// ParseTime parses RFC3339, a date, or unix seconds.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }
