// Package ratelimit implements fixed-window request quotas backed by the
// shared counter store.
package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Quota is a request allowance over a fixed window, such as "100 per hour".
type Quota struct {
	Limit  int64
	Window time.Duration
}

var windowNames = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// ParseQuota parses a quota expression of the form "N per <window>", where
// window is one of second, minute, hour or day.
func ParseQuota(s string) (Quota, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) != 3 || fields[1] != "per" {
		return Quota{}, fmt.Errorf("invalid quota %q: want \"N per <window>\"", s)
	}

	limit, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || limit <= 0 {
		return Quota{}, fmt.Errorf("invalid quota limit %q", fields[0])
	}

	window, ok := windowNames[fields[2]]
	if !ok {
		return Quota{}, fmt.Errorf("invalid quota window %q", fields[2])
	}

	return Quota{Limit: limit, Window: window}, nil
}

// MustParseQuota is like ParseQuota but panics on error. Intended for
// validated configuration values and tests.
func MustParseQuota(s string) Quota {
	q, err := ParseQuota(s)
	if err != nil {
		panic(err)
	}
	return q
}

// String returns the canonical quota expression.
func (q Quota) String() string {
	for name, d := range windowNames {
		if d == q.Window {
			return fmt.Sprintf("%d per %s", q.Limit, name)
		}
	}
	return fmt.Sprintf("%d per %s", q.Limit, q.Window)
}

// windowSeconds returns the window length in whole seconds.
func (q Quota) windowSeconds() int64 {
	return int64(q.Window / time.Second)
}
