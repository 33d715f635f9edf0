package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
)

func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be numeric").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryTime reads an RFC 3339 timestamp or a YYYY-MM-DD date (UTC
// midnight). ok is false when the parameter is absent.
func ParseQueryTime(r *http.Request, key string) (time.Time, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), true, nil
	}
	return time.Time{}, false, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be RFC 3339 or YYYY-MM-DD").
		WithDetails(map[string]any{"field": key})
}

// ParseQueryWindow reads a half-open [start, end) window. A missing end is the
// close of today (UTC); a missing start is defaultDays before end.
func ParseQueryWindow(r *http.Request, now time.Time, defaultDays, maxDays int) (time.Time, time.Time, error) {
	end, ok, err := ParseQueryTime(r, "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		end = now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
	start, ok, err := ParseQueryTime(r, "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		start = end.AddDate(0, 0, -defaultDays)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "end must be after start")
	}
	if maxDays > 0 && end.Sub(start) > time.Duration(maxDays)*24*time.Hour {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "window too long").
			WithDetails(map[string]any{"max_days": maxDays})
	}
	return start, end, nil
}

// QueryList collects repeated and comma-separated values of key.
func QueryList(r *http.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, part := range strings.Split(raw, ",") {
			if v := SanitizeString(part, 128); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
