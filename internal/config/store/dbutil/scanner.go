package dbutil

import (
	"fmt"
	"time"
)

// TimeLayout is the text representation of timestamps stored in SQLite.
// It sorts lexically in chronological order for UTC values.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RowScanner is implemented by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a column written by FormatTime. Plain RFC 3339 and the
// SQLite CURRENT_TIMESTAMP form are accepted for rows edited by hand.
func ParseTime(value string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}
