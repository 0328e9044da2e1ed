package utils

import "time"

// RawTimeFormat is the timestamp layout used by exchange history exports.
const RawTimeFormat = "2006-01-02 15:04:05"

// ParseUTCTime parses a history timestamp as UTC.
func ParseUTCTime(value string) (time.Time, error) {
	return time.ParseInLocation(RawTimeFormat, value, time.UTC)
}
