package utils

import "time"

// NowMillis returns the current time as epoch milliseconds, the timestamp
// unit used across all persisted state.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MillisToTime converts an epoch-milliseconds timestamp back to time.Time.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
