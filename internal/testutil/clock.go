package testutil

import "time"

// Now is a fixed capture time so burst names and timestamps are deterministic
func Now() time.Time {
	return time.Date(2018, time.September, 3, 14, 5, 0, 0, time.UTC)
}
