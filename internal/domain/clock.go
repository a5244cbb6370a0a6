package domain

import "time"

// TimestampPrecision is the resolution both stores keep for timestamps.
const TimestampPrecision = time.Microsecond

// Now returns the current UTC time at TimestampPrecision, so values handed
// back to callers compare equal to what a later read returns.
func Now() time.Time {
	return time.Now().UTC().Truncate(TimestampPrecision)
}
