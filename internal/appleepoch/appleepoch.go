// Package appleepoch converts between the Messages store's native timestamps
// and time.Time. The store encodes time relative to the Apple reference epoch
// (2001-01-01 00:00:00 UTC); current-generation stores use nanoseconds, older
// ones whole seconds.
package appleepoch

import "time"

// Offset is the number of seconds between the Unix epoch and the Apple
// reference epoch.
const Offset int64 = 978307200

// nanoFloor is the magnitude boundary between the two store generations.
// Second-scale values never exceed ten digits (that would put them past the
// year 2317), so anything larger is nanoseconds.
const nanoFloor int64 = 10_000_000_000

// Decode converts a native store timestamp to UTC time. It is total: every
// int64 input yields a defined time, with the magnitude convention detected
// from the value itself.
func Decode(native int64) time.Time {
	if native >= nanoFloor || native <= -nanoFloor {
		return time.Unix(Offset+native/1e9, native%1e9).UTC()
	}
	return time.Unix(Offset+native, 0).UTC()
}

// Encode converts a time to the current store generation's native form,
// nanoseconds since the Apple reference epoch. It is the exact inverse of
// Decode for nanosecond-scale values.
func Encode(t time.Time) int64 {
	return (t.Unix()-Offset)*1e9 + int64(t.Nanosecond())
}
