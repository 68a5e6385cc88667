package chatstore

import "time"

// storeEpochOffset is the number of seconds between the store's native epoch
// (2001-01-01T00:00:00Z) and the Unix epoch. Store timestamps are nanoseconds
// since the store epoch; the offset must be applied together with the unit
// conversion or every date-range filter silently shifts by ~31 years.
const storeEpochOffset int64 = 978307200

// FromStoreTime converts a store-native nanosecond timestamp to UTC.
func FromStoreTime(raw int64) time.Time {
	return time.Unix(raw/1e9+storeEpochOffset, raw%1e9).UTC()
}

// ToStoreTime converts t to the store-native representation. It is the exact
// inverse of FromStoreTime for all representable store timestamps.
func ToStoreTime(t time.Time) int64 {
	return (t.Unix()-storeEpochOffset)*1e9 + int64(t.Nanosecond())
}
