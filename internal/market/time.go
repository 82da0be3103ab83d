package market

// All times inside this service are Unix seconds. Bybit mixes second and
// millisecond epochs across its REST and WebSocket payloads, so conversion
// happens exactly once, at the transport boundary (the bybit package and
// API request decoding). Nothing past that boundary calls ToSeconds.
const millisecondEpochFloor = 1_000_000_000_000

// ToSeconds normalizes an epoch timestamp to seconds. Values at or above
// 1e12 are treated as milliseconds (1e12 seconds is beyond year 33000,
// 1e12 milliseconds is 2001-09-09, so the ranges cannot collide for any
// realistic market timestamp).
func ToSeconds(t int64) int64 {
	if t >= millisecondEpochFloor {
		return t / 1000
	}
	return t
}
