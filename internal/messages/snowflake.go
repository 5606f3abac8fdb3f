package messages

import (
	"fmt"
	"math/big"
	"time"
)

// Platform epoch for snowflake ids: 2015-01-01T00:00:00Z, in milliseconds.
const snowflakeEpochMillis = 1420070400000

// SnowflakeTime extracts the creation time embedded in a snowflake id.
// The id is treated as an arbitrary-precision decimal string and never
// parsed into a machine integer.
func SnowflakeTime(id string) (time.Time, error) {
	if err := validatePlatformID(id); err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidMessageID, id)
	}

	value, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidMessageID, id)
	}

	millis := new(big.Int).Rsh(value, 22)
	millis.Add(millis, big.NewInt(snowflakeEpochMillis))
	return time.UnixMilli(millis.Int64()).UTC(), nil
}

// SnowflakeForTime mints a synthetic snowflake whose embedded timestamp is
// the given instant. Useful as an exclusive lower bound when requesting
// platform history after a known point in time.
func SnowflakeForTime(ts time.Time) string {
	millis := big.NewInt(ts.UTC().UnixMilli() - snowflakeEpochMillis)
	if millis.Sign() < 0 {
		millis.SetInt64(0)
	}
	return new(big.Int).Lsh(millis, 22).String()
}
