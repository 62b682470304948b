package property

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// TempIntIDSeed is the first integer handed out as a temporary id. It sits far
// above realistic server-assigned ids so the two ranges do not collide.
const TempIntIDSeed = 1_000_000_000

// TempStringIDPrefix prefixes generated string ids.
const TempStringIDPrefix = "TEMP-"

var (
	tempIntCounter    atomic.Int64
	tempStringCounter atomic.Int64
)

func init() {
	tempIntCounter.Store(TempIntIDSeed - 1)
}

func nextTempInt() int64 {
	return tempIntCounter.Add(1)
}

func nextTempString() string {
	return TempStringIDPrefix + strconv.FormatInt(tempStringCounter.Add(1), 10)
}

// ReserveTempID advances the generators past id so that an id already held
// by a stored record is never handed out again. Ids outside the generated
// ranges are ignored.
func ReserveTempID(id any) {
	switch v := id.(type) {
	case nil:
	case string:
		rest, ok := strings.CutPrefix(v, TempStringIDPrefix)
		if !ok {
			return
		}
		if n, err := strconv.ParseInt(rest, 10, 64); err == nil {
			advanceTo(&tempStringCounter, n)
		}
	default:
		if n := toInt64(v); n >= TempIntIDSeed {
			advanceTo(&tempIntCounter, n)
		}
	}
}

func advanceTo(c *atomic.Int64, n int64) {
	for {
		cur := c.Load()
		if cur >= n || c.CompareAndSwap(cur, n) {
			return
		}
	}
}
