package session

import (
	"math"

	"github.com/squareup/ksession/kafka"
)

// Offset tokens accepted by Consume
const (
	OffsetTokenEnd       = "end"
	OffsetTokenBeginning = "beginning"
	OffsetTokenStored    = "stored"
)

// ResolveOffset maps an offset token to a concrete offset. An empty token resolves to def. Tokens which are not one
// of the keywords are parsed leniently as a base 10 integer: leading white space is skipped, the longest run of
// digits after an optional sign is used and anything after it ignored. A token with no digits resolves to 0, and a
// value which does not fit in 64 bits saturates.
func ResolveOffset(token string, def int64) int64 {
	switch token {
	case "":
		return def
	case OffsetTokenEnd:
		return kafka.OffsetEnd
	case OffsetTokenBeginning:
		return kafka.OffsetBeginning
	case OffsetTokenStored:
		return kafka.OffsetStored
	default:
		return parseLenient(token)
	}
}

func parseLenient(s string) int64 {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	// accumulate as a negative number so math.MinInt64 is reachable
	var n int64
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		d := int64(s[i] - '0')
		if n < (math.MinInt64+d)/10 {
			if neg {
				return math.MinInt64
			}
			return math.MaxInt64
		}
		n = n*10 - d
	}
	if neg {
		return n
	}
	if n == math.MinInt64 {
		return math.MaxInt64
	}
	return -n
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	default:
		return false
	}
}
