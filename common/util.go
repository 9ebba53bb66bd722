package common

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// CopyByteSlice returns a copy of buf which does not share the backing array. A nil or empty slice gives an empty,
// non-nil slice so callers can tell a zero length payload apart from no payload.
func CopyByteSlice(buf []byte) []byte {
	res := make([]byte, len(buf))
	copy(res, buf)
	return res
}

func InvokeCloser(closer io.Closer) {
	if closer != nil {
		if err := closer.Close(); err != nil {
			log.Errorf("failed to close %v", err)
		}
	}
}
