package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyByteSlice(t *testing.T) {
	src := []byte("payload")
	cp := CopyByteSlice(src)
	require.Equal(t, src, cp)
	src[0] = 'X'
	require.Equal(t, "payload", string(cp))

	empty := CopyByteSlice(nil)
	require.NotNil(t, empty)
	require.Equal(t, 0, len(empty))
}
