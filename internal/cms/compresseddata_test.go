package cms

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := make([]byte, 1<<20)
	_, err := rand.Read(data)
	require.NoError(t, err)

	der, err := Compress(bytes.NewReader(data))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Decompress(der, &out))
	require.Equal(t, data, out.Bytes())
}

func TestDecompressRejectsCorruptContentInfo(t *testing.T) {
	der, err := Compress(bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	der[0] = 0x00 // corrupt outer SEQUENCE tag
	var out bytes.Buffer
	require.Error(t, Decompress(der, &out))
}
