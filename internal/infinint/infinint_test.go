package infinint

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 255, 256, 65535, 1 << 32, ^uint64(0)}
	for _, v := range values {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, FromUint64(v)))
		got, err := Decode(&buf)
		require.NoError(t, err)
		gotVal, ok := got.Uint64()
		require.True(t, ok)
		assert.Equal(t, v, gotVal)
	}
}

func TestEncodeDecodeArbitraryPrecision(t *testing.T) {
	big1 := new(big.Int).Lsh(big.NewInt(1), 2048)
	i := FromBigInt(big1)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, i))
	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, i.Cmp(got))

	_, ok := got.Uint64()
	assert.False(t, ok, "value beyond 64 bits must report Uint64 overflow")
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	assert.Error(t, err)

	// length prefix claims 4 bytes but only 2 are present
	_, err = Decode(bytes.NewReader([]byte{4, 1, 2}))
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestAddAndCmp(t *testing.T) {
	a := FromUint64(10)
	b := FromUint64(5)
	assert.Equal(t, 1, a.Cmp(b))
	assert.Equal(t, uint64(15), mustUint64(t, a.Add(b)))
}

func mustUint64(t *testing.T, i Infinint) uint64 {
	t.Helper()
	v, ok := i.Uint64()
	require.True(t, ok)
	return v
}
