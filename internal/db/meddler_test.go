package db

import (
	"database/sql"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestBigIntMeddler_RoundTrip(t *testing.T) {
	m := BigIntMeddler{}

	tests := []struct {
		name  string
		value *big.Int
	}{
		{name: "zero", value: big.NewInt(0)},
		{name: "negative", value: big.NewInt(-1500)},
		{name: "beyond int64", value: new(big.Int).Lsh(big.NewInt(1), 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved, err := m.PreWrite(tt.value)
			require.NoError(t, err)
			require.Equal(t, tt.value.String(), saved)

			target, err := m.PreRead(nil)
			require.NoError(t, err)
			*(target.(*string)) = saved.(string)

			var decoded *big.Int
			require.NoError(t, m.PostRead(&decoded, target))
			require.Zero(t, decoded.Cmp(tt.value))
		})
	}
}

func TestBigIntMeddler_NilWritesZero(t *testing.T) {
	m := BigIntMeddler{}

	saved, err := m.PreWrite((*big.Int)(nil))
	require.NoError(t, err)
	require.Equal(t, "0", saved)
}

func TestBigIntMeddler_RejectsMalformedColumn(t *testing.T) {
	m := BigIntMeddler{}

	target, err := m.PreRead(nil)
	require.NoError(t, err)
	*(target.(*string)) = "0x10"

	var decoded *big.Int
	require.Error(t, m.PostRead(&decoded, target))
}

func TestHashMeddler_RoundTrip(t *testing.T) {
	m := HashMeddler{}
	hash := common.HexToHash("0xdeadbeef")

	saved, err := m.PreWrite(hash)
	require.NoError(t, err)
	require.Equal(t, hash.Hex(), saved)

	target, err := m.PreRead(nil)
	require.NoError(t, err)
	ns := target.(*sql.NullString)
	ns.String = saved.(string)
	ns.Valid = true

	var decoded common.Hash
	require.NoError(t, m.PostRead(&decoded, target))
	require.Equal(t, hash, decoded)
}

func TestHashMeddler_NullColumn(t *testing.T) {
	m := HashMeddler{}

	target, err := m.PreRead(nil)
	require.NoError(t, err)

	var decoded common.Hash
	require.NoError(t, m.PostRead(&decoded, target))
	require.Equal(t, common.Hash{}, decoded)

	var ptr *common.Hash
	target, err = m.PreRead(nil)
	require.NoError(t, err)
	require.NoError(t, m.PostRead(&ptr, target))
	require.Nil(t, ptr)
}
