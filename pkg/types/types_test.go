package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashFromHex(t *testing.T) {
	t.Run("With prefix", func(t *testing.T) {
		h, err := HashFromHex("0x6dab4e82c3f19a1cbb713b58c3a8a8e16f5afcc6a6e982393e1d8113675bcf47")
		require.NoError(t, err)
		require.Equal(t, byte(0x6d), h[0])
		require.Equal(t, byte(0x47), h[31])
	})

	t.Run("Without prefix", func(t *testing.T) {
		h, err := HashFromHex("6dab4e82c3f19a1cbb713b58c3a8a8e16f5afcc6a6e982393e1d8113675bcf47")
		require.NoError(t, err)
		require.Equal(t, "0x6dab4e82c3f19a1cbb713b58c3a8a8e16f5afcc6a6e982393e1d8113675bcf47", h.String())
	})

	t.Run("Wrong length", func(t *testing.T) {
		_, err := HashFromHex("0xdeadbeef")
		require.Error(t, err)
		require.Contains(t, err.Error(), "length")
	})

	t.Run("Not hex", func(t *testing.T) {
		_, err := HashFromHex("0xzz")
		require.Error(t, err)
	})
}

func TestHashJSON(t *testing.T) {
	var h Hash
	h[0] = 0xab
	h[31] = 0x01

	data, err := json.Marshal(struct {
		Root Hash `json:"root"`
	}{Root: h})
	require.NoError(t, err)
	require.Contains(t, string(data), `"0xab`)

	var decoded struct {
		Root Hash `json:"root"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, h, decoded.Root)
	require.False(t, decoded.Root.IsZero())
	require.True(t, Hash{}.IsZero())
}

func TestDistributorClone(t *testing.T) {
	d := &Distributor{MaxNumNodes: 3, NumNodesClaimed: 1}
	c := d.Clone()
	c.NumNodesClaimed = 2
	require.Equal(t, uint64(1), d.NumNodesClaimed)

	var nilDistributor *Distributor
	require.Nil(t, nilDistributor.Clone())
}
