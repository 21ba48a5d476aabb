package merkle

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

func TestParseEntriesCSV(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()

	input := "amount, account, note\n" +
		"100, " + a.String() + ", first\n" +
		"101," + b.String() + ",\n"

	entries, err := ParseEntriesCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []types.Entry{{Account: a, Amount: 100}, {Account: b, Amount: 101}}, entries)
}

func TestParseEntriesCSV_Errors(t *testing.T) {
	a := solana.NewWallet().PublicKey().String()

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "empty"},
		{"header only", "account,amount\n", "empty"},
		{"missing column", "account,value\n" + a + ",1\n", "must contain account and amount"},
		{"bad account", "account,amount\nnot-a-key,1\n", "line 2: invalid account"},
		{"bad amount", "account,amount\n" + a + ",-5\n", "line 2: invalid amount"},
		{"amount overflow", "account,amount\n" + a + ",18446744073709551616\n", "invalid amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEntriesCSV(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseEntriesJSON(t *testing.T) {
	a := solana.NewWallet().PublicKey()

	entries, err := ParseEntriesJSON(strings.NewReader(`[{"account":"` + a.String() + `","amount":18446744073709551615}]`))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, a, entries[0].Account)
	assert.Equal(t, uint64(math.MaxUint64), entries[0].Amount)

	_, err = ParseEntriesJSON(strings.NewReader(`[]`))
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = ParseEntriesJSON(strings.NewReader(`{"account":1}`))
	require.Error(t, err)
}

func TestLoadEntries_ByExtension(t *testing.T) {
	dir := t.TempDir()
	a := solana.NewWallet().PublicKey()

	csvPath := filepath.Join(dir, "entries.CSV")
	require.NoError(t, os.WriteFile(csvPath, []byte("account,amount\n"+a.String()+",7\n"), 0o600))
	entries, err := LoadEntries(csvPath)
	require.NoError(t, err)
	assert.Equal(t, []types.Entry{{Account: a, Amount: 7}}, entries)

	jsonPath := filepath.Join(dir, "entries.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"account":"`+a.String()+`","amount":7}]`), 0o600))
	entries, err = LoadEntries(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []types.Entry{{Account: a, Amount: 7}}, entries)

	_, err = LoadEntries(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestDistribution_RoundTrip(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	entries := []types.Entry{{Account: a, Amount: 100}, {Account: b, Amount: 101}, {Account: a, Amount: 102}}

	tree, err := NewBalanceTree(entries)
	require.NoError(t, err)

	d, err := NewDistribution(tree)
	require.NoError(t, err)
	assert.Equal(t, tree.Root(), d.Root)
	assert.Equal(t, uint64(3), d.MaxNumNodes)
	assert.Equal(t, uint64(303), d.MaxTotalClaim)
	assert.Nil(t, d.Mint)
	require.NoError(t, VerifyDistribution(d))

	path := filepath.Join(t.TempDir(), "distribution.json")
	require.NoError(t, WriteDistribution(path, d))

	loaded, err := LoadDistribution(path)
	require.NoError(t, err)
	assert.Equal(t, d, loaded)

	found, err := FindClaims(loaded, a)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, uint64(0), found[0].Index)
	assert.Equal(t, uint64(2), found[1].Index)

	_, err = FindClaims(loaded, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ErrClaimNotFound)

	loaded.Claims[1].Amount++
	err = VerifyDistribution(loaded)
	require.ErrorIs(t, err, ErrInvalidProof)
	assert.NotErrorIs(t, err, ErrLeafMismatch)
	assert.Contains(t, err.Error(), "index 1")
}

func TestNewDistribution_TotalOverflow(t *testing.T) {
	tree, err := NewBalanceTree([]types.Entry{
		{Account: solana.NewWallet().PublicKey(), Amount: math.MaxUint64},
		{Account: solana.NewWallet().PublicKey(), Amount: 1},
	})
	require.NoError(t, err)

	_, err = NewDistribution(tree)
	require.ErrorIs(t, err, ErrTotalOverflow)
}

func TestNewDistribution_TotalAtLimit(t *testing.T) {
	tree, err := NewBalanceTree([]types.Entry{
		{Account: solana.NewWallet().PublicKey(), Amount: math.MaxUint64 - 1},
		{Account: solana.NewWallet().PublicKey(), Amount: 1},
	})
	require.NoError(t, err)

	d, err := NewDistribution(tree)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), d.MaxTotalClaim)
}
