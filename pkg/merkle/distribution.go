package merkle

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// ErrClaimNotFound is returned when a distribution has no entry for an account.
var ErrClaimNotFound = errors.New("merkle: no claim for account")

// LoadEntries reads an entitlement list. Files ending in .csv are parsed as CSV
// with an "account,amount" header; anything else as a JSON array of entries.
func LoadEntries(path string) ([]types.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open entries file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ParseEntriesCSV(f)
	}
	return ParseEntriesJSON(f)
}

// ParseEntriesJSON parses `[{"account": "<base58>", "amount": 100}, ...]`.
func ParseEntriesJSON(r io.Reader) ([]types.Entry, error) {
	var entries []types.Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyInput
	}
	return entries, nil
}

// ParseEntriesCSV parses CSV with a header row naming "account" and "amount"
// columns; other columns are ignored.
func ParseEntriesCSV(r io.Reader) ([]types.Entry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	accountCol, amountCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "account":
			accountCol = i
		case "amount":
			amountCol = i
		}
	}
	if accountCol < 0 || amountCol < 0 {
		return nil, fmt.Errorf("csv header must contain account and amount columns, got %v", header)
	}

	var entries []types.Entry
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}

		line, _ := reader.FieldPos(0)
		account, err := solana.PublicKeyFromBase58(strings.TrimSpace(record[accountCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid account %q: %w", line, record[accountCol], err)
		}
		amount, err := strconv.ParseUint(strings.TrimSpace(record[amountCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q: %w", line, record[amountCol], err)
		}
		entries = append(entries, types.Entry{Account: account, Amount: amount})
	}

	if len(entries) == 0 {
		return nil, ErrEmptyInput
	}
	return entries, nil
}

// NewDistribution exports the tree as an issuer distribution. The caps are the
// tightest ones that still let every entry claim.
func NewDistribution(tree *BalanceTree) (*types.Distribution, error) {
	claims, err := tree.Claims()
	if err != nil {
		return nil, err
	}

	var total, carry uint64
	for _, c := range claims {
		total, carry = bits.Add64(total, c.Amount, 0)
		if carry != 0 {
			return nil, fmt.Errorf("%w: at index %d", ErrTotalOverflow, c.Index)
		}
	}

	return &types.Distribution{
		Root:          tree.Root(),
		MaxNumNodes:   uint64(len(claims)),
		MaxTotalClaim: total,
		Claims:        claims,
	}, nil
}

// WriteDistribution writes d as indented JSON.
func WriteDistribution(path string, d *types.Distribution) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal distribution: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write distribution: %w", err)
	}
	return nil
}

// LoadDistribution reads a file written by WriteDistribution.
func LoadDistribution(path string) (*types.Distribution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read distribution: %w", err)
	}
	var d types.Distribution
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode distribution: %w", err)
	}
	return &d, nil
}

// FindClaims returns every claim in d for account. An account may appear
// under several indices.
func FindClaims(d *types.Distribution, account types.Account) ([]types.ClaimProof, error) {
	var found []types.ClaimProof
	for _, c := range d.Claims {
		if c.Account == account {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrClaimNotFound, account)
	}
	return found, nil
}

// VerifyDistribution checks every proof in d against d.Root and returns the
// first index that fails.
func VerifyDistribution(d *types.Distribution) error {
	for _, c := range d.Claims {
		if !VerifyProof(d.Root, c.Index, c.Account, c.Amount, c.Proof) {
			return fmt.Errorf("%w: index %d", ErrInvalidProof, c.Index)
		}
	}
	return nil
}
