package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/client"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

const envServerURL = "MD_SERVER_URL"

func main() {
	serverFlag := &cli.StringFlag{
		Name:    "server",
		Usage:   "Distributor server URL",
		Value:   "http://localhost:8080",
		EnvVars: []string{envServerURL},
	}
	distributorFlag := &cli.StringFlag{
		Name:     "distributor",
		Usage:    "Distributor address (base58)",
		Required: true,
	}
	distributionFlag := &cli.StringFlag{
		Name:     "distribution",
		Usage:    "Distribution file written by build-tree",
		Required: true,
	}

	app := &cli.App{
		Name:  "distributor-cli",
		Usage: "Build balance trees and claim from a merkle distributor",
		Description: `Issuer and recipient tooling for the merkle distributor.

Issuers build a distribution file from a list of entitlements and create a
distributor committing to its root. Recipients look up their proof in the
distribution file and claim with their keypair.`,
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "build-tree",
				Usage: "Build a distribution file from an entries file (JSON or CSV)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "entries",
						Usage:    "Entries file: JSON [{account, amount}] or CSV with account,amount header",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output distribution file",
						Value: "distribution.json",
					},
				},
				Action: buildTreeCommand,
			},
			{
				Name:  "verify-proof",
				Usage: "Check proofs in a distribution file against its root",
				Flags: []cli.Flag{
					distributionFlag,
					&cli.StringFlag{
						Name:  "account",
						Usage: "Only verify the claims of this account",
					},
				},
				Action: verifyProofCommand,
			},
			{
				Name:  "create",
				Usage: "Create a distributor for a distribution file",
				Flags: []cli.Flag{
					serverFlag,
					distributionFlag,
					&cli.StringFlag{
						Name:     "mint",
						Usage:    "Token mint (base58)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "base",
						Usage: "Base key seeding the distributor address; random when empty",
					},
				},
				Action: createCommand,
			},
			{
				Name:  "fund",
				Usage: "Mint tokens into a distributor reserve",
				Flags: []cli.Flag{
					serverFlag,
					distributorFlag,
					&cli.Uint64Flag{
						Name:     "amount",
						Usage:    "Amount to mint",
						Required: true,
					},
				},
				Action: fundCommand,
			},
			{
				Name:  "claim",
				Usage: "Claim every leaf of the keypair's account",
				Flags: []cli.Flag{
					serverFlag,
					distributorFlag,
					distributionFlag,
					&cli.StringFlag{
						Name:     "keypair",
						Usage:    "Solana keygen JSON keypair file",
						Required: true,
					},
				},
				Action: claimCommand,
			},
			{
				Name:  "status",
				Usage: "Show a distributor, or the claim status of one index",
				Flags: []cli.Flag{
					serverFlag,
					distributorFlag,
					&cli.Int64Flag{
						Name:  "index",
						Usage: "Leaf index",
						Value: -1,
					},
				},
				Action: statusCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func createClient(c *cli.Context) (*client.Client, error) {
	zapLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}
	return client.NewClient(&client.ClientConfig{
		BaseURL: c.String("server"),
		Logger:  zapLogger,
	})
}

func parseKey(c *cli.Context, name string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(c.String(name))
	if err != nil {
		return solana.PublicKey{}, errors.Wrapf(err, "invalid --%s", name)
	}
	return key, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func buildTreeCommand(c *cli.Context) error {
	entries, err := merkle.LoadEntries(c.String("entries"))
	if err != nil {
		return errors.Wrapf(err, "failed to load entries from %s", c.String("entries"))
	}

	tree, err := merkle.NewBalanceTree(entries)
	if err != nil {
		return errors.Wrap(err, "failed to build balance tree")
	}
	d, err := merkle.NewDistribution(tree)
	if err != nil {
		return errors.Wrap(err, "failed to build distribution")
	}

	output := c.String("output")
	if err := merkle.WriteDistribution(output, d); err != nil {
		return errors.Wrapf(err, "failed to write %s", output)
	}

	fmt.Printf("Root:            %s\n", d.Root)
	fmt.Printf("Max num nodes:   %d\n", d.MaxNumNodes)
	fmt.Printf("Max total claim: %d\n", d.MaxTotalClaim)
	fmt.Printf("Distribution written to: %s\n", output)
	return nil
}

func verifyProofCommand(c *cli.Context) error {
	d, err := merkle.LoadDistribution(c.String("distribution"))
	if err != nil {
		return err
	}

	if !c.IsSet("account") {
		if err := merkle.VerifyDistribution(d); err != nil {
			return err
		}
		fmt.Printf("All %d proofs verify against %s\n", len(d.Claims), d.Root)
		return nil
	}

	account, err := parseKey(c, "account")
	if err != nil {
		return err
	}
	claims, err := merkle.FindClaims(d, account)
	if err != nil {
		return err
	}
	for _, claim := range claims {
		if !merkle.VerifyProof(d.Root, claim.Index, claim.Account, claim.Amount, claim.Proof) {
			return errors.Wrapf(merkle.ErrInvalidProof, "index %d", claim.Index)
		}
		fmt.Printf("Index %d: %d verifies\n", claim.Index, claim.Amount)
	}
	return nil
}

func createCommand(c *cli.Context) error {
	path := c.String("distribution")
	d, err := merkle.LoadDistribution(path)
	if err != nil {
		return err
	}

	mint, err := parseKey(c, "mint")
	if err != nil {
		return err
	}
	req := &types.CreateDistributorRequest{
		Root:          d.Root,
		Mint:          mint,
		MaxNumNodes:   d.MaxNumNodes,
		MaxTotalClaim: d.MaxTotalClaim,
	}
	if c.IsSet("base") {
		if req.Base, err = parseKey(c, "base"); err != nil {
			return err
		}
	}

	cl, err := createClient(c)
	if err != nil {
		return err
	}
	created, err := cl.CreateDistributor(context.Background(), req)
	if err != nil {
		return errors.Wrap(err, "failed to create distributor")
	}

	d.Mint = &mint
	if err := merkle.WriteDistribution(path, d); err != nil {
		return errors.Wrapf(err, "failed to record mint in %s", path)
	}

	fmt.Printf("Distributor: %s\n", created.Key)
	fmt.Printf("Reserve:     %s\n", created.Reserve)
	return nil
}

func fundCommand(c *cli.Context) error {
	key, err := parseKey(c, "distributor")
	if err != nil {
		return err
	}
	cl, err := createClient(c)
	if err != nil {
		return err
	}

	balance, err := cl.FundReserve(context.Background(), key, c.Uint64("amount"))
	if err != nil {
		return errors.Wrapf(err, "failed to fund %s", key)
	}
	fmt.Printf("Reserve %s balance: %d\n", balance.Account, balance.Amount)
	return nil
}

func claimCommand(c *cli.Context) error {
	key, err := parseKey(c, "distributor")
	if err != nil {
		return err
	}
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(c.String("keypair"))
	if err != nil {
		return errors.Wrapf(err, "failed to read keypair %s", c.String("keypair"))
	}

	d, err := merkle.LoadDistribution(c.String("distribution"))
	if err != nil {
		return err
	}
	claims, err := merkle.FindClaims(d, signer.PublicKey())
	if err != nil {
		return err
	}

	cl, err := createClient(c)
	if err != nil {
		return err
	}

	for _, claim := range claims {
		sig, err := distributor.SignClaim(signer, key, claim.Index, claim.Amount)
		if err != nil {
			return errors.Wrapf(err, "failed to sign claim for index %d", claim.Index)
		}

		status, err := cl.Claim(context.Background(), &types.ClaimRequest{
			Distributor: key,
			Index:       claim.Index,
			Account:     claim.Account,
			Amount:      claim.Amount,
			Proof:       claim.Proof,
			Claimant:    signer.PublicKey(),
			Signature:   sig,
		})
		if errors.Is(err, distributor.ErrAlreadyClaimed) {
			fmt.Printf("Index %d: already claimed\n", claim.Index)
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "failed to claim index %d", claim.Index)
		}
		fmt.Printf("Index %d: claimed %d, receipt %s\n", status.Index, status.Amount, status.Address)
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	key, err := parseKey(c, "distributor")
	if err != nil {
		return err
	}
	cl, err := createClient(c)
	if err != nil {
		return err
	}

	if index := c.Int64("index"); index >= 0 {
		status, err := cl.GetClaimStatus(context.Background(), key, uint64(index))
		if err != nil {
			return errors.Wrapf(err, "failed to get claim status for index %d", index)
		}
		return printJSON(status)
	}

	d, err := cl.GetDistributor(context.Background(), key)
	if err != nil {
		return errors.Wrapf(err, "failed to get distributor %s", key)
	}
	return printJSON(d)
}
