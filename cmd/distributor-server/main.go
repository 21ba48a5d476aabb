package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/config"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/factory"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app := &cli.App{
		Name:  "distributor-server",
		Usage: "Merkle airdrop distributor server",
		Description: `Serves the merkle distributor over HTTP.

A distributor commits to the merkle root of a balance tree and pays out each
leaf at most once, within the node and amount caps fixed at creation.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvPort},
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Aliases: []string{"store"},
				Value:   config.PersistenceTypeMemory.String(),
				Usage:   fmt.Sprintf("Storage backend: %v", config.SupportedPersistenceTypes()),
				EnvVars: []string{config.EnvPersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Value:   config.DefaultDataPath,
				Usage:   "Data directory for the badger and bolt backends",
				EnvVars: []string{config.EnvDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				EnvVars: []string{config.EnvRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every redis key",
				EnvVars: []string{config.EnvRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "program-id",
				Value:   config.DefaultProgramID,
				Usage:   "Program id used to derive distributor and claim status addresses",
				EnvVars: []string{config.EnvProgramID},
			},
			&cli.Float64Flag{
				Name:    "claims-per-second",
				Value:   config.DefaultClaimsPerSecond,
				Usage:   "Claim rate limit, 0 disables",
				EnvVars: []string{config.EnvClaimsPerSecond},
			},
			&cli.IntFlag{
				Name:    "claim-burst",
				Value:   config.DefaultClaimBurst,
				Usage:   "Claim rate limit burst",
				EnvVars: []string{config.EnvClaimBurst},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvDebug},
			},
		},
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runServer(c *cli.Context) error {
	cfg := parseServerConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	programID, err := cfg.ProgramKey()
	if err != nil {
		return err
	}

	store, err := factory.NewPersistence(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open %s persistence: %w", cfg.PersistenceType, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Errorw("Failed to close persistence", "error", err)
		}
	}()

	svc := distributor.NewDistributor(store, programID, l)
	srv := server.NewServer(svc, server.Config{
		Port:            cfg.Port,
		ClaimsPerSecond: cfg.ClaimsPerSecond,
		ClaimBurst:      cfg.ClaimBurst,
		PersistenceType: cfg.PersistenceType.String(),
	}, l)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Distributor server running",
		"port", cfg.Port,
		"persistence", cfg.PersistenceType,
		"program_id", programID.String(),
		"claims_per_second", cfg.ClaimsPerSecond,
	)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	l.Sugar().Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func parseServerConfig(c *cli.Context) *config.ServerConfig {
	return &config.ServerConfig{
		Port:            c.Int("port"),
		PersistenceType: config.PersistenceType(c.String("persistence-type")),
		DataPath:        c.String("data-path"),
		Redis: config.RedisConfig{
			Address:   c.String("redis-address"),
			Password:  c.String("redis-password"),
			DB:        c.Int("redis-db"),
			KeyPrefix: c.String("redis-key-prefix"),
		},
		ProgramID:       c.String("program-id"),
		ClaimsPerSecond: c.Float64("claims-per-second"),
		ClaimBurst:      c.Int("claim-burst"),
		Debug:           c.Bool("verbose"),
	}
}
