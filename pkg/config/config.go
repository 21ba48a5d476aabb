package config

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
)

// Environment variable names for distributor server configuration
const (
	EnvPort            = "MD_PORT"
	EnvPersistenceType = "MD_PERSISTENCE_TYPE"
	EnvDataPath        = "MD_DATA_PATH"
	EnvRedisAddress    = "MD_REDIS_ADDRESS"
	EnvRedisPassword   = "MD_REDIS_PASSWORD"
	EnvRedisDB         = "MD_REDIS_DB"
	EnvRedisKeyPrefix  = "MD_REDIS_KEY_PREFIX"
	EnvProgramID       = "MD_PROGRAM_ID"
	EnvClaimsPerSecond = "MD_CLAIMS_PER_SECOND"
	EnvClaimBurst      = "MD_CLAIM_BURST"
	EnvDebug           = "MD_DEBUG"
)

const (
	// DefaultProgramID is the merkle distributor program deployed on Solana
	// mainnet. Distributor and claim status addresses are derived under it.
	DefaultProgramID = "MRKGLMizK9XSTaD1d1jbVkdHZbQVCSnPpYiTw9aKQv8"

	DefaultPort            = 8080
	DefaultDataPath        = "./data"
	DefaultClaimsPerSecond = 50
	DefaultClaimBurst      = 100
)

// PersistenceType selects the storage backend.
type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceTypeMemory PersistenceType = persistence.TypeMemory
	PersistenceTypeBadger PersistenceType = persistence.TypeBadger
	PersistenceTypeBolt   PersistenceType = persistence.TypeBolt
	PersistenceTypeRedis  PersistenceType = persistence.TypeRedis
)

// SupportedPersistenceTypes lists every backend the server can open.
func SupportedPersistenceTypes() []string {
	return []string{
		PersistenceTypeMemory.String(),
		PersistenceTypeBadger.String(),
		PersistenceTypeBolt.String(),
		PersistenceTypeRedis.String(),
	}
}

// RedisConfig is the connection configuration for the redis backend.
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

// ServerConfig represents the complete configuration for a distributor server
type ServerConfig struct {
	Port int `json:"port"`

	// Storage
	PersistenceType PersistenceType `json:"persistenceType"`
	DataPath        string          `json:"dataPath"` // badger and bolt only
	Redis           RedisConfig     `json:"redis"`

	// ProgramID is the base58 program id used for address derivation
	ProgramID string `json:"programId"`

	// Claim endpoint rate limit. ClaimsPerSecond of 0 disables limiting.
	ClaimsPerSecond float64 `json:"claimsPerSecond"`
	ClaimBurst      int     `json:"claimBurst"`

	Debug bool `json:"debug"`
}

// NewDefaultServerConfig returns a config using in-memory storage.
func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            DefaultPort,
		PersistenceType: PersistenceTypeMemory,
		DataPath:        DefaultDataPath,
		ProgramID:       DefaultProgramID,
		ClaimsPerSecond: DefaultClaimsPerSecond,
		ClaimBurst:      DefaultClaimBurst,
	}
}

// Validate checks the whole configuration and reports every problem at once.
func (c *ServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	switch c.PersistenceType {
	case PersistenceTypeMemory:
	case PersistenceTypeBadger, PersistenceTypeBolt:
		if c.DataPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataPath"),
				fmt.Sprintf("dataPath is required for %s persistence", c.PersistenceType)))
		}
	case PersistenceTypeRedis:
		redisPath := field.NewPath("redis")
		if c.Redis.Address == "" {
			allErrors = append(allErrors, field.Required(redisPath.Child("address"), "address is required for redis persistence"))
		}
		if c.Redis.DB < 0 || c.Redis.DB > 15 {
			allErrors = append(allErrors, field.Invalid(redisPath.Child("db"), c.Redis.DB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistenceType"), c.PersistenceType.String(), SupportedPersistenceTypes()))
	}

	if c.ProgramID == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("programId"), "programId is required"))
	} else if _, err := solana.PublicKeyFromBase58(c.ProgramID); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("programId"), c.ProgramID, err.Error()))
	}

	if c.ClaimsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("claimsPerSecond"), c.ClaimsPerSecond, "must not be negative"))
	}
	if c.ClaimsPerSecond > 0 && c.ClaimBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("claimBurst"), c.ClaimBurst, "must be at least 1 when rate limiting is enabled"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// ProgramKey parses ProgramID.
func (c *ServerConfig) ProgramKey() (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(c.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program id %q: %w", c.ProgramID, err)
	}
	return key, nil
}
