package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ServerConfig)
		wantErr []string
	}{
		{
			name:   "defaults",
			mutate: func(c *ServerConfig) {},
		},
		{
			name: "badger with data path",
			mutate: func(c *ServerConfig) {
				c.PersistenceType = PersistenceTypeBadger
				c.DataPath = "/var/lib/distributor"
			},
		},
		{
			name: "redis",
			mutate: func(c *ServerConfig) {
				c.PersistenceType = PersistenceTypeRedis
				c.Redis = RedisConfig{Address: "localhost:6379", DB: 3}
			},
		},
		{
			name:   "rate limiting disabled",
			mutate: func(c *ServerConfig) { c.ClaimsPerSecond = 0; c.ClaimBurst = 0 },
		},
		{
			name:    "port out of range",
			mutate:  func(c *ServerConfig) { c.Port = 70000 },
			wantErr: []string{"port"},
		},
		{
			name:    "unknown persistence",
			mutate:  func(c *ServerConfig) { c.PersistenceType = "postgres" },
			wantErr: []string{"persistenceType", "postgres"},
		},
		{
			name: "bolt without data path",
			mutate: func(c *ServerConfig) {
				c.PersistenceType = PersistenceTypeBolt
				c.DataPath = ""
			},
			wantErr: []string{"dataPath"},
		},
		{
			name: "redis without address",
			mutate: func(c *ServerConfig) {
				c.PersistenceType = PersistenceTypeRedis
				c.Redis.DB = 16
			},
			wantErr: []string{"redis.address", "redis.db"},
		},
		{
			name:    "invalid program id",
			mutate:  func(c *ServerConfig) { c.ProgramID = "not-base58!" },
			wantErr: []string{"programId"},
		},
		{
			name:    "missing program id",
			mutate:  func(c *ServerConfig) { c.ProgramID = "" },
			wantErr: []string{"programId"},
		},
		{
			name:    "negative rate",
			mutate:  func(c *ServerConfig) { c.ClaimsPerSecond = -1 },
			wantErr: []string{"claimsPerSecond"},
		},
		{
			name:    "zero burst",
			mutate:  func(c *ServerConfig) { c.ClaimBurst = 0 },
			wantErr: []string{"claimBurst"},
		},
		{
			name: "errors are aggregated",
			mutate: func(c *ServerConfig) {
				c.Port = 0
				c.ProgramID = ""
			},
			wantErr: []string{"port", "programId"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultServerConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestServerConfig_ProgramKey(t *testing.T) {
	cfg := NewDefaultServerConfig()
	key, err := cfg.ProgramKey()
	require.NoError(t, err)
	assert.Equal(t, DefaultProgramID, key.String())

	cfg.ProgramID = "bogus"
	_, err = cfg.ProgramKey()
	require.Error(t, err)
}

func TestSupportedPersistenceTypes(t *testing.T) {
	assert.Equal(t, []string{"memory", "badger", "bolt", "redis"}, SupportedPersistenceTypes())
}
