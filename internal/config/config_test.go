package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Indexer.SyncInterval)
	assert.Equal(t, uint64(1000000), cfg.Indexer.BlockLotMaxSize)
	assert.Equal(t, "0x0000000000000000000000000000000000000000", cfg.Indexer.ZeroAddress)
	assert.Equal(t, []string{"IbetStraightBond", "IbetShare"}, cfg.Indexer.TokenTypes)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("INDEXER_TOKEN_TYPES", "IbetShare")
	t.Setenv("INDEXER_SYNC_INTERVAL", "3s")
	t.Setenv("INDEXER_BLOCK_LOT_MAX_SIZE", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"IbetShare"}, cfg.Indexer.TokenTypes)
	assert.Equal(t, 3*time.Second, cfg.Indexer.SyncInterval)
	assert.Equal(t, uint64(500), cfg.Indexer.BlockLotMaxSize)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no token types", func(c *Config) { c.Indexer.TokenTypes = nil }, true},
		{"zero lot size", func(c *Config) { c.Indexer.BlockLotMaxSize = 0 }, true},
		{"zero interval", func(c *Config) { c.Indexer.SyncInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Indexer: IndexerConfig{
				TokenTypes:      []string{"IbetShare"},
				BlockLotMaxSize: 10,
				SyncInterval:    time.Second,
			}}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_ConnectionStrings(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "indexer",
		Password: "p@ss",
		Name:     "positions",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=db port=5433 user=indexer password=p@ss dbname=positions sslmode=disable", cfg.DSN())
	assert.Equal(t, "postgres://indexer:p%40ss@db:5433/positions?sslmode=disable", cfg.URL())
}
