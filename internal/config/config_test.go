package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "store", cfg.ReceiptCounter)

	p := cfg.Policy()
	assert.Equal(t, 15, p.CustomerTermsDays)
	assert.Equal(t, 30, p.SupplierTermsDays)
	assert.Equal(t, "REC-", p.ReceiptPrefix)
	assert.NotNil(t, p.Now)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("RECEIPT_PREFIX", "R-")
	t.Setenv("DEFAULT_CUSTOMER_TERMS_DAYS", "7")
	t.Setenv("RECEIPT_COUNTER", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "R-", cfg.Policy().ReceiptPrefix)
	assert.Equal(t, 7, cfg.Policy().CustomerTermsDays)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url": {"STORE_DRIVER": "postgres", "DATABASE_URL": ""},
		"unknown driver":       {"STORE_DRIVER": "sqlite"},
		"unknown counter":      {"STORE_DRIVER": "memory", "RECEIPT_COUNTER": "etcd"},
		"bad terms":            {"STORE_DRIVER": "memory", "DEFAULT_SUPPLIER_TERMS_DAYS": "thirty"},
		"negative terms":       {"STORE_DRIVER": "memory", "DEFAULT_CUSTOMER_TERMS_DAYS": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
