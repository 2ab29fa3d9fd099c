package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "NCR", cfg.Ledger.NCRPrefix)
	assert.True(t, cfg.Ledger.CopyPricesOnRollForward)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	content := `
database:
  host: db.internal
  port: 6543
api:
  port: 9000
  read_timeout: 10s
ledger:
  ncr_prefix: QA
  copy_prices_on_roll_forward: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("API_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 9100, cfg.API.Port)
	assert.Equal(t, 10*time.Second, cfg.API.ReadTimeout)
	assert.Equal(t, "QA", cfg.Ledger.NCRPrefix)
	assert.False(t, cfg.Ledger.CopyPricesOnRollForward)

	lc := cfg.LedgerManagerConfig()
	assert.Equal(t, "QA", lc.NCRPrefix)
	assert.False(t, lc.CopyPricesOnRollForward)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "デフォルト", mutate: func(*Config) {}},
		{name: "不正なAPIポート", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "不正なログレベル", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{name: "不正なログフォーマット", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "空のNCRプレフィックス", mutate: func(c *Config) { c.Ledger.NCRPrefix = " " }, wantErr: true},
		{name: "DBホスト未指定", mutate: func(c *Config) { c.Database.Host = "" }, wantErr: true},
		{
			name: "メモリストアではDB設定不要",
			mutate: func(c *Config) {
				c.API.UseMemoryStore = true
				c.Database.Host = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
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

func TestDSN(t *testing.T) {
	cfg := Default()
	cfg.Database.Password = "secret"

	assert.Equal(t, "host=localhost port=5432 user=ledger password=secret dbname=ledger_db sslmode=disable", cfg.DSN())
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Logging.Output = "stderr"

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.Logging.Level = "nope"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}
