package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenfinney/assist"
)

var required = []string{"--rpc-url", "http://localhost:8545", "--private-key", "0xabc"}

func noEnvFile() []string {
	return []string{"--env-file", ""}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(append(noEnvFile(), required...))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), cfg.ChainID)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, assist.DefaultReminderDelay, cfg.ReminderDelay)
	assert.Equal(t, assist.DefaultStallDelay, cfg.StallDelay)
	assert.Equal(t, assist.DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, uint64(assist.DefaultConfirmations), cfg.Confirmations)
	assert.Equal(t, int64(0), cfg.MinimumBalance.Int64())
	assert.Equal(t, ProviderStyleLegacy, cfg.ProviderStyle)

	defaults := cfg.Defaults()
	assert.Equal(t, int64(assist.DefaultFeeBufferDivisor), defaults.FeeBufferDivisor)
	assert.Equal(t, "assistd", defaults.ProviderName)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("ASSIST_RPC_URL", "ws://node:8546")
	t.Setenv("ASSIST_PRIVATE_KEY", "0xdef")
	t.Setenv("ASSIST_CHAIN_ID", "56")
	t.Setenv("ASSIST_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("ASSIST_STALL_DELAY", "45s")
	t.Setenv("ASSIST_MINIMUM_BALANCE", "1000000000000000000")
	t.Setenv("ASSIST_PROVIDER_STYLE", "EVENT")

	cfg, err := Load(noEnvFile())
	require.NoError(t, err)

	assert.Equal(t, "ws://node:8546", cfg.RPCURL)
	assert.Equal(t, uint64(56), cfg.ChainID)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 45*time.Second, cfg.StallDelay)
	assert.Equal(t, "1000000000000000000", cfg.MinimumBalance.String())
	assert.Equal(t, ProviderStyleEvent, cfg.ProviderStyle)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("ASSIST_LISTEN_ADDR", ":9000")

	args := append(noEnvFile(), required...)
	cfg, err := Load(append(args, "--listen-addr", ":7000"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assist.env")
	require.NoError(t, os.WriteFile(path, []byte("ASSIST_RPC_URL=http://from-file\nASSIST_PRIVATE_KEY=0x01\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("ASSIST_RPC_URL")
		os.Unsetenv("ASSIST_PRIVATE_KEY")
	})

	cfg, err := Load([]string{"--env-file", path})
	require.NoError(t, err)
	assert.Equal(t, "http://from-file", cfg.RPCURL)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	args := append([]string{"--env-file", filepath.Join(t.TempDir(), "absent.env")}, required...)
	_, err := Load(args)
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"no rpc url", []string{"--private-key", "0x1"}, ErrMissingValue},
		{"no key", []string{"--rpc-url", "http://x"}, ErrMissingValue},
		{"bad style", append([]string{"--provider-style", "websocket"}, required...), ErrInvalidValue},
		{"bad minimum", append([]string{"--minimum-balance", "lots"}, required...), ErrInvalidValue},
		{"negative minimum", append([]string{"--minimum-balance=-1"}, required...), ErrInvalidValue},
		{"zero stall", append([]string{"--stall-delay", "0s"}, required...), ErrInvalidValue},
		{"unknown flag", append([]string{"--nope"}, required...), ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(append(noEnvFile(), tt.args...))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
