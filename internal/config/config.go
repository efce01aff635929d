// Package config loads assistd settings from flags, ASSIST_* environment
// variables and an optional .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tenfinney/assist"
)

var (
	ErrMissingValue = fmt.Errorf("missing required configuration")
	ErrInvalidValue = fmt.Errorf("invalid configuration value")
)

const envPrefix = "ASSIST"

// Provider styles accepted by provider-style
const (
	ProviderStyleLegacy = "legacy"
	ProviderStyleEvent  = "event"
)

// Config is the resolved daemon configuration
type Config struct {
	RPCURL     string
	PrivateKey string
	ChainID    uint64
	ListenAddr string

	KafkaBrokers []string
	KafkaTopic   string

	RedisAddr      string
	RedisDB        int
	IdempotencyTTL time.Duration

	ReminderDelay  time.Duration
	StallDelay     time.Duration
	PollInterval   time.Duration
	Confirmations  uint64
	MinimumBalance *big.Int
	ProviderName   string
	ProviderStyle  string
}

// Defaults converts the lifecycle settings into dispatcher defaults
func (c *Config) Defaults() assist.Defaults {
	return assist.Defaults{
		ReminderDelay:    c.ReminderDelay,
		StallDelay:       c.StallDelay,
		FeeBufferDivisor: assist.DefaultFeeBufferDivisor,
		MinimumBalance:   new(big.Int).Set(c.MinimumBalance),
		ProviderName:     c.ProviderName,
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("assistd", pflag.ContinueOnError)
	fs.String("env-file", ".env", "dotenv file to load before reading the environment")
	fs.String("rpc-url", "", "JSON-RPC endpoint of the node")
	fs.String("private-key", "", "hex encoded key of the sending account")
	fs.Uint64("chain-id", 1, "chain id of the network")
	fs.String("listen-addr", ":8080", "HTTP listen address")
	fs.String("kafka-brokers", "", "comma separated Kafka brokers; empty disables event publishing")
	fs.String("kafka-topic", "assist.tx-events", "topic lifecycle events are published to")
	fs.String("redis-addr", "", "Redis address for idempotency keys; empty keeps them in memory")
	fs.Int("redis-db", 0, "Redis database number")
	fs.Duration("idempotency-ttl", 24*time.Hour, "how long idempotency keys are kept")
	fs.Duration("reminder-delay", assist.DefaultReminderDelay, "delay before an approval reminder")
	fs.Duration("stall-delay", assist.DefaultStallDelay, "delay after the hash before a transaction is stalled")
	fs.Duration("poll-interval", assist.DefaultPollInterval, "receipt and chain head polling interval")
	fs.Uint64("confirmations", assist.DefaultConfirmations, "blocks past the receipt before the second confirmation")
	fs.String("minimum-balance", "0", "minimum balance in wei reported with events")
	fs.String("provider-name", "assistd", "provider name reported with events")
	fs.String("provider-style", ProviderStyleLegacy, "submission style: legacy or event")
	return fs
}

// Load parses args and merges them with the environment.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errors.Join(ErrInvalidValue, err)
	}

	envFile, _ := fs.GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("couldn't load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("couldn't bind flags: %w", err)
	}

	cfg := &Config{
		RPCURL:         v.GetString("rpc-url"),
		PrivateKey:     v.GetString("private-key"),
		ChainID:        v.GetUint64("chain-id"),
		ListenAddr:     v.GetString("listen-addr"),
		KafkaBrokers:   splitList(v.GetString("kafka-brokers")),
		KafkaTopic:     v.GetString("kafka-topic"),
		RedisAddr:      v.GetString("redis-addr"),
		RedisDB:        v.GetInt("redis-db"),
		IdempotencyTTL: v.GetDuration("idempotency-ttl"),
		ReminderDelay:  v.GetDuration("reminder-delay"),
		StallDelay:     v.GetDuration("stall-delay"),
		PollInterval:   v.GetDuration("poll-interval"),
		Confirmations:  v.GetUint64("confirmations"),
		ProviderName:   v.GetString("provider-name"),
		ProviderStyle:  strings.ToLower(v.GetString("provider-style")),
	}

	minimum, ok := new(big.Int).SetString(v.GetString("minimum-balance"), 10)
	if !ok || minimum.Sign() < 0 {
		return nil, fmt.Errorf("%w: minimum-balance %q", ErrInvalidValue, v.GetString("minimum-balance"))
	}
	cfg.MinimumBalance = minimum

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("%w: rpc-url", ErrMissingValue)
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("%w: private-key", ErrMissingValue)
	}
	if c.ProviderStyle != ProviderStyleLegacy && c.ProviderStyle != ProviderStyleEvent {
		return fmt.Errorf("%w: provider-style %q", ErrInvalidValue, c.ProviderStyle)
	}
	if c.ReminderDelay <= 0 || c.StallDelay <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("%w: delays must be positive", ErrInvalidValue)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("%w: kafka-topic", ErrMissingValue)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
