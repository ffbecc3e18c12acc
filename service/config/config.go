package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every runtime setting, sourced from the environment.
// Load reports all problems at once so a bad deployment fails on the
// first start with a complete list.
type Config struct {
	// HTTP server
	ServerAddr string
	LogLevel   string

	// Postgres journal
	DatabaseURL string

	// NATS JetStream
	NATSURL string

	// Solana RPC and signing keys
	SolanaRPCURL     string
	SigningKey       string // base58 private key for the service wallet (optional; delegated mode when absent)
	WalletAddress    string // service wallet address for delegated mode (ignored when SigningKey is set)
	FeePayerKey      string // base58 private key for the platform fee payer (optional)
	SkipPreflight    bool
	ConfirmTimeout   time.Duration
	ConfirmInterval  time.Duration
	BroadcastTimeout time.Duration

	// Assembly policy knobs. These are product constants with no documented
	// derivation, so they stay configurable rather than baked in.
	FeePercentage     float64 // platform fee, percent of gross amount
	RelayFeeLamports  uint64  // fixed lamport leg attached to SPL fee splits
	ComputeUnitMargin uint32  // headroom added to simulated compute units

	// Priority fee provider: "auto" (detect from RPC URL), "helius",
	// "static", or "none".
	PriorityFeeProvider string
	StaticPriorityFee   uint64

	// Privy delegated signing configuration. PrivyWalletID is the
	// custodial wallet holding the service wallet's key; required for the
	// server to countersign transfers in delegated mode.
	PrivyAppID      string
	PrivyAppSecret  string
	PrivySigningKey string
	PrivyWalletID   string
	PrivyBaseURL    string

	// Jupiter quote/instruction API configuration
	JupiterBaseURL string
	JupiterAPIKey  string

	// Temporal
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Reconciliation of pending broadcasts
	ReconcileInterval time.Duration
}

// Load builds a Config from the environment. It keeps going past the
// first problem and returns every missing or malformed variable in one
// error.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana RPC and signing keys
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.SigningKey = os.Getenv("SOLANA_SIGNING_KEY")
	cfg.WalletAddress = os.Getenv("SOLANA_WALLET_ADDRESS")
	cfg.FeePayerKey = os.Getenv("SOLANA_FEE_PAYER_KEY")

	skipPreflight, err := parseBool("SKIP_PREFLIGHT", true)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SkipPreflight = skipPreflight
	}

	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "90s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	confirmInterval, err := parseDuration("CONFIRM_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmInterval = confirmInterval
	}

	broadcastTimeout, err := parseDuration("BROADCAST_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BroadcastTimeout = broadcastTimeout
	}

	// Assembly policy knobs
	feePct, err := parseFloat("FEE_PERCENTAGE", 0.85)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.FeePercentage = feePct
	}

	relayFee, err := parseUint("RELAY_FEE_LAMPORTS", 5000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RelayFeeLamports = relayFee
	}

	margin, err := parseUint("COMPUTE_UNIT_MARGIN", 100000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ComputeUnitMargin = uint32(margin)
	}

	// Priority fee provider
	cfg.PriorityFeeProvider = getEnvOrDefault("PRIORITY_FEE_PROVIDER", "auto")
	switch cfg.PriorityFeeProvider {
	case "auto", "helius", "static", "none":
	default:
		errs = append(errs, fmt.Errorf("PRIORITY_FEE_PROVIDER: invalid value %q (must be auto, helius, static, or none)", cfg.PriorityFeeProvider))
	}

	staticFee, err := parseUint("STATIC_PRIORITY_FEE", 0)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.StaticPriorityFee = staticFee
	}
	if cfg.PriorityFeeProvider == "static" && cfg.StaticPriorityFee == 0 {
		errs = append(errs, fmt.Errorf("STATIC_PRIORITY_FEE is required when PRIORITY_FEE_PROVIDER=static"))
	}

	// Privy delegated signing. All three credentials are required together;
	// when none are set the service runs in local-signing-only mode.
	cfg.PrivyAppID = os.Getenv("PRIVY_APP_ID")
	cfg.PrivyAppSecret = os.Getenv("PRIVY_APP_SECRET")
	cfg.PrivySigningKey = os.Getenv("PRIVY_SIGNING_KEY")
	cfg.PrivyWalletID = os.Getenv("PRIVY_WALLET_ID")
	cfg.PrivyBaseURL = getEnvOrDefault("PRIVY_BASE_URL", "https://api.privy.io")
	if cfg.DelegatedSigningEnabled() {
		if cfg.PrivyAppID == "" {
			errs = append(errs, fmt.Errorf("PRIVY_APP_ID is required when delegated signing is configured"))
		}
		if cfg.PrivyAppSecret == "" {
			errs = append(errs, fmt.Errorf("PRIVY_APP_SECRET is required when delegated signing is configured"))
		}
		if cfg.PrivySigningKey == "" {
			errs = append(errs, fmt.Errorf("PRIVY_SIGNING_KEY is required when delegated signing is configured"))
		}
	}

	cfg.JupiterBaseURL = getEnvOrDefault("JUPITER_BASE_URL", "https://lite-api.jup.ag")
	cfg.JupiterAPIKey = os.Getenv("JUPITER_API_KEY")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solforge-transactions")

	reconcileInterval, err := parseDuration("RECONCILE_INTERVAL", "1m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileInterval = reconcileInterval
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs)
	}

	return cfg, nil
}

// MustLoad panics instead of returning an error. Entrypoints use it so
// a misconfigured process never reaches the serving loop.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// DelegatedSigningEnabled reports whether any Privy credential is set.
// Partial configuration is a validation error; complete configuration
// enables the delegated signing endpoints.
func (c *Config) DelegatedSigningEnabled() bool {
	return c.PrivyAppID != "" || c.PrivyAppSecret != "" || c.PrivySigningKey != ""
}

// Validate checks a Config assembled by hand, bypassing the
// environment. Load performs the same checks on what it reads.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.FeePercentage < 0 || c.FeePercentage >= 100 {
		errs = append(errs, fmt.Errorf("FeePercentage must be in [0, 100)"))
	}

	if c.PriorityFeeProvider == "static" && c.StaticPriorityFee == 0 {
		errs = append(errs, fmt.Errorf("StaticPriorityFee is required for the static provider"))
	}

	if c.DelegatedSigningEnabled() {
		if c.PrivyAppID == "" || c.PrivyAppSecret == "" || c.PrivySigningKey == "" {
			errs = append(errs, fmt.Errorf("PrivyAppID, PrivyAppSecret and PrivySigningKey must all be set for delegated signing"))
		}
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ConfirmInterval <= 0 || c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmInterval and ConfirmTimeout must be positive"))
	}

	if c.ConfirmInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmInterval (%v) cannot exceed ConfirmTimeout (%v)", c.ConfirmInterval, c.ConfirmTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %v", errs)
	}

	return nil
}

// The env helpers treat an empty value the same as an unset variable,
// so `FOO=` in a unit file falls back to the default rather than
// parsing the empty string.

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
