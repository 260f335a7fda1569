package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"bounty-escrow/internal/reputation"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	App        AppConfig
	Solana     SolanaConfig
	Escrow     EscrowConfig
	Reputation ReputationConfig
	Log        LogConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string // postgres or sqlite
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Path     string // sqlite file
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// AppConfig holds application-specific settings
type AppConfig struct {
	JWTSecret    string
	TokenTTL     time.Duration
	AdminWallets []string
	LoginMessage string
}

// SolanaConfig holds funds rail settings
type SolanaConfig struct {
	Network                string
	RPCURL                 string
	EscrowWalletPrivateKey string
	LamportsPerUnit        int
}

// EscrowConfig holds state machine and scheduler settings
type EscrowConfig struct {
	SweepInterval     time.Duration
	SweepBatchSize    int
	SweepConcurrency  int
	RailCallsPerSec   int
	SettlementLease   time.Duration
	NotificationQueue int
}

// ReputationConfig holds the scoring policy and cache settings
type ReputationConfig struct {
	Policy          reputation.Policy
	MaxAge          time.Duration
	RefreshInterval time.Duration
	RefreshBatch    int
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string
	Development bool
}

// Load loads configuration from environment variables. envFile and policyFile
// are optional; empty means the defaults (.env in the working directory and
// the POLICY_FILE variable).
func Load(envFile, policyFile string) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	config := &Config{
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "bounty_escrow"),
			Path:     getEnv("DB_PATH", "./bounty_escrow.db"),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
		App: AppConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			TokenTTL:     getEnvDuration("JWT_TTL", 24*time.Hour),
			AdminWallets: getEnvList("ADMIN_WALLETS", nil),
			LoginMessage: getEnv("LOGIN_MESSAGE", "Sign this message to authenticate with the bounty market"),
		},
		Solana: SolanaConfig{
			Network:                getEnv("SOLANA_NETWORK", "devnet"),
			RPCURL:                 getEnv("SOLANA_RPC_URL", ""),
			EscrowWalletPrivateKey: getEnv("ESCROW_WALLET_PRIVATE_KEY", ""),
			LamportsPerUnit:        getEnvInt("SOLANA_LAMPORTS_PER_UNIT", 1),
		},
		Escrow: EscrowConfig{
			SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 2*time.Minute),
			SweepBatchSize:    getEnvInt("SWEEP_BATCH_SIZE", 100),
			SweepConcurrency:  getEnvInt("SWEEP_CONCURRENCY", 4),
			RailCallsPerSec:   getEnvInt("RAIL_CALLS_PER_SECOND", 10),
			SettlementLease:   getEnvDuration("SETTLEMENT_LEASE", 2*time.Minute),
			NotificationQueue: getEnvInt("NOTIFICATION_QUEUE_SIZE", 1000),
		},
		Reputation: ReputationConfig{
			Policy:          reputation.DefaultPolicy(),
			MaxAge:          getEnvDuration("REPUTATION_MAX_AGE", time.Hour),
			RefreshInterval: getEnvDuration("REPUTATION_REFRESH_INTERVAL", 10*time.Minute),
			RefreshBatch:    getEnvInt("REPUTATION_REFRESH_BATCH", 200),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvBool("LOG_DEVELOPMENT", false),
		},
	}

	if policyFile == "" {
		policyFile = os.Getenv("POLICY_FILE")
	}
	if policyFile != "" {
		policy, err := LoadPolicy(policyFile, config.Reputation.Policy)
		if err != nil {
			return nil, err
		}
		config.Reputation.Policy = policy
	}

	// Validate required fields
	if config.App.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if config.Database.Driver != "postgres" && config.Database.Driver != "sqlite" {
		return nil, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", config.Database.Driver)
	}
	if err := config.Reputation.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reputation policy: %w", err)
	}

	return config, nil
}

// LoadPolicy reads a YAML policy file over base. Keys absent from the file
// keep the base value.
func LoadPolicy(path string, base reputation.Policy) (reputation.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read policy file: %w", err)
	}

	policy := base
	policy.DisputeWindowByTier = make(map[reputation.Tier]int, len(base.DisputeWindowByTier))
	for tier, hours := range base.DisputeWindowByTier {
		policy.DisputeWindowByTier[tier] = hours
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return base, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return policy, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// IsAdmin reports whether wallet belongs to a configured arbiter
func (c *Config) IsAdmin(wallet string) bool {
	for _, w := range c.App.AdminWallets {
		if w == wallet {
			return true
		}
	}
	return false
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma-separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
