package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type envConfigKey struct{}

// Configuration keys understood by Load. Nested keys map to FORKCHAT_* variables
// with dots replaced by underscores, e.g. FORKCHAT_ASSISTANT_TIMEOUT.
const (
	KeyDataDir              = "data_dir"
	KeyDBPath               = "db_path"
	KeyMemoryDB             = "memory_db"
	KeyListen               = "listen"
	KeyMetricsListen        = "metrics_listen"
	KeyCSRF                 = "csrf"
	KeyAssistantProvider    = "assistant.provider"
	KeyAssistantModel       = "assistant.model"
	KeyAssistantBaseURL     = "assistant.base_url"
	KeyAssistantAPIKey      = "assistant.api_key"
	KeyAssistantTimeout     = "assistant.timeout"
	KeyAssistantBackoff     = "assistant.retry_backoff"
	KeyEditRetries          = "edit.retries"
	KeyEditBackoff          = "edit.retry_backoff"
	KeyHousekeepingInterval = "housekeeping.interval"
)

// EnvConfig holds environment-specific application configuration.
// Fields under mu may change at runtime when the config file is reloaded.
type EnvConfig struct {
	dataDir      string
	dbPath       string
	useMemoryDB  bool
	configFile   string
	listenAddr   string
	metricsAddr  string
	csrf         bool
	housekeeping time.Duration
	provider     string
	baseURL      string
	apiKey       string

	mu               sync.RWMutex
	model            string
	assistantTimeout time.Duration
	assistantBackoff time.Duration
	editRetries      int
	editBackoff      time.Duration
}

// DataDir returns the base data directory for application data.
func (c *EnvConfig) DataDir() string { return c.dataDir }

// DBPath returns the database file path.
func (c *EnvConfig) DBPath() string { return c.dbPath }

// UseMemoryDB returns true if in-memory databases should be used (for testing).
func (c *EnvConfig) UseMemoryDB() bool { return c.useMemoryDB }

// ConfigFile returns the config file in use, or "" when running from defaults and environment only.
func (c *EnvConfig) ConfigFile() string { return c.configFile }

func (c *EnvConfig) ListenAddr() string                  { return c.listenAddr }
func (c *EnvConfig) MetricsAddr() string                 { return c.metricsAddr }
func (c *EnvConfig) CSRF() bool                          { return c.csrf }
func (c *EnvConfig) HousekeepingInterval() time.Duration { return c.housekeeping }
func (c *EnvConfig) AssistantProvider() string           { return c.provider }
func (c *EnvConfig) AssistantBaseURL() string            { return c.baseURL }
func (c *EnvConfig) AssistantAPIKey() string             { return c.apiKey }

// AssistantModel returns the model name passed to the assistant provider.
func (c *EnvConfig) AssistantModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// AssistantTimeout bounds a single assistant call made while a chat is locked.
func (c *EnvConfig) AssistantTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assistantTimeout
}

// AssistantBackoff is the pause before the single retry of a timed out assistant call.
func (c *EnvConfig) AssistantBackoff() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assistantBackoff
}

// EditRetries is how many times a fork completion is retried after its first failure.
func (c *EnvConfig) EditRetries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.editRetries
}

// EditBackoff is the initial pause between fork completion retries; it doubles each attempt.
func (c *EnvConfig) EditBackoff() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.editBackoff
}

func defaultDataDir() string {
	if _, err := os.Stat("go.mod"); err == nil {
		// go.mod exists in current directory, use _forkchat-data
		return "_forkchat-data"
	}
	return "forkchat-data"
}

// NewViper returns a viper instance with defaults and environment binding applied.
// configFile may be empty, in which case Load looks up forkchat.yaml in the data directory.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDataDir, defaultDataDir())
	v.SetDefault(KeyDBPath, "")
	v.SetDefault(KeyMemoryDB, false)
	v.SetDefault(KeyListen, ":8080")
	v.SetDefault(KeyMetricsListen, ":2112")
	v.SetDefault(KeyCSRF, false)
	v.SetDefault(KeyAssistantProvider, "echo")
	v.SetDefault(KeyAssistantModel, "gpt-4o-mini")
	v.SetDefault(KeyAssistantBaseURL, "")
	v.SetDefault(KeyAssistantAPIKey, "")
	v.SetDefault(KeyAssistantTimeout, 60*time.Second)
	v.SetDefault(KeyAssistantBackoff, 500*time.Millisecond)
	v.SetDefault(KeyEditRetries, 3)
	v.SetDefault(KeyEditBackoff, 50*time.Millisecond)
	v.SetDefault(KeyHousekeepingInterval, 10*time.Minute)

	v.SetEnvPrefix("forkchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("forkchat")
		v.SetConfigType("yaml")
	}
	return v
}

// Load reads the config file (if any) and builds an EnvConfig from v.
func Load(v *viper.Viper) (*EnvConfig, error) {
	// Search paths are resolved here so that a bound --data-dir flag is honored.
	v.AddConfigPath(v.GetString(KeyDataDir))
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	c := &EnvConfig{
		dataDir:      v.GetString(KeyDataDir),
		dbPath:       v.GetString(KeyDBPath),
		useMemoryDB:  v.GetBool(KeyMemoryDB),
		configFile:   v.ConfigFileUsed(),
		listenAddr:   v.GetString(KeyListen),
		metricsAddr:  v.GetString(KeyMetricsListen),
		csrf:         v.GetBool(KeyCSRF),
		housekeeping: v.GetDuration(KeyHousekeepingInterval),
		provider:     v.GetString(KeyAssistantProvider),
		baseURL:      v.GetString(KeyAssistantBaseURL),
		apiKey:       v.GetString(KeyAssistantAPIKey),
	}
	if c.housekeeping <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %v", KeyHousekeepingInterval, c.housekeeping)
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.dbPath == "" {
		c.dbPath = filepath.Join(c.dataDir, "forkchat.db")
	}
	if err := c.reload(v); err != nil {
		return nil, err
	}
	return c, nil
}

// reload copies the runtime-adjustable keys from v.
func (c *EnvConfig) reload(v *viper.Viper) error {
	timeout := v.GetDuration(KeyAssistantTimeout)
	if timeout <= 0 {
		return fmt.Errorf("%s must be positive, got %v", KeyAssistantTimeout, timeout)
	}
	retries := v.GetInt(KeyEditRetries)
	if retries < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyEditRetries, retries)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = v.GetString(KeyAssistantModel)
	c.assistantTimeout = timeout
	c.assistantBackoff = v.GetDuration(KeyAssistantBackoff)
	c.editRetries = retries
	c.editBackoff = v.GetDuration(KeyEditBackoff)
	return nil
}

// NewTestEnvConfig creates a new fresh in-memory EnvConfig for testing purposes,
// with short timeouts so failure paths finish quickly.
func NewTestEnvConfig() *EnvConfig {
	return &EnvConfig{
		dataDir:          os.TempDir(),
		dbPath:           ":memory:",
		useMemoryDB:      true,
		listenAddr:       ":0",
		housekeeping:     time.Minute,
		provider:         "echo",
		model:            "test-model",
		assistantTimeout: 200 * time.Millisecond,
		assistantBackoff: 10 * time.Millisecond,
		editRetries:      2,
		editBackoff:      time.Millisecond,
	}
}

// ContextWithEnvConfig returns a new context with the given EnvConfig.
func ContextWithEnvConfig(ctx context.Context, config *EnvConfig) context.Context {
	return context.WithValue(ctx, envConfigKey{}, config)
}

// EnvConfigFromContext retrieves the EnvConfig instance from the given context.Context.
// Returns an error if no config is found in the context.
func EnvConfigFromContext(ctx context.Context) (*EnvConfig, error) {
	config, ok := ctx.Value(envConfigKey{}).(*EnvConfig)
	if !ok || config == nil {
		return nil, fmt.Errorf("env config not found in context")
	}
	return config, nil
}
