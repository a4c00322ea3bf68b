package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	appName          = "vquiz"
	secretAccountKey = "provider_api_keys"
)

// ErrMissingAPIKeys is returned by Load when no provider credential is set
// anywhere.
var ErrMissingAPIKeys = errors.New("missing required config: provider API keys")

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	TTS      TTSConfig
	Quiz     QuizConfig
	Sink     SinkConfig
	Storage  StorageConfig
	Log      LogConfig
	User     UserConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
}

type ProviderConfig struct {
	BaseURL string
	APIKeys []string
	Models  []string
}

type TTSConfig struct {
	BaseURL         string
	Voice           string
	CacheTTL        time.Duration
	// Player is run with the path of a temporary audio file appended.
	Player          string
	FallbackCommand string
}

type QuizConfig struct {
	SessionLength   int
	QuestionTimeout time.Duration
	SilenceTimeout  time.Duration
	RequestTimeout  time.Duration
	DedupeAttempts  int
	SeenCap         int
	BankDir         string
}

type SinkConfig struct {
	URL  string
	Rate float64
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type UserConfig struct {
	ID string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Provider: ProviderConfig{
			BaseURL: "https://api.groq.com/openai/v1",
			Models: []string{
				"llama-3.3-70b-versatile",
				"llama-3.1-8b-instant",
			},
		},
		TTS: TTSConfig{
			Voice:    "alloy",
			CacheTTL: time.Hour,
		},
		Quiz: QuizConfig{
			SessionLength:   10,
			QuestionTimeout: 30 * time.Second,
			SilenceTimeout:  6 * time.Second,
			RequestTimeout:  120 * time.Second,
			DedupeAttempts:  3,
			SeenCap:         500,
		},
		Sink: SinkConfig{
			Rate: 5,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		User: UserConfig{
			ID: "local",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file,
// environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.vquiz.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/vquiz/config.json
// and secrets fall back to $XDG_DATA_HOME/vquiz/secrets.json.
//
// A .env file in the working directory is loaded first; variables already
// present in the environment win over it. Environment variables (VQUIZ_*)
// override backend values on all platforms.
func Load() (Config, error) {
	loadDotEnv(".env")
	return loadWith(newPlatformBackend(), keychainReader{})
}

// LoadOptional is Load without the credential requirement, for commands
// that only inspect configuration.
func LoadOptional() (Config, error) {
	cfg, err := Load()
	if errors.Is(err, ErrMissingAPIKeys) {
		return cfg, nil
	}
	return cfg, err
}

func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v\n", path, err)
	}
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for API keys if still empty.
	if len(cfg.Provider.APIKeys) == 0 {
		if keys, err := kc.Get(appName, secretAccountKey); err == nil && keys != "" {
			cfg.Provider.APIKeys = splitList(keys)
		}
	}

	if len(cfg.Provider.APIKeys) == 0 {
		return cfg, fmt.Errorf("%w. Set them via environment variable VQUIZ_PROVIDER_API_KEYS%s", ErrMissingAPIKeys, apiKeyHint())
	}

	return cfg, nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
