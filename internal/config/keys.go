package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "VQUIZ_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "VQUIZ_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "provider.base_url", typ: kString, env: "VQUIZ_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.api_keys", typ: kList, env: "VQUIZ_PROVIDER_API_KEYS",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKeys = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Provider.APIKeys, ",") },
	},
	{
		key: "provider.models", typ: kList, env: "VQUIZ_PROVIDER_MODELS",
		apply:   func(cfg *Config, v any) { cfg.Provider.Models = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Provider.Models, ",") },
	},
	{
		key: "tts.base_url", typ: kString, env: "VQUIZ_TTS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.TTS.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.TTS.BaseURL },
	},
	{
		key: "tts.voice", typ: kString, env: "VQUIZ_TTS_VOICE",
		apply:   func(cfg *Config, v any) { cfg.TTS.Voice = v.(string) },
		extract: func(cfg Config) any { return cfg.TTS.Voice },
	},
	{
		key: "tts.cache_ttl", typ: kDuration, env: "VQUIZ_TTS_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.TTS.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.TTS.CacheTTL },
	},
	{
		key: "tts.player", typ: kString, env: "VQUIZ_TTS_PLAYER",
		apply:   func(cfg *Config, v any) { cfg.TTS.Player = v.(string) },
		extract: func(cfg Config) any { return cfg.TTS.Player },
	},
	{
		key: "tts.fallback_command", typ: kString, env: "VQUIZ_TTS_FALLBACK_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.TTS.FallbackCommand = v.(string) },
		extract: func(cfg Config) any { return cfg.TTS.FallbackCommand },
	},
	{
		key: "quiz.session_length", typ: kInt, env: "VQUIZ_QUIZ_SESSION_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Quiz.SessionLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Quiz.SessionLength },
	},
	{
		key: "quiz.question_timeout", typ: kDuration, env: "VQUIZ_QUIZ_QUESTION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Quiz.QuestionTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Quiz.QuestionTimeout },
	},
	{
		key: "quiz.silence_timeout", typ: kDuration, env: "VQUIZ_QUIZ_SILENCE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Quiz.SilenceTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Quiz.SilenceTimeout },
	},
	{
		key: "quiz.request_timeout", typ: kDuration, env: "VQUIZ_QUIZ_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Quiz.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Quiz.RequestTimeout },
	},
	{
		key: "quiz.dedupe_attempts", typ: kInt, env: "VQUIZ_QUIZ_DEDUPE_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Quiz.DedupeAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Quiz.DedupeAttempts },
	},
	{
		key: "quiz.seen_cap", typ: kInt, env: "VQUIZ_QUIZ_SEEN_CAP",
		apply:   func(cfg *Config, v any) { cfg.Quiz.SeenCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Quiz.SeenCap },
	},
	{
		key: "quiz.bank_dir", typ: kString, env: "VQUIZ_QUIZ_BANK_DIR",
		apply:   func(cfg *Config, v any) { cfg.Quiz.BankDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Quiz.BankDir },
	},
	{
		key: "sink.url", typ: kString, env: "VQUIZ_SINK_URL",
		apply:   func(cfg *Config, v any) { cfg.Sink.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Sink.URL },
	},
	{
		key: "sink.rate", typ: kFloat, env: "VQUIZ_SINK_RATE",
		apply:   func(cfg *Config, v any) { cfg.Sink.Rate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Sink.Rate },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VQUIZ_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "VQUIZ_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "user.id", typ: kString, env: "VQUIZ_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.User.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.User.ID },
	},
}

// parseValue converts a raw string into the Go type of the key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		return splitList(raw), nil
	}
	return nil, fmt.Errorf("unsupported key type %d", typ)
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
