package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissing is returned by Load when required settings are absent.
var ErrMissing = errors.New("missing required configuration")

// Settings is the full process configuration.
type Settings struct {
	StoreURI string

	AIAPIKey    string
	AIEndpoint  string
	AIModel     string
	AIMaxTokens int
	AITimeout   time.Duration

	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	GoogleCredentialsFile string
	TokenStore            string
	TokenFile             string
	KeyringPassphrase     string
	ConfirmAccount        bool

	GmailQuery       string
	BatchSize        int
	PollInterval     time.Duration
	MessageDelay     time.Duration
	ErrorBackoff     time.Duration
	CalendarTimeZone string
	ReplySignature   string

	FiltersFile string
	StatusAddr  string
	LogLevel    string
}

type binding struct {
	key      string
	envs     []string
	required bool
	def      any
}

var bindings = []binding{
	{key: "store_uri", envs: []string{"STORE_URI", "MONGO_URI"}, required: true},
	{key: "ai_api_key", envs: []string{"AI_API_KEY"}, required: true},
	{key: "ai_endpoint", envs: []string{"AI_ENDPOINT"}, def: "https://api.openai.com/v1/chat/completions"},
	{key: "ai_model", envs: []string{"AI_MODEL"}, def: "gpt-3.5-turbo"},
	{key: "ai_max_tokens", envs: []string{"AI_MAX_TOKENS"}, def: 500},
	{key: "ai_timeout", envs: []string{"AI_TIMEOUT"}, def: "30s"},
	{key: "google_client_id", envs: []string{"GOOGLE_CLIENT_ID"}, required: true},
	{key: "google_client_secret", envs: []string{"GOOGLE_CLIENT_SECRET"}, required: true},
	{key: "google_redirect_uri", envs: []string{"GOOGLE_REDIRECT_URI"}, required: true},
	{key: "google_credentials_file", envs: []string{"GOOGLE_CREDENTIALS_FILE"}, def: ""},
	{key: "token_store", envs: []string{"TOKEN_STORE"}, def: "file"},
	{key: "token_file", envs: []string{"TOKEN_FILE"}, def: "token.json"},
	{key: "keyring_passphrase", envs: []string{"KEYRING_PASSPHRASE"}, def: ""},
	{key: "confirm_account", envs: []string{"CONFIRM_ACCOUNT"}, def: false},
	{key: "gmail_query", envs: []string{"GMAIL_QUERY"}, def: "is:unread"},
	{key: "batch_size", envs: []string{"BATCH_SIZE"}, def: 20},
	{key: "poll_interval", envs: []string{"POLL_INTERVAL"}, def: "20s"},
	{key: "message_delay", envs: []string{"MESSAGE_DELAY"}, def: "2s"},
	{key: "error_backoff", envs: []string{"ERROR_BACKOFF"}, def: "10s"},
	{key: "calendar_timezone", envs: []string{"CALENDAR_TIMEZONE"}, def: "Asia/Kolkata"},
	{key: "reply_signature", envs: []string{"REPLY_SIGNATURE"}, def: ""},
	{key: "filters_file", envs: []string{"FILTERS_FILE"}, def: "config/filters.json"},
	{key: "status_addr", envs: []string{"STATUS_ADDR"}, def: ""},
	{key: "log_level", envs: []string{"LOG_LEVEL"}, def: "info"},
}

// Load reads .env (if present), the optional YAML file named by
// MAILPILOT_CONFIG, and the environment. Environment values win.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	v := viper.New()
	for _, b := range bindings {
		if err := v.BindEnv(append([]string{b.key}, b.envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", b.key, err)
		}
		if b.def != nil {
			v.SetDefault(b.key, b.def)
		}
	}

	if path := os.Getenv("MAILPILOT_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var missing []string
	for _, b := range bindings {
		if b.required && strings.TrimSpace(v.GetString(b.key)) == "" {
			missing = append(missing, b.envs[0])
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	s := &Settings{
		StoreURI:              v.GetString("store_uri"),
		AIAPIKey:              v.GetString("ai_api_key"),
		AIEndpoint:            v.GetString("ai_endpoint"),
		AIModel:               v.GetString("ai_model"),
		AIMaxTokens:           v.GetInt("ai_max_tokens"),
		AITimeout:             v.GetDuration("ai_timeout"),
		GoogleClientID:        v.GetString("google_client_id"),
		GoogleClientSecret:    v.GetString("google_client_secret"),
		GoogleRedirectURI:     v.GetString("google_redirect_uri"),
		GoogleCredentialsFile: v.GetString("google_credentials_file"),
		TokenStore:            v.GetString("token_store"),
		TokenFile:             v.GetString("token_file"),
		KeyringPassphrase:     v.GetString("keyring_passphrase"),
		ConfirmAccount:        v.GetBool("confirm_account"),
		GmailQuery:            v.GetString("gmail_query"),
		BatchSize:             v.GetInt("batch_size"),
		PollInterval:          v.GetDuration("poll_interval"),
		MessageDelay:          v.GetDuration("message_delay"),
		ErrorBackoff:          v.GetDuration("error_backoff"),
		CalendarTimeZone:      v.GetString("calendar_timezone"),
		ReplySignature:        v.GetString("reply_signature"),
		FiltersFile:           v.GetString("filters_file"),
		StatusAddr:            v.GetString("status_addr"),
		LogLevel:              v.GetString("log_level"),
	}
	return s, s.Validate()
}

// Validate checks values that have a usable default but may be overridden
// with nonsense.
func (s *Settings) Validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", s.BatchSize)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", s.PollInterval)
	}
	if s.MessageDelay < 0 || s.ErrorBackoff < 0 {
		return errors.New("MESSAGE_DELAY and ERROR_BACKOFF must not be negative")
	}
	switch s.TokenStore {
	case "file", "keyring":
	default:
		return fmt.Errorf("TOKEN_STORE must be file or keyring, got %q", s.TokenStore)
	}
	if _, err := time.LoadLocation(s.CalendarTimeZone); err != nil {
		return fmt.Errorf("CALENDAR_TIMEZONE: %w", err)
	}
	return nil
}
