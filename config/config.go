// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (e.g., Twitch chat, fingerprint API), use ValidateChatReady
// and ValidateIdentifyReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultChannel is the placeholder channel used when TWITCH_CHANNEL is unset.
const DefaultChannel = ""

// Config is the typed view of the environment.
type Config struct {
	// Twitch
	TwitchChannel      string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string

	// Fingerprint API (ACRCloud compatible)
	ACRHostURL      string
	ACRAccessKey    string
	ACRAccessSecret string

	// Storage
	DataDir string

	// Capture
	CaptureDuration      time.Duration
	CaptureStartupGrace  time.Duration
	CaptureSizeThreshold int64
	CaptureQuality       string

	// Identification
	IdentifyMaxAttempts   int
	IdentifyRetryPause    time.Duration
	IdentifyCooldown      time.Duration
	IdentifyCooldownGrace time.Duration
	AutoIdentifyInterval  time.Duration

	// Live watcher
	LivePollInterval time.Duration
	OfflineGrace     time.Duration

	// Tunnel rotation
	VPNRotation      bool
	VPNConfigDirs    []string
	VPNAuthFile      string
	VPNTeardownWait  time.Duration
	VPNEstablishWait time.Duration

	// Chat behaviour
	PrintOnly     bool
	StartSilenced bool
	AddWindow     time.Duration
	UndoWindow    time.Duration

	// HTTP
	HTTPAddr           string
	AdminToken         string
	AdminUsername      string
	AdminPassword      string
	CORSPermissive     bool
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration

	// Optional sinks
	DBDsn      string
	MQTTBroker string
	MQTTTopic  string

	// Export
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyRefreshToken string
	AnnounceURLs        []string
}

// Load reads environment variables and applies defaults. It doesn't fail if credentials are missing;
// use the Validate helpers when a feature requires them. Malformed values are reported as errors.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.TwitchChannel = strings.ToLower(strings.TrimPrefix(os.Getenv("TWITCH_CHANNEL"), "#"))
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.ACRHostURL = os.Getenv("ACR_HOST_URL")
	cfg.ACRAccessKey = os.Getenv("ACR_ACCESS_KEY")
	cfg.ACRAccessSecret = os.Getenv("ACR_ACCESS_SECRET")

	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	if cfg.CaptureDuration, err = durationEnv("CAPTURE_DURATION", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.CaptureStartupGrace, err = durationEnv("CAPTURE_STARTUP_GRACE", 5*time.Second); err != nil {
		return nil, err
	}
	threshold, err := intEnv("CAPTURE_SIZE_THRESHOLD", 1_000_000)
	if err != nil {
		return nil, err
	}
	cfg.CaptureSizeThreshold = int64(threshold)
	cfg.CaptureQuality = os.Getenv("CAPTURE_QUALITY")
	if cfg.CaptureQuality == "" {
		cfg.CaptureQuality = "audio_only"
	}

	if cfg.IdentifyMaxAttempts, err = intEnv("IDENTIFY_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}
	if cfg.IdentifyRetryPause, err = durationEnv("IDENTIFY_RETRY_PAUSE", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdentifyCooldown, err = durationEnv("IDENTIFY_COOLDOWN", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdentifyCooldownGrace, err = durationEnv("IDENTIFY_COOLDOWN_GRACE", 10*time.Second); err != nil {
		return nil, err
	}
	// zero disables the periodic trigger
	if cfg.AutoIdentifyInterval, err = durationEnv("AUTO_IDENTIFY_INTERVAL", 0); err != nil {
		return nil, err
	}

	if cfg.LivePollInterval, err = durationEnv("LIVE_POLL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.OfflineGrace, err = durationEnv("OFFLINE_GRACE", 10*time.Minute); err != nil {
		return nil, err
	}

	cfg.VPNRotation = os.Getenv("VPN_ROTATION") == "1"
	cfg.VPNConfigDirs = listEnv("VPN_CONFIG_DIRS")
	cfg.VPNAuthFile = os.Getenv("VPN_AUTH_FILE")
	if cfg.VPNTeardownWait, err = durationEnv("VPN_TEARDOWN_WAIT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.VPNEstablishWait, err = durationEnv("VPN_ESTABLISH_WAIT", 7*time.Second); err != nil {
		return nil, err
	}

	cfg.PrintOnly = os.Getenv("PRINT_ONLY") == "1"
	cfg.StartSilenced = os.Getenv("START_SILENCED") != "0" // default on
	if cfg.AddWindow, err = durationEnv("ADD_WINDOW", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.UndoWindow, err = durationEnv("UNDO_WINDOW", 2*time.Minute); err != nil {
		return nil, err
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	// permissive CORS in dev unless overridden
	mode := strings.ToLower(os.Getenv("ENV"))
	cfg.CORSPermissive = mode == "" || mode == "dev" || mode == "development"
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		cfg.CORSPermissive = v == "1" || v == "true"
	}
	cfg.CORSAllowedOrigins = listEnv("CORS_ALLOWED_ORIGINS")
	if cfg.RateLimitRequests, err = intEnv("RATE_LIMIT_REQUESTS", 10); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = durationEnv("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}

	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.MQTTBroker = os.Getenv("MQTT_BROKER")
	cfg.MQTTTopic = os.Getenv("MQTT_TOPIC")
	if cfg.MQTTTopic == "" {
		cfg.MQTTTopic = "trackid/nowplaying"
	}

	cfg.SpotifyClientID = os.Getenv("SPOTIFY_CLIENT_ID")
	cfg.SpotifyClientSecret = os.Getenv("SPOTIFY_CLIENT_SECRET")
	cfg.SpotifyRefreshToken = os.Getenv("SPOTIFY_REFRESH_TOKEN")
	cfg.AnnounceURLs = listEnv("ANNOUNCE_URLS")

	return cfg, nil
}

// ValidateChatReady checks required fields when the chat bot is enabled.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// ValidateIdentifyReady checks the credentials needed to check live status and fingerprint audio.
func (c *Config) ValidateIdentifyReady() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	if c.ACRHostURL == "" || c.ACRAccessKey == "" || c.ACRAccessSecret == "" {
		return fmt.Errorf("missing fingerprint env: require ACR_HOST_URL, ACR_ACCESS_KEY, ACR_ACCESS_SECRET")
	}
	if c.VPNRotation && (len(c.VPNConfigDirs) == 0 || c.VPNAuthFile == "") {
		return fmt.Errorf("VPN_ROTATION=1 requires VPN_CONFIG_DIRS and VPN_AUTH_FILE")
	}
	return nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s (duration): %q", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s (positive integer): %q", key, v)
	}
	return n, nil
}

func listEnv(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
