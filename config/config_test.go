package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultChannelConstant(t *testing.T) {
	if DefaultChannel != "" {
		t.Errorf("DefaultChannel = %q, want empty string", DefaultChannel)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"CAPTURE_DURATION", "IDENTIFY_MAX_ATTEMPTS", "IDENTIFY_COOLDOWN", "START_SILENCED", "DATA_DIR", "AUTO_IDENTIFY_INTERVAL"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CaptureDuration != 20*time.Second {
		t.Errorf("CaptureDuration = %v, want 20s", cfg.CaptureDuration)
	}
	if cfg.CaptureSizeThreshold != 1_000_000 {
		t.Errorf("CaptureSizeThreshold = %d, want 1000000", cfg.CaptureSizeThreshold)
	}
	if cfg.IdentifyMaxAttempts != 10 {
		t.Errorf("IdentifyMaxAttempts = %d, want 10", cfg.IdentifyMaxAttempts)
	}
	if cfg.IdentifyCooldown != 30*time.Second {
		t.Errorf("IdentifyCooldown = %v, want 30s", cfg.IdentifyCooldown)
	}
	if cfg.AutoIdentifyInterval != 0 {
		t.Errorf("AutoIdentifyInterval = %v, want disabled", cfg.AutoIdentifyInterval)
	}
	if !cfg.StartSilenced {
		t.Errorf("expected bot to start silenced by default")
	}
	if cfg.DataDir != "data" {
		t.Errorf("DataDir = %q, want data", cfg.DataDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "#SomeChannel")
	t.Setenv("IDENTIFY_COOLDOWN", "90s")
	t.Setenv("IDENTIFY_MAX_ATTEMPTS", "5")
	t.Setenv("VPN_CONFIG_DIRS", " /etc/vpn/a , /etc/vpn/b ,")
	t.Setenv("START_SILENCED", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TwitchChannel != "somechannel" {
		t.Errorf("TwitchChannel = %q, want somechannel", cfg.TwitchChannel)
	}
	if cfg.IdentifyCooldown != 90*time.Second || cfg.IdentifyMaxAttempts != 5 {
		t.Errorf("overrides not applied: cooldown=%v attempts=%d", cfg.IdentifyCooldown, cfg.IdentifyMaxAttempts)
	}
	if len(cfg.VPNConfigDirs) != 2 || cfg.VPNConfigDirs[1] != "/etc/vpn/b" {
		t.Errorf("VPNConfigDirs = %v", cfg.VPNConfigDirs)
	}
	if cfg.StartSilenced {
		t.Errorf("START_SILENCED=0 should disable silenced mode")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct{ key, val string }{
		{"CAPTURE_DURATION", "twenty"},
		{"IDENTIFY_MAX_ATTEMPTS", "-1"},
		{"CAPTURE_SIZE_THRESHOLD", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_CHANNEL"); err != nil {
		t.Fatalf("failed to unset TWITCH_CHANNEL: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestValidateIdentifyReady(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("ACR_HOST_URL", "https://identify.example/v1/identify")
	t.Setenv("ACR_ACCESS_KEY", "key")
	t.Setenv("ACR_ACCESS_SECRET", "secret")
	t.Setenv("VPN_ROTATION", "1")
	t.Setenv("VPN_CONFIG_DIRS", "")
	cfg, _ := Load()
	if err := cfg.ValidateIdentifyReady(); err == nil {
		t.Errorf("expected error when rotation enabled without profile dirs")
	}
	t.Setenv("VPN_CONFIG_DIRS", "/etc/openvpn")
	t.Setenv("VPN_AUTH_FILE", "/etc/openvpn/auth.conf")
	cfg, _ = Load()
	if err := cfg.ValidateIdentifyReady(); err != nil {
		t.Errorf("expected valid identify config, got %v", err)
	}
}

func TestLoadHTTPSettings(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CORS_PERMISSIVE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://overlay.example, https://dash.example")
	t.Setenv("RATE_LIMIT_REQUESTS", "")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CORSPermissive {
		t.Errorf("production should not default to permissive CORS")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://overlay.example" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitRequests != 10 || cfg.RateLimitWindow != 30*time.Second {
		t.Errorf("rate limit = %d per %v, want 10 per 30s", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}

	t.Setenv("CORS_PERMISSIVE", "true")
	cfg, _ = Load()
	if !cfg.CORSPermissive {
		t.Errorf("CORS_PERMISSIVE=true should override ENV")
	}
}
