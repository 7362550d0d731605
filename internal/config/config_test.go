package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"PORT", "DATABASE_URL", "REDIS_URL", "ROSTER_PATH", "DEPOT_LAT", "DEPOT_LNG",
	"TICK_INTERVAL", "RELEASE_THRESHOLD", "MAX_BATCH_SIZE", "MAX_CLUSTER_SIZE",
	"AVERAGE_SPEED_KMH", "MINUTES_PER_KM", "SINGLE_TIME_BUFFER", "BATCH_TIME_BUFFER",
	"RATE_RPS", "RATE_BURST", "AUTH_MODE", "AUTH_HMAC_SECRET", "WEBHOOK_MAX_ATTEMPTS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEPOT_LAT", "12.9716")
	t.Setenv("DEPOT_LNG", "77.5946")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.TickInterval != time.Minute || cfg.ReleaseThreshold != 15*time.Minute {
		t.Errorf("tick=%s release=%s", cfg.TickInterval, cfg.ReleaseThreshold)
	}
	if cfg.MaxBatchSize != 3 || cfg.MaxClusterSize != 5 {
		t.Errorf("batch=%d cluster=%d", cfg.MaxBatchSize, cfg.MaxClusterSize)
	}
	if cfg.Estimator.AverageSpeedKmh != 25 || cfg.Estimator.BatchBuffer != 1.15 {
		t.Errorf("estimator = %+v", cfg.Estimator)
	}
	if cfg.BatchBufferSet {
		t.Error("BatchBufferSet should be false when unset")
	}
	if cfg.Depot.Lat != 12.9716 || cfg.Depot.Lng != 77.5946 {
		t.Errorf("Depot = %+v", cfg.Depot)
	}
	if cfg.AuthMode != "dev" {
		t.Errorf("AuthMode = %q", cfg.AuthMode)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEPOT_LAT", "1")
	t.Setenv("DEPOT_LNG", "2")
	t.Setenv("PORT", "9000")
	t.Setenv("TICK_INTERVAL", "5s")
	t.Setenv("BATCH_TIME_BUFFER", "1.3")
	t.Setenv("MAX_BATCH_SIZE", "4")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "9000" || cfg.TickInterval != 5*time.Second || cfg.MaxBatchSize != 4 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.BatchBufferSet || cfg.Estimator.BatchBuffer != 1.3 {
		t.Errorf("batch buffer set=%t value=%v", cfg.BatchBufferSet, cfg.Estimator.BatchBuffer)
	}
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"no depot", map[string]string{}, "depot location is required"},
		{"bad int", map[string]string{"DEPOT_LAT": "1", "DEPOT_LNG": "1", "MAX_BATCH_SIZE": "three"}, "MAX_BATCH_SIZE"},
		{"bad duration", map[string]string{"DEPOT_LAT": "1", "DEPOT_LNG": "1", "TICK_INTERVAL": "soon"}, "TICK_INTERVAL"},
		{"depot range", map[string]string{"DEPOT_LAT": "95", "DEPOT_LNG": "1"}, "out of range"},
		{"hmac secret", map[string]string{"DEPOT_LAT": "1", "DEPOT_LNG": "1", "AUTH_MODE": "hmac"}, "AUTH_HMAC_SECRET"},
		{"auth mode", map[string]string{"DEPOT_LAT": "1", "DEPOT_LNG": "1", "AUTH_MODE": "ldap"}, "unknown AUTH_MODE"},
		{"buffer", map[string]string{"DEPOT_LAT": "1", "DEPOT_LNG": "1", "SINGLE_TIME_BUFFER": "0.5"}, "time buffers"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestFromEnv_Roster(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "roster.yaml")
	body := `depot: {lat: 51.5, lng: -0.12}
riders: [Asha, Ben]
webhooks:
  - url: https://ops.example.com/hook
    events: ["rider.assigned"]
    secret: s3cret
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROSTER_PATH", path)
	t.Setenv("DEPOT_LAT", "1")
	t.Setenv("DEPOT_LNG", "1")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Depot.Lat != 51.5 || cfg.Depot.Lng != -0.12 {
		t.Errorf("roster depot should win, got %+v", cfg.Depot)
	}
	if len(cfg.Roster.Riders) != 2 || cfg.Roster.Riders[1] != "Ben" {
		t.Errorf("riders = %v", cfg.Roster.Riders)
	}
	if len(cfg.Roster.Webhooks) != 1 || cfg.Roster.Webhooks[0].Secret != "s3cret" {
		t.Errorf("webhooks = %+v", cfg.Roster.Webhooks)
	}
}

func TestLoadRoster_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown.yaml": "depot: {lat: 1, lng: 1}\ndrivers: [x]\n",
		"blank.yaml":   "riders: [\"  \"]\n",
		"hook.yaml":    "webhooks:\n  - url: https://x.example.com\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadRoster(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := LoadRoster(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := &Config{
		Port:           "8080",
		DatabaseURL:    "postgres://user:hunter2@db/dispatch",
		AuthHMACSecret: "topsecret",
		AuthMode:       "hmac",
	}
	s := cfg.String()
	for _, secret := range []string{"hunter2", "topsecret"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks %q: %s", secret, s)
		}
	}
	if !strings.Contains(s, "postgres=true") {
		t.Errorf("String() = %s", s)
	}
}
