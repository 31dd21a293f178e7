package aura

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
transport:
  provider: liveapi
  settings:
    url: wss://example.test/live
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Capture.SampleRate != 16000 {
		t.Fatalf("sample rate default = %d, want 16000", cfg.Capture.SampleRate)
	}
	if cfg.Capture.GateThreshold != 0.01 {
		t.Fatalf("gate threshold default = %v, want 0.01", cfg.Capture.GateThreshold)
	}
	if !cfg.AutoReconnect {
		t.Fatalf("auto_reconnect should default on")
	}
	if cfg.HaltOnInterrupt {
		t.Fatalf("halt_on_interrupt should default off")
	}
	if cfg.Timers.ReconnectDelayMS != 2000 {
		t.Fatalf("reconnect delay default = %d, want 2000", cfg.Timers.ReconnectDelayMS)
	}
	if cfg.Timers.IdleTimeoutMS != 30000 {
		t.Fatalf("idle timeout default = %d, want 30000", cfg.Timers.IdleTimeoutMS)
	}
}

func TestLoadConfigExpandsEnvInSettings(t *testing.T) {
	t.Setenv("AURA_TEST_KEY", "secret-token")
	path := writeConfig(t, `
transport:
  provider: liveapi
  settings:
    url: wss://example.test/live
    api_key: ${AURA_TEST_KEY}
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Transport.Settings["api_key"]; got != "secret-token" {
		t.Fatalf("api_key = %v, want expanded env value", got)
	}
}

func TestLoadConfigRequiresTransportProvider(t *testing.T) {
	path := writeConfig(t, `
persona: nova
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for missing transport.provider")
	}
}

func TestValidateRejectsBadGateThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.GateThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for gate threshold > 1")
	}
}
