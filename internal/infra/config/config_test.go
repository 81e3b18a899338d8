package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hostbridge/internal/domain"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Client.Transport != "websocket" {
		t.Errorf("Client.Transport = %q, want websocket", cfg.Client.Transport)
	}
	if cfg.Client.SDKVersion != "2.0.0" {
		t.Errorf("Client.SDKVersion = %q, want 2.0.0", cfg.Client.SDKVersion)
	}
	if cfg.Host.FrameContext != "content" {
		t.Errorf("Host.FrameContext = %q, want content", cfg.Host.FrameContext)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want info", cfg.Logger.Level)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host.Addr != "127.0.0.1:8787" {
		t.Errorf("expected defaults, got Host.Addr=%q", cfg.Host.Addr)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
client:
  transport: grpc
  url: "127.0.0.1:9797"
  call_timeout: 5s
  circuit_breaker:
    max_failures: 3
host:
  addr: "127.0.0.1:9000"
  grpc_addr: "127.0.0.1:9797"
  frame_context: settings
  tokens:
    - name: app
      token: abc
logger:
  level: debug
`, 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Client.Transport != "grpc" || cfg.Client.URL != "127.0.0.1:9797" {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Client.CallTimeout != 5*time.Second {
		t.Errorf("CallTimeout = %v, want 5s", cfg.Client.CallTimeout)
	}
	if cfg.Client.CircuitBreaker.MaxFailures != 3 {
		t.Errorf("MaxFailures = %d, want 3", cfg.Client.CircuitBreaker.MaxFailures)
	}
	// Untouched nested fields keep their defaults.
	if cfg.Client.CircuitBreaker.Timeout != 30*time.Second {
		t.Errorf("CircuitBreaker.Timeout = %v, want default 30s", cfg.Client.CircuitBreaker.Timeout)
	}
	if cfg.Host.FrameContext != "settings" {
		t.Errorf("FrameContext = %q, want settings", cfg.Host.FrameContext)
	}
	if len(cfg.Host.Tokens) != 1 || cfg.Host.Tokens[0].Token != "abc" {
		t.Errorf("Tokens = %+v", cfg.Host.Tokens)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "host:\n  frame_context: lobby\n", 0600)
	_, err := Load(path)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(ve.Errors) != 1 {
		t.Errorf("Errors = %v, want one", ve.Errors)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOSTBRIDGE_CLIENT_TRANSPORT", "grpc")
	t.Setenv("HOSTBRIDGE_CLIENT_URL", "127.0.0.1:9797")
	t.Setenv("HOSTBRIDGE_CLIENT_RATE_LIMIT", "12.5")
	t.Setenv("HOSTBRIDGE_CLIENT_CALL_TIMEOUT", "2s")
	t.Setenv("HOSTBRIDGE_HOST_FRAME_CONTEXT", "meetingStage")
	t.Setenv("HOSTBRIDGE_HOST_MDNS_ENABLED", "true")
	t.Setenv("HOSTBRIDGE_LOGGER_LEVEL", "debug")
	t.Setenv("HOSTBRIDGE_TRACER_ENABLED", "true")
	t.Setenv("HOSTBRIDGE_TRACER_EXPORTER", "stdout")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Client.Transport != "grpc" || cfg.Client.URL != "127.0.0.1:9797" {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Client.RateLimit != 12.5 {
		t.Errorf("RateLimit = %v, want 12.5", cfg.Client.RateLimit)
	}
	if cfg.Client.CallTimeout != 2*time.Second {
		t.Errorf("CallTimeout = %v, want 2s", cfg.Client.CallTimeout)
	}
	if cfg.Host.FrameContext != "meetingStage" || !cfg.Host.MDNS.Enabled {
		t.Errorf("host = %+v", cfg.Host)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if !cfg.Tracer.Enabled || cfg.Tracer.Exporter != "stdout" {
		t.Errorf("tracer = %+v", cfg.Tracer)
	}
}

func TestEnvOverridesIgnoresBadNumbers(t *testing.T) {
	t.Setenv("HOSTBRIDGE_CLIENT_RATE_LIMIT", "fast")
	t.Setenv("HOSTBRIDGE_CLIENT_CALL_TIMEOUT", "soon")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Client.RateLimit != 50 {
		t.Errorf("RateLimit = %v, want default 50", cfg.Client.RateLimit)
	}
	if cfg.Client.CallTimeout != 30*time.Second {
		t.Errorf("CallTimeout = %v, want default", cfg.Client.CallTimeout)
	}
}

func TestEnvOverridesHostTokens(t *testing.T) {
	t.Setenv("HOSTBRIDGE_HOST_TOKENS", "app=abc, bare-token ,")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if len(cfg.Host.Tokens) != 2 {
		t.Fatalf("Tokens = %+v, want 2", cfg.Host.Tokens)
	}
	if cfg.Host.Tokens[0] != (TokenConfig{Name: "app", Token: "abc"}) {
		t.Errorf("Tokens[0] = %+v", cfg.Host.Tokens[0])
	}
	if cfg.Host.Tokens[1] != (TokenConfig{Name: "token-1", Token: "bare-token"}) {
		t.Errorf("Tokens[1] = %+v", cfg.Host.Tokens[1])
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encrypted, err := EncryptValue("host-token-123", "test-passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	decrypted, err := DecryptValue(encrypted, "test-passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != "host-token-123" {
		t.Errorf("got %q, want %q", decrypted, "host-token-123")
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	_, err = DecryptValue(encrypted, "wrong-pass")
	if !errors.Is(err, domain.ErrDecryption) {
		t.Errorf("DecryptValue(wrong pass) = %v, want ErrDecryption", err)
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	tests := map[string]string{
		"no separator":   "deadbeef",
		"bad salt":       "zz:00",
		"bad ciphertext": "00:zz",
		"too short":      "0011:00",
	}
	for name, in := range tests {
		if _, err := DecryptValue(in, "pass"); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDecryptSecrets(t *testing.T) {
	pass := "test-config-key"
	encClient, err := EncryptValue("client-secret", pass)
	if err != nil {
		t.Fatal(err)
	}
	encHost, err := EncryptValue("host-secret", pass)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	cfg.Client.Token = "enc:" + encClient
	cfg.Host.Tokens = []TokenConfig{
		{Name: "enc", Token: "enc:" + encHost},
		{Name: "plain", Token: "plain-token"},
	}

	if err := decryptSecrets(cfg, pass); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.Client.Token != "client-secret" {
		t.Errorf("Client.Token = %q", cfg.Client.Token)
	}
	if cfg.Host.Tokens[0].Token != "host-secret" {
		t.Errorf("Tokens[0] = %q", cfg.Host.Tokens[0].Token)
	}
	if cfg.Host.Tokens[1].Token != "plain-token" {
		t.Errorf("plain token changed: %q", cfg.Host.Tokens[1].Token)
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.Host.Tokens = []TokenConfig{{Name: "broken", Token: "enc:not-valid"}}
	if err := decryptSecrets(cfg, "pass"); err == nil {
		t.Error("expected error for invalid ciphertext")
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	pass := "test-load-key"
	encrypted, err := EncryptValue("app-token", pass)
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, "client:\n  token: \"enc:"+encrypted+"\"\n", 0600)

	t.Setenv("HOSTBRIDGE_CONFIG_KEY", pass)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Client.Token != "app-token" {
		t.Errorf("Client.Token = %q, want app-token", cfg.Client.Token)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	path := writeConfig(t, "client:\n  token: \"enc:invalid-not-hex\"\n", 0600)
	t.Setenv("HOSTBRIDGE_CONFIG_KEY", "some-passphrase")
	if _, err := Load(path); err == nil {
		t.Error("expected error from decrypt secrets")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: bad", 0600)
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "logger:\n  level: debug\n", 0666)
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()
	for _, tt := range []struct {
		perm os.FileMode
		ok   bool
	}{
		{0600, true},
		{0644, true},
		{0666, false},
		{0620, false},
	} {
		path := filepath.Join(dir, tt.perm.String()+".yaml")
		if err := os.WriteFile(path, []byte("x"), tt.perm); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, tt.perm); err != nil {
			t.Fatal(err)
		}
		err := validatePermissions(path)
		if tt.ok && err != nil {
			t.Errorf("%o should pass: %v", tt.perm, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%o should fail", tt.perm)
		}
	}

	if err := validatePermissions(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected stat error for missing file")
	}
}
