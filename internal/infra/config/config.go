package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"hostbridge/internal/domain"
)

// Config is the root configuration for the hostbridge binary.
type Config struct {
	Includes []string     `yaml:"includes,omitempty"`
	Client   ClientConfig `yaml:"client"`
	Host     HostConfig   `yaml:"host"`
	Logger   LoggerConfig `yaml:"logger"`
	Tracer   TracerConfig `yaml:"tracer"`
}

// ClientConfig configures the embedded-app side of the bridge.
type ClientConfig struct {
	Transport      string               `yaml:"transport"` // "websocket" or "grpc"
	URL            string               `yaml:"url"`
	Token          string               `yaml:"token"`
	SDKVersion     string               `yaml:"sdk_version"`
	RateLimit      float64              `yaml:"rate_limit"`
	Burst          int                  `yaml:"burst"`
	CallTimeout    time.Duration        `yaml:"call_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Discover       bool                 `yaml:"discover"`
}

// CircuitBreakerConfig mirrors the knobs of the resilient transport.
type CircuitBreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// HostConfig configures the reference host shell.
type HostConfig struct {
	Addr         string        `yaml:"addr"`
	GRPCAddr     string        `yaml:"grpc_addr"`
	FrameContext string        `yaml:"frame_context"`
	HostName     string        `yaml:"host_name"`
	ClientType   string        `yaml:"client_type"`
	Tokens       []TokenConfig `yaml:"tokens"`
	JournalPath  string        `yaml:"journal_path"`
	MDNS         MDNSConfig    `yaml:"mdns"`
}

// TokenConfig is a named bearer token accepted by the host.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// MDNSConfig controls host advertisement on the local network.
type MDNSConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Domain      string `yaml:"domain"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// defaultDataDir returns the persistent data directory under $HOME/.hostbridge/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".hostbridge", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Client: ClientConfig{
			Transport:   "websocket",
			URL:         "ws://127.0.0.1:8787/ws",
			SDKVersion:  "2.0.0",
			RateLimit:   50,
			Burst:       100,
			CallTimeout: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Host: HostConfig{
			Addr:         "127.0.0.1:8787",
			FrameContext: "content",
			HostName:     "hostbridge",
			ClientType:   "desktop",
			JournalPath:  filepath.Join(dataDir, "journal.db"),
			MDNS: MDNSConfig{
				ServiceName: "_hostbridge._tcp",
				Domain:      "local.",
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter:    "noop",
			SampleRatio: 1,
		},
	}
}

// Load reads a YAML config file over Defaults. A missing file is not an
// error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: the main file wins over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("HOSTBRIDGE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps HOSTBRIDGE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOSTBRIDGE_CLIENT_TRANSPORT"); v != "" {
		cfg.Client.Transport = v
	}
	if v := os.Getenv("HOSTBRIDGE_CLIENT_URL"); v != "" {
		cfg.Client.URL = v
	}
	if v := os.Getenv("HOSTBRIDGE_CLIENT_TOKEN"); v != "" {
		cfg.Client.Token = v
	}
	if v := os.Getenv("HOSTBRIDGE_CLIENT_SDK_VERSION"); v != "" {
		cfg.Client.SDKVersion = v
	}
	if v := os.Getenv("HOSTBRIDGE_CLIENT_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Client.RateLimit = f
		}
	}
	if v := os.Getenv("HOSTBRIDGE_CLIENT_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Client.CallTimeout = d
		}
	}
	if v := os.Getenv("HOSTBRIDGE_CLIENT_DISCOVER"); v == "true" {
		cfg.Client.Discover = true
	}
	if v := os.Getenv("HOSTBRIDGE_HOST_ADDR"); v != "" {
		cfg.Host.Addr = v
	}
	if v := os.Getenv("HOSTBRIDGE_HOST_GRPC_ADDR"); v != "" {
		cfg.Host.GRPCAddr = v
	}
	if v := os.Getenv("HOSTBRIDGE_HOST_FRAME_CONTEXT"); v != "" {
		cfg.Host.FrameContext = v
	}
	if v := os.Getenv("HOSTBRIDGE_HOST_NAME"); v != "" {
		cfg.Host.HostName = v
	}
	if v := os.Getenv("HOSTBRIDGE_HOST_JOURNAL_PATH"); v != "" {
		cfg.Host.JournalPath = v
	}
	if v := os.Getenv("HOSTBRIDGE_HOST_TOKENS"); v != "" {
		// Comma-separated name=token pairs; a bare token gets a positional name.
		cfg.Host.Tokens = nil
		for i, pair := range splitAndTrim(v, ",") {
			if pair == "" {
				continue
			}
			name, token, ok := strings.Cut(pair, "=")
			if !ok {
				name, token = fmt.Sprintf("token-%d", i), pair
			}
			cfg.Host.Tokens = append(cfg.Host.Tokens, TokenConfig{Name: name, Token: token})
		}
	}
	if v := os.Getenv("HOSTBRIDGE_HOST_MDNS_ENABLED"); v != "" {
		cfg.Host.MDNS.Enabled = v == "true"
	}
	if v := os.Getenv("HOSTBRIDGE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("HOSTBRIDGE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("HOSTBRIDGE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("HOSTBRIDGE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets replaces "enc:..." values in the client token and host tokens.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Client.Token, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Client.Token, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("client token: %w", err)
		}
		cfg.Client.Token = decrypted
	}

	for i := range cfg.Host.Tokens {
		tok := cfg.Host.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("host token %s: %w", cfg.Host.Tokens[i].Name, err)
			}
			cfg.Host.Tokens[i].Token = decrypted
		}
	}

	return nil
}

// EncryptValue encrypts plaintext with AES-256-GCM using a key derived from passphrase.
// The result is the form expected after the "enc:" prefix.
func EncryptValue(plaintext, passphrase string) (string, error) {
	out, err := encrypt(plaintext, passphrase)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrEncryption, err)
	}
	return out, nil
}

func encrypt(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	out, err := decrypt(encrypted, passphrase)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrDecryption, err)
	}
	return out, nil
}

func decrypt(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Others may read the file but never write it.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
