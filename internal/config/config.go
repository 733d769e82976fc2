package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/servisr/internal/logger"
	"github.com/loykin/servisr/internal/process"
	"github.com/spf13/viper"
)

// Defaults applied by Normalize when the TOML file leaves a knob unset.
const (
	DefaultPort                = 8080
	DefaultStartupTimeout      = 60 * time.Second
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultConnectionTimeout   = 30 * time.Second
	DefaultRequestTimeout      = 5 * time.Second
	DefaultRetries             = 3
	DefaultRetryDelay          = time.Second
	DefaultCaptureWindow       = 10 * time.Second
)

// FileConfig represents the top-level TOML structure:
//
//	env = ["SERVAL_HOME=/opt/serval"]
//	use_os_env = true
//
//	[serval]
//	jar_path = "/opt/serval/serval-2.1.6.jar"
//	port = 8080
//	startup_timeout = "60s"
//
//	[server]
//	enabled = true
//	listen = "127.0.0.1:9001"
type FileConfig struct {
	Env      []string       `toml:"env" mapstructure:"env"`
	EnvFiles []string       `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool           `toml:"use_os_env" mapstructure:"use_os_env"`
	Logging  logger.Config  `toml:"logging" mapstructure:"logging"`
	Serval   ServalConfig   `toml:"serval" mapstructure:"serval"`
	Server   *ServerConfig  `toml:"server" mapstructure:"server"`
	Journal  *JournalConfig `toml:"journal" mapstructure:"journal"`
	Metrics  *MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

// ServalConfig describes the one SERVAL instance this supervisor owns: how to
// find and launch it, and the timing rules applied while it runs.
type ServalConfig struct {
	Name        string   `toml:"name" mapstructure:"name"`
	JarPath     string   `toml:"jar_path" mapstructure:"jar_path"`
	JavaBin     string   `toml:"java_bin" mapstructure:"java_bin"`
	Host        string   `toml:"host" mapstructure:"host"`
	Port        int      `toml:"port" mapstructure:"port"`
	ExtraArgs   []string `toml:"extra_args" mapstructure:"extra_args"`
	WorkDir     string   `toml:"workdir" mapstructure:"workdir"`
	Env         []string `toml:"env" mapstructure:"env"`
	SearchRoots []string `toml:"search_roots" mapstructure:"search_roots"`

	StartupTimeout      time.Duration `toml:"startup_timeout" mapstructure:"startup_timeout"`
	HealthCheckInterval time.Duration `toml:"health_check_interval" mapstructure:"health_check_interval"`
	ConnectionTimeout   time.Duration `toml:"connection_timeout" mapstructure:"connection_timeout"`
	RequestTimeout      time.Duration `toml:"request_timeout" mapstructure:"request_timeout"`
	Retries             int           `toml:"retries" mapstructure:"retries"`
	RetryDelay          time.Duration `toml:"retry_delay" mapstructure:"retry_delay"`
	CaptureWindow       time.Duration `toml:"capture_window" mapstructure:"capture_window"`

	// nil means enabled; set to false to opt out.
	AutoRestart       *bool `toml:"autorestart" mapstructure:"autorestart"`
	RequireConnection *bool `toml:"require_connection" mapstructure:"require_connection"`

	TailSize int               `toml:"tail_size" mapstructure:"tail_size"`
	Log      logger.FileConfig `toml:"log" mapstructure:"log"`
}

// AutoRestartEnabled resolves the pointer default (unset means true).
func (sc *ServalConfig) AutoRestartEnabled() bool {
	return sc.AutoRestart == nil || *sc.AutoRestart
}

// ConnectionRequired resolves the pointer default (unset means true).
func (sc *ServalConfig) ConnectionRequired() bool {
	return sc.RequireConnection == nil || *sc.RequireConnection
}

// Normalize fills unset fields with defaults. Zero durations are treated as
// unset so a loaded config always satisfies Validate's duration rules.
func (sc *ServalConfig) Normalize() {
	if sc.Name == "" {
		sc.Name = "serval"
	}
	if sc.JavaBin == "" {
		sc.JavaBin = "java"
	}
	if sc.Host == "" {
		sc.Host = "localhost"
	}
	if sc.Port == 0 {
		sc.Port = DefaultPort
	}
	if sc.StartupTimeout <= 0 {
		sc.StartupTimeout = DefaultStartupTimeout
	}
	if sc.HealthCheckInterval <= 0 {
		sc.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if sc.ConnectionTimeout <= 0 {
		sc.ConnectionTimeout = DefaultConnectionTimeout
	}
	if sc.RequestTimeout <= 0 {
		sc.RequestTimeout = DefaultRequestTimeout
	}
	if sc.Retries == 0 {
		sc.Retries = DefaultRetries
	}
	if sc.RetryDelay <= 0 {
		sc.RetryDelay = DefaultRetryDelay
	}
	if sc.CaptureWindow <= 0 {
		sc.CaptureWindow = DefaultCaptureWindow
	}
	if sc.TailSize <= 0 {
		sc.TailSize = process.DefaultTailSize
	}
}

// Validate rejects values Normalize cannot repair. Durations must be positive
// for every feature that is enabled.
func (sc *ServalConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return fmt.Errorf("serval port %d out of range", sc.Port)
	}
	if sc.StartupTimeout <= 0 {
		return fmt.Errorf("startup_timeout must be positive")
	}
	if sc.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive")
	}
	if sc.ConnectionRequired() && sc.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive when require_connection is set")
	}
	if sc.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if sc.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if sc.Retries > 0 && sc.RetryDelay <= 0 {
		return fmt.Errorf("retry_delay must be positive when retries are enabled")
	}
	return nil
}

// ProcessSpec converts the launch-relevant fields into a process.Spec. The
// JAR path is left as configured; artifact discovery may replace it later.
func (sc *ServalConfig) ProcessSpec() process.Spec {
	return process.Spec{
		Name:      sc.Name,
		JavaBin:   sc.JavaBin,
		JarPath:   sc.JarPath,
		Port:      sc.Port,
		ExtraArgs: sc.ExtraArgs,
		WorkDir:   sc.WorkDir,
		Env:       sc.Env,
		Log:       sc.Log,
		TailSize:  sc.TailSize,
	}
}

// ServerConfig configures the embedded management API.
type ServerConfig struct {
	Enabled       bool       `toml:"enabled" mapstructure:"enabled"`
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
}

func (sc *ServerConfig) Normalize() {
	if sc.Listen == "" {
		sc.Listen = "127.0.0.1:9001"
	}
	if sc.BasePath == "" {
		sc.BasePath = "/api"
	}
}

func (sc *ServerConfig) Validate() error {
	if !sc.Enabled {
		return nil
	}
	if sc.Listen == "" {
		return fmt.Errorf("server listen address required when server is enabled")
	}
	if sc.TLS != nil && sc.TLS.Enabled {
		if sc.TLS.CertFile == "" && sc.TLS.KeyFile == "" && sc.TLS.Dir == "" {
			return fmt.Errorf("tls enabled but neither cert_file/key_file nor dir configured")
		}
		if (sc.TLS.CertFile == "") != (sc.TLS.KeyFile == "") {
			return fmt.Errorf("tls cert_file and key_file must be set together")
		}
	}
	return nil
}

// TLSConfig selects certificates for the management API. Either explicit
// cert/key files or a directory; with AutoGenerate the directory is populated
// with a self-signed pair on first use.
type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGenTLS tunes self-signed certificate generation.
type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// JournalConfig lists event sinks by DSN, e.g. "sqlite:///var/lib/servisr.db",
// "postgres://user:pw@host/db", "clickhouse://host:9000?table=supervisor_events",
// "clickhouse-http://host:8123?table=supervisor_events" or
// "opensearch://host:9200/index".
type JournalConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	DSNs    []string `toml:"dsns" mapstructure:"dsns"`
}

// MetricsConfig enables Prometheus metrics. When Listen is set a standalone
// /metrics server is started; the management API exposes them regardless.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// Load parses the TOML file at path and returns a normalized, validated
// configuration.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	fc.Normalize()
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) Normalize() {
	fc.Serval.Normalize()
	if fc.Server != nil {
		fc.Server.Normalize()
	}
}

func (fc *FileConfig) Validate() error {
	if err := fc.Serval.Validate(); err != nil {
		return err
	}
	if fc.Server != nil {
		if err := fc.Server.Validate(); err != nil {
			return err
		}
	}
	if fc.Journal != nil && fc.Journal.Enabled && len(fc.Journal.DSNs) == 0 {
		return fmt.Errorf("journal enabled but no dsns configured")
	}
	return nil
}

// LoadGlobalEnv merges env from config: env_files contents and the top-level
// env list, optionally over the OS environment when use_os_env is true.
// Precedence: OS env (when enabled) provides the base; then file vars; then
// the top-level env list overrides last.
func LoadGlobalEnv(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, val := range pairs {
			m[k] = val
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, val := range m {
		out = append(out, k+"="+val)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting
// with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
