package tls

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/servisr/internal/config"
)

// Builder assembles a config.TLSConfig for the management API in small steps.
// The result is enabled; callers add either explicit certificate files or a
// directory.
type Builder struct {
	certFile     string
	keyFile      string
	dir          string
	autoGenerate bool
	autoGen      *config.AutoGenTLS
}

func NewTLSBuilder() *Builder { return &Builder{} }

// WithCertFiles selects an explicit certificate and key pair.
func (b *Builder) WithCertFiles(certFile, keyFile string) *Builder {
	b.certFile, b.keyFile = certFile, keyFile
	return b
}

// WithDir selects a certificate directory holding tls.crt and tls.key.
func (b *Builder) WithDir(dir string) *Builder {
	b.dir = dir
	return b
}

// WithAutoGenerate populates the directory with a self-signed pair when the
// files are missing.
func (b *Builder) WithAutoGenerate(enable bool) *Builder {
	b.autoGenerate = enable
	return b
}

// WithAutoGenConfig tunes the generated certificate.
func (b *Builder) WithAutoGenConfig(commonName string, dnsNames []string, validDays int) *Builder {
	b.autoGen = &config.AutoGenTLS{
		CommonName: commonName,
		DNSNames:   dnsNames,
		ValidDays:  validDays,
	}
	return b
}

func (b *Builder) Build() *config.TLSConfig {
	return &config.TLSConfig{
		Enabled:      true,
		CertFile:     b.certFile,
		KeyFile:      b.keyFile,
		Dir:          b.dir,
		AutoGenerate: b.autoGenerate,
		AutoGen:      b.autoGen,
	}
}

// Presets cover the deployment shapes the config templates target. Development
// and Lab generate self-signed pairs; Production requires operator-managed
// certificate files.
type Presets struct{}

var Default = Presets{}

// Development generates a localhost pair under certDir on first use. Good
// enough when the supervisor and its clients share a machine.
func (Presets) Development(certDir string) *config.TLSConfig {
	return &config.TLSConfig{
		Enabled:      true,
		Dir:          certDir,
		AutoGenerate: true,
		AutoGen: &config.AutoGenTLS{
			CommonName: "localhost",
			DNSNames:   []string{"localhost", "127.0.0.1"},
			ValidDays:  365,
		},
	}
}

// Production never generates anything.
func (Presets) Production(certFile, keyFile string) *config.TLSConfig {
	return &config.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}
}

// Lab generates a pair for a facility host that operators reach by hostname,
// valid long enough to outlive a beamtime.
func (Presets) Lab(certDir, hostname string) *config.TLSConfig {
	return &config.TLSConfig{
		Enabled:      true,
		Dir:          certDir,
		AutoGenerate: true,
		AutoGen: &config.AutoGenTLS{
			CommonName: hostname,
			DNSNames:   []string{hostname, "localhost"},
			ValidDays:  730,
		},
	}
}

// Testing generates a short-lived pair in a fresh temporary directory. The
// caller removes the directory when done.
func (Presets) Testing() (*config.TLSConfig, error) {
	dir, err := os.MkdirTemp("", "servisr-tls-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}
	return &config.TLSConfig{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
		AutoGen: &config.AutoGenTLS{
			CommonName: "test",
			DNSNames:   []string{"test", "localhost"},
			ValidDays:  1,
		},
	}, nil
}

// CreateDevTLS creates a development TLS configuration under baseDir/tls.
func CreateDevTLS(baseDir string) (*config.TLSConfig, error) {
	certDir := filepath.Join(baseDir, "tls")
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create TLS directory: %w", err)
	}
	return Default.Development(certDir), nil
}
