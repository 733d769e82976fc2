package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/servisr/internal/config"
)

// File names inside a certificate directory.
const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// SetupTLS builds the tls.Config for the management API from server config.
// Returns (nil, nil) when TLS is not enabled, so the result can be handed to
// the server either way.
func SetupTLS(server config.ServerConfig) (*tls.Config, error) {
	tc := server.TLS
	if tc == nil || !tc.Enabled {
		return nil, nil
	}

	switch {
	case tc.CertFile != "" && tc.KeyFile != "":
		return newConfig(server, tc.CertFile, tc.KeyFile), nil

	case tc.Dir != "":
		certPath := filepath.Join(tc.Dir, tlsCrt)
		keyPath := filepath.Join(tc.Dir, tlsKey)
		if tc.AutoGenerate && !pairExists(certPath, keyPath) {
			if err := generateInto(tc, tc.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(server, certPath, keyPath), nil

	default:
		return nil, errors.New("TLS enabled but no valid certificate configuration found")
	}
}

// EasyTLSSetup provides a simplified interface for TLS setup.
func EasyTLSSetup(listen string, certDir string, autoGen bool) (*tls.Config, error) {
	return SetupTLS(config.ServerConfig{
		Listen: listen,
		TLS: &config.TLSConfig{
			Enabled:      true,
			Dir:          certDir,
			AutoGenerate: autoGen,
		},
	})
}

// QuickSelfSignedTLS generates a quick self-signed certificate for testing.
func QuickSelfSignedTLS(certDir string) (*tls.Config, error) {
	return EasyTLSSetup("localhost:9001", certDir, true)
}

func newConfig(server config.ServerConfig, certPath, keyPath string) *tls.Config {
	minVer, maxVer := versionBounds(server)
	// #nosec G402 TLS backward compatibility considered
	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

var tlsVersionNames = map[string]uint16{
	"1.2":    tls.VersionTLS12,
	"TLS1.2": tls.VersionTLS12,
	"tls1.2": tls.VersionTLS12,
	"1.3":    tls.VersionTLS13,
	"TLS1.3": tls.VersionTLS13,
	"tls1.3": tls.VersionTLS13,
}

// versionBounds resolves the configured min/max TLS versions. Empty or
// unknown values fall back to TLS 1.3.
func versionBounds(server config.ServerConfig) (uint16, uint16) {
	minVer, maxVer := uint16(tls.VersionTLS13), uint16(tls.VersionTLS13)
	if v, ok := tlsVersionNames[server.TLSMinVersion]; ok {
		minVer = v
	}
	if v, ok := tlsVersionNames[server.TLSMaxVersion]; ok {
		maxVer = v
	}
	return minVer, maxVer
}

// getCertificationFunc returns a loader that reads the pair on every
// handshake, so a rotated certificate on disk is picked up without
// restarting the API server. Both files must resolve inside the
// certificate's directory.
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := readConfined(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := readConfined(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &pair, nil
	}
}

// readConfined reads a file after checking that it resolves inside baseDir.
func readConfined(baseDir, p string) ([]byte, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	absFile, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(absBase, absFile)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, errors.New("file path outside of allowed directory")
	}
	return os.ReadFile(absFile)
}

func pairExists(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

// generateInto writes a self-signed pair (plus a CA copy for client pinning)
// into destDir, with defaults suited to a lab-local supervisor.
func generateInto(tc *config.TLSConfig, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	gen := tc.AutoGen
	if gen == nil {
		gen = &config.AutoGenTLS{}
	}
	cert := CertConfig{
		CommonName:   gen.CommonName,
		Organization: gen.Organization,
		DNSNames:     gen.DNSNames,
		IPAddresses:  gen.IPAddresses,
		CertPath:     filepath.Join(destDir, tlsCrt),
		KeyPath:      filepath.Join(destDir, tlsKey),
		CACertPath:   filepath.Join(destDir, tlsCaCrt),
	}
	if cert.CommonName == "" {
		cert.CommonName = "localhost"
	}
	if cert.Organization == "" {
		cert.Organization = "servisr"
	}
	if len(cert.DNSNames) == 0 {
		cert.DNSNames = []string{"localhost", "127.0.0.1"}
	}
	if len(cert.IPAddresses) == 0 {
		cert.IPAddresses = []string{"127.0.0.1"}
	}

	days := gen.ValidDays
	if days <= 0 {
		days = 365 * 5
	}
	cert.NotAfter = time.Now().AddDate(0, 0, days)

	return GenerateSelfSignedCert(cert)
}
