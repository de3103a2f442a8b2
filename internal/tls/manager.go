package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// Manager handles TLS certificate management
type Manager struct {
	cfg          *config.TLSConfig
	logger       *zap.Logger
	autocertMgr  *autocert.Manager
	certificates map[string]*tls.Certificate
	mu           sync.RWMutex
}

// NewManager creates a new TLS manager
func NewManager(cfg *config.TLSConfig, logger *zap.Logger) (*Manager, error) {
	manager := &Manager{
		cfg:          cfg,
		logger:       logger,
		certificates: make(map[string]*tls.Certificate),
	}

	if !cfg.Enabled {
		logger.Info("TLS is disabled")
		return manager, nil
	}

	if cfg.AutoCert.Enabled {
		if err := manager.initAutoCert(); err != nil {
			return nil, fmt.Errorf("failed to initialize auto-cert: %w", err)
		}
	}

	if err := manager.loadManualCertificates(); err != nil {
		return nil, fmt.Errorf("failed to load manual certificates: %w", err)
	}

	return manager, nil
}

// initAutoCert initializes the Let's Encrypt auto-cert manager
func (m *Manager) initAutoCert() error {
	if err := os.MkdirAll(m.cfg.AutoCert.CacheDir, 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	m.autocertMgr = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache(m.cfg.AutoCert.CacheDir),
		HostPolicy: autocert.HostWhitelist(m.cfg.AutoCert.Hosts...),
		Email:      m.cfg.AutoCert.Email,
	}

	if m.cfg.AutoCert.Staging {
		m.autocertMgr.Client = &acme.Client{
			DirectoryURL: "https://acme-staging-v02.api.letsencrypt.org/directory",
		}
		m.logger.Info("Using Let's Encrypt staging environment")
	}

	m.logger.Info("Auto-cert manager initialized",
		zap.Strings("hosts", m.cfg.AutoCert.Hosts),
		zap.String("cache_dir", m.cfg.AutoCert.CacheDir),
		zap.Bool("staging", m.cfg.AutoCert.Staging))

	return nil
}

// loadManualCertificates loads manually configured certificates
func (m *Manager) loadManualCertificates() error {
	for i := range m.cfg.Certificates {
		if err := m.loadCertificate(&m.cfg.Certificates[i]); err != nil {
			return fmt.Errorf("failed to load certificate %d: %w", i, err)
		}
	}
	return nil
}

// loadCertificate loads a single certificate, generating it first when
// it is self-signed and missing or close to expiry.
func (m *Manager) loadCertificate(certConfig *config.CertificateConfig) error {
	if certConfig.SelfSigned && !usablePair(certConfig.CertFile, certConfig.KeyFile) {
		m.logger.Info("Generating self-signed certificate",
			zap.Strings("hosts", certConfig.Hosts),
			zap.String("cert_file", certConfig.CertFile))
		if err := GenerateSelfSigned(certConfig.Hosts, certConfig.ValidFor, certConfig.CertFile, certConfig.KeyFile); err != nil {
			return fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
	}

	cert, err := tls.LoadX509KeyPair(certConfig.CertFile, certConfig.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}

	if err := m.validateCertificate(&cert); err != nil {
		return fmt.Errorf("certificate validation failed: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, host := range certConfig.Hosts {
		m.certificates[host] = &cert
		m.logger.Info("Loaded certificate",
			zap.String("host", host),
			zap.String("cert_file", certConfig.CertFile),
			zap.Bool("self_signed", certConfig.SelfSigned))
	}

	return nil
}

// validateCertificate rejects certificates outside their validity window
func (m *Manager) validateCertificate(cert *tls.Certificate) error {
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := time.Now()
	if now.After(x509Cert.NotAfter) {
		return fmt.Errorf("certificate expired at %v", x509Cert.NotAfter)
	}
	if now.Before(x509Cert.NotBefore) {
		return fmt.Errorf("certificate not valid until %v", x509Cert.NotBefore)
	}

	m.logger.Debug("Certificate validated",
		zap.String("subject", x509Cert.Subject.CommonName),
		zap.Strings("dns_names", x509Cert.DNSNames),
		zap.Time("not_after", x509Cert.NotAfter))

	return nil
}

// GetTLSConfig returns the TLS configuration of the dashboard listener
func (m *Manager) GetTLSConfig() (*tls.Config, error) {
	if !m.cfg.Enabled {
		return nil, fmt.Errorf("TLS is disabled")
	}

	tlsConfig := &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: m.getCertificate,
	}
	if m.autocertMgr != nil {
		tlsConfig.NextProtos = []string{"h2", "http/1.1", acme.ALPNProto}
	}

	return tlsConfig, nil
}

func (m *Manager) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	host := hello.ServerName
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	m.mu.RLock()
	cert, exists := m.certificates[host]
	if !exists && host == "" {
		if hosts := m.hostsLocked(); len(hosts) > 0 {
			cert, exists = m.certificates[hosts[0]], true
		}
	}
	m.mu.RUnlock()

	if exists {
		return cert, nil
	}
	if m.autocertMgr != nil {
		return m.autocertMgr.GetCertificate(hello)
	}

	return nil, fmt.Errorf("no certificate found for host: %s", host)
}

// HTTPHandler wraps fallback so ACME HTTP-01 challenges are answered when
// autocert is enabled.
func (m *Manager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.autocertMgr == nil {
		return fallback
	}
	return m.autocertMgr.HTTPHandler(fallback)
}

// ReloadCertificates reloads all manual certificates
func (m *Manager) ReloadCertificates() error {
	m.logger.Info("Reloading manual certificates")

	m.mu.Lock()
	m.certificates = make(map[string]*tls.Certificate)
	m.mu.Unlock()

	return m.loadManualCertificates()
}

// CertifiedHosts lists the hosts served by manual certificates
func (m *Manager) CertifiedHosts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hostsLocked()
}

func (m *Manager) hostsLocked() []string {
	hosts := make([]string, 0, len(m.certificates))
	for host := range m.certificates {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
