// Package tls terminates HTTPS for the engine: ACME-issued certificates
// in production, file-based key pairs otherwise, with a generated dev
// certificate as the last fallback.
package tls

import (
	"crypto/tls"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"stronghold-security/internal/config"
	"stronghold-security/internal/util"
)

type Manager struct {
	server   config.ServerConfig
	autoCert *autocert.Manager
}

func NewManager(server config.ServerConfig) *Manager {
	m := &Manager{server: server}
	if server.EnableTLS && server.AutoCert {
		m.setupAutoCert()
	}
	return m
}

func (m *Manager) setupAutoCert() {
	if err := os.MkdirAll(m.server.AutoCertDir, 0700); err != nil {
		util.Warn("Could not create autocert cache directory",
			zap.String("dir", m.server.AutoCertDir),
			zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.server.Domain),
		Cache:      autocert.DirCache(m.server.AutoCertDir),
		Email:      m.server.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.server.Domain),
		zap.String("cache_dir", m.server.AutoCertDir))
}

// GetCertificate resolves a certificate for the handshake: ACME first,
// then the configured key pair, then a generated dev certificate.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		if cert, err := m.autoCert.GetCertificate(hello); err == nil {
			return cert, nil
		}
	}

	if m.server.CertFile != "" && m.server.KeyFile != "" {
		if cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile); err == nil {
			return &cert, nil
		}
	}

	return m.devCertificate()
}

func (m *Manager) devCertificate() (*tls.Certificate, error) {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if m.server.Domain != "" {
		hosts = append([]string{m.server.Domain}, hosts...)
	}

	cert, err := issueDevCert(m.server.AutoCertDir, hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}

	util.Info("Generated self-signed certificate", zap.Strings("hosts", hosts))
	return &cert, nil
}

func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

func (m *Manager) AutocertManager() *autocert.Manager {
	return m.autoCert
}
