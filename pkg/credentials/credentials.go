// Package credentials loads the CA, client key and client certificate used
// to authenticate against a bridge, and turns them into a mutual TLS config.
package credentials

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	leaperrors "github.com/lightforgemedia/go-leapmq/pkg/errors"
)

// Material is PEM encoded credential data.
type Material struct {
	CA   []byte
	Key  []byte
	Cert []byte
}

// Source produces credential material for a dial.
type Source interface {
	Load(ctx context.Context) (Material, error)
}

type staticSource struct {
	m Material
}

func (s staticSource) Load(context.Context) (Material, error) { return s.m, nil }

// Static wraps PEM strings that never change.
func Static(caCert, clientKey, clientCert string) Source {
	return staticSource{m: Material{CA: []byte(caCert), Key: []byte(clientKey), Cert: []byte(clientCert)}}
}

// FileSource reads the three PEM files on every Load, so rotated
// certificates apply to the next connection.
type FileSource struct {
	CAFile   string
	KeyFile  string
	CertFile string
}

// Load reads the files.
func (f FileSource) Load(context.Context) (Material, error) {
	var m Material
	var err error
	if m.CA, err = readPEM("CA", f.CAFile); err != nil {
		return Material{}, err
	}
	if m.Key, err = readPEM("client key", f.KeyFile); err != nil {
		return Material{}, err
	}
	if m.Cert, err = readPEM("client certificate", f.CertFile); err != nil {
		return Material{}, err
	}
	return m, nil
}

// Files returns the watched paths.
func (f FileSource) Files() []string {
	return []string{f.CAFile, f.KeyFile, f.CertFile}
}

func readPEM(what, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no %s file configured", leaperrors.ErrInvalidCredentials, what)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s file %s: %w", leaperrors.ErrInvalidCredentials, what, path, err)
	}
	return data, nil
}

// TLSConfig builds a client config that presents the key pair and trusts
// only the CA. With an empty serverName the peer chain is verified against
// the CA without a hostname check, since bridges are addressed by LAN IP
// and their certificates do not name it.
func (m Material) TLSConfig(serverName string) (*tls.Config, error) {
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(m.CA) {
		return nil, fmt.Errorf("%w: CA certificate is not valid PEM", leaperrors.ErrInvalidCredentials)
	}

	pair, err := tls.X509KeyPair(m.Cert, m.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: client key pair: %w", leaperrors.ErrInvalidCredentials, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      roots,
		MinVersion:   tls.VersionTLS12,
		ServerName:   serverName,
	}
	if serverName == "" {
		// Standard verification requires a hostname; do the chain check ourselves.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChain(roots)
	}
	return cfg, nil
}

func verifyChain(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: peer presented no certificate", leaperrors.ErrInvalidCredentials)
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("%w: parse peer certificate: %w", leaperrors.ErrInvalidCredentials, err)
			}
			certs = append(certs, cert)
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		if _, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		}); err != nil {
			return fmt.Errorf("%w: verify peer chain: %w", leaperrors.ErrInvalidCredentials, err)
		}
		return nil
	}
}
