package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Certs is a throwaway PKI: one CA, a bridge certificate and a client
// certificate, both signed by the CA. PEM fields are ready to hand to the
// client constructor.
type Certs struct {
	CA         string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string

	caCert *x509.Certificate
	caKey  *ecdsa.PrivateKey
}

// NewCerts generates a fresh PKI. The bridge certificate is valid for
// 127.0.0.1 and "localhost".
func NewCerts(t testing.TB) *Certs {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"leapmq test"}, CommonName: "leapmq test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	c := &Certs{
		CA:     string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER})),
		caCert: caCert,
		caKey:  caKey,
	}
	c.ServerCert, c.ServerKey = c.Issue(t, "bridge", x509.ExtKeyUsageServerAuth)
	c.ClientCert, c.ClientKey = c.Issue(t, "leapmq client", x509.ExtKeyUsageClientAuth)
	return c
}

// Issue signs a new leaf certificate with the CA and returns cert and key PEM.
func (c *Certs) Issue(t testing.TB, commonName string, usage x509.ExtKeyUsage) (certPEM, keyPEM string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"leapmq test"}, CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, c.caCert, &key.PublicKey, c.caKey)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certPEM, keyPEM
}

// ServerTLSConfig is a bridge-side config that requires a client
// certificate signed by the CA.
func (c *Certs) ServerTLSConfig(t testing.TB) *tls.Config {
	t.Helper()

	pair, err := tls.X509KeyPair([]byte(c.ServerCert), []byte(c.ServerKey))
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(c.caCert)
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
}

// WriteFiles writes the client material into dir.
func (c *Certs) WriteFiles(t testing.TB, dir string) (caFile, keyFile, certFile string) {
	t.Helper()

	caFile = filepath.Join(dir, "ca.pem")
	keyFile = filepath.Join(dir, "client.key")
	certFile = filepath.Join(dir, "client.pem")
	require.NoError(t, os.WriteFile(caFile, []byte(c.CA), 0o644))
	require.NoError(t, os.WriteFile(keyFile, []byte(c.ClientKey), 0o600))
	require.NoError(t, os.WriteFile(certFile, []byte(c.ClientCert), 0o644))
	return caFile, keyFile, certFile
}
