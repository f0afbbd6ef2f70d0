package tlsmgr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

func writeSelfSignedPair(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test.local"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	certOut.Close()

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	keyOut.Close()

	return certPath, keyPath
}

func TestResolveLoadsAndCachesPair(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedPair(t, dir)

	m, err := New(nil)
	require.NoError(t, err)
	defer m.Close()

	cfg := &config.TLSConfig{Cert: certPath, Key: keyPath}
	tlsCfg1, err := m.Resolve(cfg)
	require.NoError(t, err)
	require.NotNil(t, tlsCfg1)

	tlsCfg2, err := m.Resolve(cfg)
	require.NoError(t, err)
	require.NotNil(t, tlsCfg2)

	m.mu.Lock()
	cacheSize := len(m.byPair)
	m.mu.Unlock()
	require.Equal(t, 1, cacheSize, "resolving the same pair twice should reuse the cached certmagic.Config")
}

func TestResolveNilConfigReturnsNil(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	defer m.Close()

	tlsCfg, err := m.Resolve(nil)
	require.NoError(t, err)
	require.Nil(t, tlsCfg)
}
