package verify

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-smime/smimecore/internal/certstore"
	"github.com/go-smime/smimecore/internal/cms"
	"github.com/go-smime/smimecore/internal/digest"
)

func selfSignedRoot(t *testing.T, cn string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-48 * time.Hour),
		NotAfter:              time.Now().Add(48 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func leafSignedBy(t *testing.T, cn string, issuer *x509.Certificate, issuerKey *rsa.PrivateKey) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:   big.NewInt(2),
		Subject:        pkix.Name{CommonName: cn},
		NotBefore:      time.Now().Add(-24 * time.Hour),
		NotAfter:       time.Now().Add(24 * time.Hour),
		EmailAddresses: []string{cn + "@example.com"},
		KeyUsage:       x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer, &key.PublicKey, issuerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func TestOrchestrateDetachedChainTrusted(t *testing.T) {
	root, rootKey := selfSignedRoot(t, "Root CA")
	leaf, leafKey := leafSignedBy(t, "Alice", root, rootKey)
	content := []byte("Hello\r\n")

	sd, err := cms.NewSignedData(content, true)
	require.NoError(t, err)
	require.NoError(t, sd.AddSignerInfo(leaf, leafKey, digest.SHA256, nil, nil, nil, false))
	sd.Detach()

	der, err := sd.ToDER()
	require.NoError(t, err)
	parsed, err := cms.ParseSignedData(der)
	require.NoError(t, err)

	// Trust anchors come from the root bundle; ImportCertificate would only
	// add root to the address book.
	dir := t.TempDir()
	rootPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Raw})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "root.crt"), rootPEM, 0o600))
	store := certstore.NewFileBackend(certstore.FileConfig{Root: dir})

	collection, err := Orchestrate(parsed, content, true, store)
	require.NoError(t, err)
	require.Len(t, collection, 1)
	require.NoError(t, collection[0].VerifyErr)
	require.NoError(t, collection[0].ChainException)
	require.Len(t, collection[0].Chain, 2)
}

func TestOrchestrateUntrustedAnchorAttachesChainException(t *testing.T) {
	root, rootKey := selfSignedRoot(t, "Root CA")
	leaf, leafKey := leafSignedBy(t, "Alice", root, rootKey)
	content := []byte("data")

	sd, err := cms.NewSignedData(content, true)
	require.NoError(t, err)
	require.NoError(t, sd.AddSignerInfo(leaf, leafKey, digest.SHA256, nil, nil, nil, false))

	der, err := sd.ToDER()
	require.NoError(t, err)
	parsed, err := cms.ParseSignedData(der)
	require.NoError(t, err)

	// The root is never imported into the store, so it can't be a
	// trusted anchor: chain building must fail but the signature itself
	// (found via the embedded certificate) still verifies.
	dir := t.TempDir()
	store := certstore.NewFileBackend(certstore.FileConfig{Root: dir})

	collection, err := Orchestrate(parsed, nil, false, store)
	require.NoError(t, err)
	require.Len(t, collection, 1)
	require.NotNil(t, collection[0].Certificate)
	require.NoError(t, collection[0].VerifyErr)
	require.Error(t, collection[0].ChainException)
	require.Nil(t, collection[0].Chain)
}
