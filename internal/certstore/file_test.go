package certstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-smime/smimecore/internal/digest"
	"github.com/go-smime/smimecore/internal/types"
)

func genCert(t *testing.T, cn, email string) *x509.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:   big.NewInt(time.Now().UnixNano()),
		Subject:        pkix.Name{CommonName: cn},
		NotBefore:      time.Now().Add(-time.Hour),
		NotAfter:       time.Now().Add(24 * time.Hour),
		EmailAddresses: []string{email},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestFileBackendImportAndRecipientLookup(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(FileConfig{Root: dir})

	bob := genCert(t, "Bob", "bob@example.com")
	require.NoError(t, backend.ImportCertificate(bob))

	recipient, err := backend.GetCMSRecipient(types.Mailbox{Address: "bob@example.com"})
	require.NoError(t, err)
	require.Equal(t, bob.SerialNumber, recipient.Certificate.SerialNumber)
}

func TestFileBackendRecipientNotFound(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(FileConfig{Root: dir})

	_, err := backend.GetCMSRecipient(types.Mailbox{Address: "unknown@example.com"})
	require.Error(t, err)
}

func TestFileBackendImportIsIdempotentOnContents(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(FileConfig{Root: dir})

	bob := genCert(t, "Bob", "bob@example.com")
	require.NoError(t, backend.ImportCertificate(bob))
	require.NoError(t, backend.ImportCertificate(bob))

	anchors, err := backend.GetIntermediates()
	require.NoError(t, err)
	require.Len(t, anchors.All(), 1) // duplicate adds tolerated and leave one copy, spec §3 invariant
}

func TestFileBackendCRLPoolEmptyWithoutRevokedFile(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(FileConfig{Root: dir})

	pool, err := backend.GetCRLs()
	require.NoError(t, err)
	require.True(t, pool.Empty())
}

func TestFileBackendDefaultPathsUnderRoot(t *testing.T) {
	cfg := FileConfig{Root: "/tmp/example-root"}.resolve()
	require.Equal(t, filepath.Join("/tmp/example-root", "addressbook.crt"), cfg.AddressbookPath)
	require.Equal(t, filepath.Join("/tmp/example-root", "root.crt"), cfg.RootPath)
	require.Equal(t, filepath.Join("/tmp/example-root", "revoked.crl"), cfg.RevokedPath)
	require.Equal(t, filepath.Join("/tmp/example-root", "user.p12"), cfg.UserPath)
}

func TestFileBackendSignerLookupWithNoUserIdentityFails(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(FileConfig{Root: dir})

	_, err := backend.GetCMSSigner(types.Mailbox{Address: "alice@example.com"}, digest.SHA256)
	require.Error(t, err)
}
