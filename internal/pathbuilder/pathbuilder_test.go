package pathbuilder

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-smime/smimecore/internal/certstore"
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
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer, &key.PublicKey, issuerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func TestBuildChainToTrustedAnchor(t *testing.T) {
	root, rootKey := selfSignedRoot(t, "Root CA")
	leaf, _ := leafSignedBy(t, "Alice", root, rootKey)

	chain, err := BuildChain(leaf, BuildOptions{
		Anchors: certstore.NewCertPool([]*x509.Certificate{root}),
		CRLs:    certstore.NewCRLPool(nil),
	})
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, leaf.SerialNumber, chain[0].SerialNumber)
}

func TestBuildChainFailsWithoutAnchor(t *testing.T) {
	root, rootKey := selfSignedRoot(t, "Root CA")
	leaf, _ := leafSignedBy(t, "Alice", root, rootKey)

	_, err := BuildChain(leaf, BuildOptions{
		Anchors: certstore.NewCertPool(nil),
		CRLs:    certstore.NewCRLPool(nil),
	})
	require.Error(t, err)
}

func TestBuildChainRevocationDisabledWhenCRLPoolEmpty(t *testing.T) {
	root, rootKey := selfSignedRoot(t, "Root CA")
	leaf, _ := leafSignedBy(t, "Alice", root, rootKey)

	// A CRL embedded in the blob alone must not switch revocation on
	// (spec §4.3 point 3): construct one listing leaf as revoked, but
	// leave the local CRL pool empty.
	crlTmpl := &x509.RevocationList{
		Number: big.NewInt(1),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: leaf.SerialNumber, RevocationTime: time.Now()},
		},
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, crlTmpl, root, rootKey)
	require.NoError(t, err)
	crl, err := x509.ParseRevocationList(crlDER)
	require.NoError(t, err)

	chain, err := BuildChain(leaf, BuildOptions{
		Anchors:      certstore.NewCertPool([]*x509.Certificate{root}),
		CRLs:         certstore.NewCRLPool(nil),
		EmbeddedCRLs: []*x509.RevocationList{crl},
	})
	require.NoError(t, err)
	require.Len(t, chain, 2)
}

func TestBuildChainRevokedWhenLocalCRLListsIt(t *testing.T) {
	root, rootKey := selfSignedRoot(t, "Root CA")
	leaf, _ := leafSignedBy(t, "Alice", root, rootKey)

	crlTmpl := &x509.RevocationList{
		Number: big.NewInt(1),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: leaf.SerialNumber, RevocationTime: time.Now()},
		},
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, crlTmpl, root, rootKey)
	require.NoError(t, err)
	crl, err := x509.ParseRevocationList(crlDER)
	require.NoError(t, err)

	_, err = BuildChain(leaf, BuildOptions{
		Anchors: certstore.NewCertPool([]*x509.Certificate{root}),
		CRLs:    certstore.NewCRLPool([]*x509.RevocationList{crl}),
	})
	require.Error(t, err)
}
