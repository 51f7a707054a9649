package cms

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cert, key := generateTestCert(t, "Bob")
	plaintext := []byte("secret")

	ed, err := NewEnvelopedData(plaintext, []EncryptRecipient{{Certificate: cert}})
	require.NoError(t, err)

	der, err := ed.ToDER()
	require.NoError(t, err)

	parsed, err := ParseEnvelopedData(der)
	require.NoError(t, err)
	require.Equal(t, 1, parsed.RecipientCount())

	out, err := parsed.Decrypt(func(rid asn1.RawValue) *rsa.PrivateKey {
		if matchesSID(rid, cert) {
			return key
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestDecryptNoMatchingRecipientFails(t *testing.T) {
	cert, _ := generateTestCert(t, "Bob")
	ed, err := NewEnvelopedData([]byte("secret"), []EncryptRecipient{{Certificate: cert}})
	require.NoError(t, err)

	_, err = ed.Decrypt(func(asn1.RawValue) *rsa.PrivateKey { return nil })
	require.Error(t, err)
}

func TestEncryptRejectsNonRSARecipient(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Carol"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	_, err = NewEnvelopedData([]byte("secret"), []EncryptRecipient{{Certificate: cert}})
	require.Error(t, err)
}
