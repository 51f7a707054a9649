package smimecore

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/go-smime/smimecore/internal/certstore"
)

func genCertWithKey(t *testing.T, cn, email string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:   big.NewInt(time.Now().UnixNano()),
		Subject:        pkix.Name{CommonName: cn},
		NotBefore:      time.Now().Add(-time.Hour),
		NotAfter:       time.Now().Add(24 * time.Hour),
		EmailAddresses: []string{email},
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

// S1/S2: Sign/EncapsulatedSign then Verify.
func TestScenarioSignAndVerify(t *testing.T) {
	alice, key := genCertWithKey(t, "Alice", "alice@example.com")
	content := []byte("Hello\r\n")

	ctx := NewContext(certstore.NewFileBackend(certstore.FileConfig{Root: t.TempDir()}))
	require.NoError(t, ctx.ImportCertificate(alice))

	signer := CmsSigner{Certificate: alice, PrivateKey: key, DigestAlgorithm: DigestSHA256}
	der, tag, err := ctx.Sign(signer, content)
	require.NoError(t, err)
	require.Equal(t, SmimeTypeSignedData, tag)

	collection, err := ctx.Verify(content, der)
	require.NoError(t, err)
	require.Len(t, collection, 1)
	require.NoError(t, collection[0].VerifyErr)
	require.Equal(t, "Alice", collection[0].Certificate.Subject.CommonName)
	require.NotNil(t, collection[0].SigningTime)
	require.WithinDuration(t, time.Now(), *collection[0].SigningTime, 5*time.Second)
}

func TestScenarioEncapsulatedSignAndVerify(t *testing.T) {
	alice, key := genCertWithKey(t, "Alice", "alice@example.com")
	content := []byte("Hello\r\n")

	ctx := NewContext(certstore.NewFileBackend(certstore.FileConfig{Root: t.TempDir()}))
	signer := CmsSigner{Certificate: alice, PrivateKey: key, DigestAlgorithm: DigestSHA256}

	der, tag, err := ctx.EncapsulatedSign(signer, content)
	require.NoError(t, err)
	require.Equal(t, SmimeTypeSignedData, tag)

	extracted, collection, err := ctx.VerifyEncapsulated(der)
	require.NoError(t, err)
	require.Equal(t, content, extracted)
	require.Len(t, collection, 1)
	require.NoError(t, collection[0].VerifyErr)
}

// S3: Encrypt to bob, decrypt on bob's context.
func TestScenarioEncryptDecrypt(t *testing.T) {
	bob, bobKey := genCertWithKey(t, "Bob", "bob@example.com")

	p12, err := pkcs12.Encode(rand.Reader, bobKey, bob, nil, "hunter2")
	require.NoError(t, err)

	bobStore := certstore.NewFileBackend(certstore.FileConfig{Root: t.TempDir(), Password: "hunter2"})
	require.NoError(t, bobStore.ImportPKCS12(bytes.NewReader(p12), "hunter2"))
	bobCtx := NewContext(bobStore)

	aliceCtx := NewContext(certstore.NewFileBackend(certstore.FileConfig{Root: t.TempDir()}))
	der, tag, err := aliceCtx.Encrypt([]CmsRecipient{{Certificate: bob}}, []byte("secret"))
	require.NoError(t, err)
	require.Equal(t, SmimeTypeEnvelopedData, tag)

	plaintext, err := bobCtx.Decrypt(der)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), plaintext)
}

// Encrypt with zero recipients fails with ArgumentError before any output.
func TestScenarioEncryptZeroRecipientsArgumentError(t *testing.T) {
	ctx := NewContext(certstore.NewFileBackend(certstore.FileConfig{Root: t.TempDir()}))
	_, _, err := ctx.Encrypt(nil, []byte("secret"))
	require.Error(t, err)
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
}

// Encrypt rejects a recipient certificate that cannot do key encipherment
// (spec §3 invariant).
func TestScenarioEncryptRejectsNonKeyEnciphermentCert(t *testing.T) {
	signOnly, _ := genCertWithKey(t, "SignOnly", "signonly@example.com")
	signOnly.KeyUsage = x509.KeyUsageDigitalSignature

	ctx := NewContext(certstore.NewFileBackend(certstore.FileConfig{Root: t.TempDir()}))
	_, _, err := ctx.Encrypt([]CmsRecipient{{Certificate: signOnly}}, []byte("secret"))
	require.Error(t, err)
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
}

// S6: compressed round trip, see internal/cms/compresseddata_test.go for
// the 1 MiB round trip; this exercises the façade entry point.
func TestScenarioCompressDecompress(t *testing.T) {
	ctx := NewContext(certstore.NewFileBackend(certstore.FileConfig{Root: t.TempDir()}))
	data := []byte("the quick brown fox jumps over the lazy dog")

	der, tag, err := ctx.Compress(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, SmimeTypeCompressedData, tag)

	var out bytes.Buffer
	require.NoError(t, ctx.Decompress(der, &out))
	// Spec §8 property 3 wants byte-for-byte equality; cmp.Diff gives a
	// readable failure if a future change introduces even one differing
	// byte, where require.Equal would just dump two large byte slices.
	if diff := cmp.Diff(data, out.Bytes()); diff != "" {
		t.Fatalf("decompressed output mismatch (-want +got):\n%s", diff)
	}
}

// S5-adjacent: Export/Import idempotence (spec §8 invariant 5).
func TestExportImportIdempotent(t *testing.T) {
	alice, _ := genCertWithKey(t, "Alice", "alice@example.com")
	ctx := NewContext(certstore.NewFileBackend(certstore.FileConfig{Root: t.TempDir()}))
	require.NoError(t, ctx.ImportCertificate(alice))

	der, tag, err := ctx.Export([]Mailbox{{Address: "alice@example.com"}})
	require.NoError(t, err)
	require.Equal(t, SmimeTypeCertsOnly, tag)

	require.NoError(t, ctx.Import(bytes.NewReader(der)))
	require.NoError(t, ctx.Import(bytes.NewReader(der))) // idempotent re-import
}

func TestExportZeroMailboxesArgumentError(t *testing.T) {
	ctx := NewContext(certstore.NewFileBackend(certstore.FileConfig{Root: t.TempDir()}))
	_, _, err := ctx.Export(nil)
	require.Error(t, err)
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
}

func TestSupportsStripsVendorPrefix(t *testing.T) {
	require.True(t, Supports("application/x-pkcs7-signature"))
	require.True(t, Supports("APPLICATION/PKCS7-MIME"))
	require.True(t, Supports("application/pkcs7-keys"))
	require.False(t, Supports("application/octet-stream"))
}
