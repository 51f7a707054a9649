package cms

import (
	"crypto/cipher"
	"crypto/des" //nolint:staticcheck // DES-EDE3-CBC is what spec §4.4/§6 mandates
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
)

// EnvelopedDataMessage is a CMS EnvelopedData message under construction or
// parsed from the wire. Content is always encrypted with DES-EDE3-CBC and
// recipients are always KeyTransRecipientInfo (RSA key transport), per
// spec §4.4's hard-wired algorithm choice (a known, intentionally preserved
// limitation — see spec §9 open issue 2).
type EnvelopedDataMessage struct {
	inner EnvelopedData
}

// EncryptRecipient names one KeyTrans recipient for NewEnvelopedData.
type EncryptRecipient struct {
	Certificate    *x509.Certificate
	UseSKI         bool
}

// NewEnvelopedData encrypts content for recipients. len(recipients) == 0 is
// a caller error (spec §4.4 "Zero recipients ⇒ ArgumentError before any
// emission"); this function assumes the caller has already checked that.
func NewEnvelopedData(content []byte, recipients []EncryptRecipient) (*EnvelopedDataMessage, error) {
	key := make([]byte, 24) // 3DES-EDE3 key
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cms: generate content-encryption key: %w", err)
	}
	iv := make([]byte, des.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("cms: generate IV: %w", err)
	}

	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cms: init 3DES: %w", err)
	}
	padded := pkcs7Pad(content, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	params, err := asn1.Marshal(iv)
	if err != nil {
		return nil, fmt.Errorf("cms: marshal IV: %w", err)
	}

	wrappedContent, err := asn1.MarshalWithParams(ciphertext, "tag:0")
	if err != nil {
		return nil, fmt.Errorf("cms: marshal encryptedContent: %w", err)
	}

	ed := EnvelopedData{
		Version: 0,
		EncryptedContentInfo: EncryptedContentInfo{
			ContentType:                oidData,
			ContentEncryptionAlgorithm: AlgorithmIdentifier{Algorithm: oidDESEDE3CBC, Parameters: asn1.RawValue{FullBytes: params}},
			EncryptedContent:           asn1.RawValue{FullBytes: wrappedContent},
		},
	}

	for _, r := range recipients {
		pub, ok := r.Certificate.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("cms: recipient %s has no RSA public key", r.Certificate.Subject)
		}
		encryptedKey, err := rsa.EncryptPKCS1v15(rand.Reader, pub, key)
		if err != nil {
			return nil, fmt.Errorf("cms: wrap content-encryption key: %w", err)
		}

		var rid asn1.RawValue
		if r.UseSKI {
			rid, err = subjectKeyIdentifierFor(r.Certificate)
		} else {
			rid, err = issuerAndSerialFor(r.Certificate)
		}
		if err != nil {
			return nil, err
		}

		ktri := KeyTransRecipientInfo{
			Version:           0,
			RID:               rid,
			KeyEncryptionAlgo: AlgorithmIdentifier{Algorithm: oidRSAEncryption},
			EncryptedKey:      encryptedKey,
		}
		der, err := asn1.Marshal(ktri)
		if err != nil {
			return nil, fmt.Errorf("cms: marshal RecipientInfo: %w", err)
		}
		ed.RecipientInfos = append(ed.RecipientInfos, asn1.RawValue{FullBytes: der})
	}

	return &EnvelopedDataMessage{inner: ed}, nil
}

// ParseEnvelopedData parses a BER/DER encoded EnvelopedData ContentInfo.
func ParseEnvelopedData(ber []byte) (*EnvelopedDataMessage, error) {
	var ci ContentInfo
	if _, err := asn1.Unmarshal(ber, &ci); err != nil {
		return nil, fmt.Errorf("cms: parse ContentInfo: %w", err)
	}
	if !ci.ContentType.Equal(oidEnvelopedData) {
		return nil, ASN1Error{Message: "ContentInfo is not EnvelopedData"}
	}
	var ed EnvelopedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &ed); err != nil {
		return nil, fmt.Errorf("cms: parse EnvelopedData: %w", err)
	}
	return &EnvelopedDataMessage{inner: ed}, nil
}

// ToDER encodes the EnvelopedData as a DER ContentInfo.
func (ed *EnvelopedDataMessage) ToDER() ([]byte, error) {
	inner, err := asn1.Marshal(ed.inner)
	if err != nil {
		return nil, fmt.Errorf("cms: marshal EnvelopedData: %w", err)
	}
	return marshalContentInfo(oidEnvelopedData, inner)
}

// RecipientCount reports how many RecipientInfos are present.
func (ed *EnvelopedDataMessage) RecipientCount() int { return len(ed.inner.RecipientInfos) }

// Decrypt tries each RecipientInfo's RID against keyFor; the first
// RecipientInfo for which keyFor returns a non-nil key is used to unwrap
// the content-encryption key and decrypt. Per spec §4.4, if no
// RecipientInfo yields a key, decryption fails.
func (ed *EnvelopedDataMessage) Decrypt(keyFor func(rid asn1.RawValue) *rsa.PrivateKey) ([]byte, error) {
	var key []byte
	for _, raw := range ed.inner.RecipientInfos {
		var ktri KeyTransRecipientInfo
		if _, err := asn1.Unmarshal(raw.FullBytes, &ktri); err != nil {
			continue
		}
		priv := keyFor(ktri.RID)
		if priv == nil {
			continue
		}
		k, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ktri.EncryptedKey)
		if err != nil {
			continue
		}
		key = k
		break
	}
	if key == nil {
		return nil, errors.New("cms: suitable private key not found")
	}

	eci := ed.inner.EncryptedContentInfo
	if !eci.ContentEncryptionAlgorithm.Algorithm.Equal(oidDESEDE3CBC) {
		return nil, ErrUnsupported
	}
	var iv []byte
	if _, err := asn1.Unmarshal(eci.ContentEncryptionAlgorithm.Parameters.FullBytes, &iv); err != nil {
		return nil, fmt.Errorf("cms: parse IV: %w", err)
	}
	var ciphertext []byte
	if _, err := asn1.UnmarshalWithParams(eci.EncryptedContent.FullBytes, &ciphertext, "tag:0"); err != nil {
		return nil, fmt.Errorf("cms: parse encryptedContent: %w", err)
	}

	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cms: init 3DES: %w", err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("cms: encryptedContent is not block-aligned")
	}
	plaintextPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintextPadded, ciphertext)
	return pkcs7Unpad(plaintextPadded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("cms: empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("cms: invalid PKCS#7 padding")
	}
	return data[:len(data)-padLen], nil
}
