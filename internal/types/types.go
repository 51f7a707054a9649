// Package types holds the domain value types shared across the CMS
// pipeline, certificate store, path builder and verification orchestrator.
// They live here rather than in the root package so internal packages can
// depend on them without importing the façade; the root package re-exports
// them as aliases.
package types

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"strings"

	"github.com/go-smime/smimecore/internal/digest"
)

// Mailbox is a typed display-name/address-spec pair, matched to certificate
// SANs case-insensitively on the address-spec only (spec §3).
type Mailbox struct {
	Name    string
	Address string
}

// NormalizedAddress returns Address lower-cased and trimmed, the form used
// for all certificate-store comparisons.
func (m Mailbox) NormalizedAddress() string {
	return strings.ToLower(strings.TrimSpace(m.Address))
}

// SubjectIdentifierType selects which CMS RecipientIdentifier/SignerIdentifier
// CHOICE a signer or recipient should be addressed by.
type SubjectIdentifierType int

const (
	IssuerAndSerialNumber SubjectIdentifierType = iota
	SubjectKeyIdentifier
)

// CmsRecipient names one Encrypt target. IdentifierType defaults to
// IssuerAndSerialNumber (the zero value).
type CmsRecipient struct {
	Certificate    *x509.Certificate
	IdentifierType SubjectIdentifierType
}

// CmsSigner names one Sign participant, assembled from a mailbox and a
// preferred digest at Sign time (spec §3).
type CmsSigner struct {
	Certificate       *x509.Certificate
	PrivateKey        crypto.Signer
	DigestAlgorithm   digest.Algorithm
	SignedAttributes  []Attribute
	UnsignedAttributes []Attribute
}

// Attribute is a caller-supplied CMS attribute (OID + DER-encoded values),
// kept opaque here so this package need not depend on encoding/asn1's
// richer types; internal/cms re-marshals these into its own AttributeList.
type Attribute struct {
	OID    string
	Values [][]byte
}

// SecureMimeType tags the shape of an emitted CMS blob so the (external)
// MIME layer can set smime-type correctly.
type SecureMimeType int

const (
	SmimeTypeData SecureMimeType = iota
	SmimeTypeSignedData
	SmimeTypeEnvelopedData
	SmimeTypeCompressedData
	SmimeTypeCertsOnly
)

func (t SecureMimeType) String() string {
	switch t {
	case SmimeTypeData:
		return "data"
	case SmimeTypeSignedData:
		return "signed-data"
	case SmimeTypeEnvelopedData:
		return "enveloped-data"
	case SmimeTypeCompressedData:
		return "compressed-data"
	case SmimeTypeCertsOnly:
		return "certs-only"
	default:
		return "unknown"
	}
}

// HasKeyEncipherment reports whether cert's public key can be used as an
// Encrypt recipient (spec §3 invariant: "Certificates passed to Encrypt
// must have a key-encipherment-capable public key").
func HasKeyEncipherment(cert *x509.Certificate) bool {
	if _, ok := cert.PublicKey.(*rsa.PublicKey); !ok {
		return false
	}
	if cert.KeyUsage == 0 {
		return true // no KeyUsage extension present: unrestricted
	}
	return cert.KeyUsage&x509.KeyUsageKeyEncipherment != 0
}
