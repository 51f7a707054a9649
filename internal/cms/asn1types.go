// Package cms implements the streaming CMS (RFC 5652) pipeline: SignedData,
// EnvelopedData and CompressedData generation/parsing. It plays the role the
// teacher project's internal/fork/ietf-cms package plays for Git object
// signing, generalized to also emit/parse EnvelopedData and CompressedData,
// which the upstream github.com/github/smimesign fork does not expose.
package cms

import (
	"encoding/asn1"
	"math/big"
)

// ContentInfo is the RFC 5652 outer envelope common to every CMS object.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// AlgorithmIdentifier names an algorithm and its optional parameters.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// EncapsulatedContentInfo carries the eContentType and optional eContent.
// eContent is absent for detached signatures.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// IssuerAndSerialNumber identifies a certificate by its issuer DN and
// serial number.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute is a single CMS attribute: an OID plus a SET of values.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue `asn1:"set"`
}

// AttributeList is a SET OF Attribute, as used for SignerInfo's
// signed/unsigned attributes.
type AttributeList []Attribute

// SignerInfo is one signature within a SignedData.
type SignerInfo struct {
	Version                   int
	SID                       asn1.RawValue // CHOICE: IssuerAndSerialNumber or [0] SubjectKeyIdentifier
	DigestAlgorithm           AlgorithmIdentifier
	SignedAttrs               asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm        AlgorithmIdentifier
	Signature                 []byte
	UnsignedAttrs             asn1.RawValue `asn1:"optional,tag:1"`
}

// SignedData is the RFC 5652 SignedData content type.
type SignedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []SignerInfo  `asn1:"set"`
}

// KeyTransRecipientInfo is the only RecipientInfo variant this pipeline
// emits (RSA key transport, as required by spec's C4 Encrypt).
type KeyTransRecipientInfo struct {
	Version              int
	RID                  asn1.RawValue // CHOICE: IssuerAndSerialNumber or [0] SubjectKeyIdentifier
	KeyEncryptionAlgo    AlgorithmIdentifier
	EncryptedKey         []byte
}

// EncryptedContentInfo carries the (optionally absent) encrypted payload.
type EncryptedContentInfo struct {
	ContentType                asn1.ObjectIdentifier
	ContentEncryptionAlgorithm AlgorithmIdentifier
	EncryptedContent           asn1.RawValue `asn1:"optional,tag:0"`
}

// EnvelopedData is the RFC 5652 EnvelopedData content type, restricted to
// KeyTransRecipientInfo recipients.
type EnvelopedData struct {
	Version              int
	RecipientInfos       []asn1.RawValue `asn1:"set"`
	EncryptedContentInfo EncryptedContentInfo
}

// CompressedData is the RFC 3274 CompressedData content type used by S/MIME
// compression.
type CompressedData struct {
	Version              int
	CompressionAlgorithm AlgorithmIdentifier
	EncapContentInfo     EncapsulatedContentInfo
}
