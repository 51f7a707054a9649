package smimecore

import (
	"github.com/go-smime/smimecore/internal/digest"
	"github.com/go-smime/smimecore/internal/types"
)

// Mailbox, SubjectIdentifierType, CmsRecipient, CmsSigner, Attribute and
// SecureMimeType are the spec §3 data model, implemented in
// internal/types so certstore/cms/verify can share them without importing
// this façade package; aliased here so callers only ever see one set of
// names.
type (
	Mailbox               = types.Mailbox
	SubjectIdentifierType = types.SubjectIdentifierType
	CmsRecipient          = types.CmsRecipient
	CmsSigner             = types.CmsSigner
	Attribute             = types.Attribute
	SecureMimeType        = types.SecureMimeType
)

const (
	IssuerAndSerialNumber = types.IssuerAndSerialNumber
	SubjectKeyIdentifier  = types.SubjectKeyIdentifier
)

const (
	SmimeTypeData           = types.SmimeTypeData
	SmimeTypeSignedData     = types.SmimeTypeSignedData
	SmimeTypeEnvelopedData  = types.SmimeTypeEnvelopedData
	SmimeTypeCompressedData = types.SmimeTypeCompressedData
	SmimeTypeCertsOnly      = types.SmimeTypeCertsOnly
)

// DigestAlgorithm is the C1 registry's enumeration (spec §3, §4.1).
type DigestAlgorithm = digest.Algorithm

const (
	DigestMD5       = digest.MD5
	DigestMD2       = digest.MD2
	DigestMD4       = digest.MD4
	DigestSHA1      = digest.SHA1
	DigestSHA224    = digest.SHA224
	DigestSHA256    = digest.SHA256
	DigestSHA384    = digest.SHA384
	DigestSHA512    = digest.SHA512
	DigestRipeMD160 = digest.RipeMD160
	DigestTiger192  = digest.Tiger192
	DigestHaval5160 = digest.Haval5160
	DigestDoubleSha = digest.DoubleSha
	DigestNone      = digest.None
)

// MicalgName and DigestFromMicalg re-export the C1 registry's pure
// functions (spec §4.1).
func MicalgName(a DigestAlgorithm) (string, error) { return digest.MicalgName(a) }
func DigestFromMicalg(token string) DigestAlgorithm { return digest.DigestFromMicalg(token) }
