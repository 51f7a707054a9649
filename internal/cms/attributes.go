package cms

import (
	"crypto"
	"encoding/asn1"
	"time"
)

// buildAttribute wraps oid/value into a CMS Attribute (a SET OF AttributeValue
// containing exactly one value, which is all this pipeline ever emits).
func buildAttribute(oid asn1.ObjectIdentifier, value interface{}) (Attribute, error) {
	valueDER, err := asn1.Marshal(value)
	if err != nil {
		return Attribute{}, err
	}
	setDER, err := asn1.MarshalWithParams([]asn1.RawValue{{FullBytes: valueDER}}, "set")
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{Type: oid, Values: asn1.RawValue{FullBytes: setDER}}, nil
}

func attributeValue(a Attribute, out interface{}) error {
	var raws []asn1.RawValue
	if _, err := asn1.Unmarshal(a.Values.FullBytes, &raws); err != nil {
		return err
	}
	if len(raws) == 0 {
		return ASN1Error{Message: "attribute has no values"}
	}
	_, err := asn1.Unmarshal(raws[0].FullBytes, out)
	return err
}

func findAttribute(attrs AttributeList, oid asn1.ObjectIdentifier) (Attribute, bool) {
	for _, a := range attrs {
		if a.Type.Equal(oid) {
			return a, true
		}
	}
	return Attribute{}, false
}

// signedAttributesDER marshals attrs sorted by DER encoding (RFC 5652 §5.4
// requires signed attributes to be a DER SET OF, which sorts by encoding),
// suitable for embedding as SignerInfo.SignedAttrs ([0] IMPLICIT).
func signedAttributesDER(attrs AttributeList) ([]byte, error) {
	setDER, err := asn1.MarshalWithParams([]Attribute(attrs), "set")
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(setDER))
	copy(out, setDER)
	out[0] = 0xA0 // re-tag UNIVERSAL SET -> [0] IMPLICIT, contents untouched
	return out, nil
}

// attributesForVerification reverses the [0] IMPLICIT re-tagging so the
// bytes can be hashed/verified as the DER SET OF that was actually signed.
func attributesForVerification(raw asn1.RawValue) []byte {
	out := make([]byte, len(raw.FullBytes))
	copy(out, raw.FullBytes)
	if len(out) > 0 {
		out[0] = 0x31 // [0] IMPLICIT -> UNIVERSAL SET
	}
	return out
}

func parseSignedAttributes(raw asn1.RawValue) (AttributeList, error) {
	der := attributesForVerification(raw)
	var attrs AttributeList
	if _, err := asn1.Unmarshal(der, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func contentTypeAttribute(oid asn1.ObjectIdentifier) (Attribute, error) {
	return buildAttribute(oidAttrContentType, oid)
}

func messageDigestAttribute(digest []byte) (Attribute, error) {
	return buildAttribute(oidAttrMessageDigest, digest)
}

func signingTimeAttribute(t time.Time) (Attribute, error) {
	return buildAttribute(oidAttrSigningTime, t.UTC())
}

// hashFor maps a CMS digestAlgorithm OID to a crypto.Hash. Two OID styles
// are accepted: the plain digest OIDs (id-sha256, ...), and the PKCS #1
// digest-with-RSA OIDs that this pipeline's signer registry (see
// internal/digest.OID) emits into SignerInfo.DigestAlgorithm for spec
// compatibility with the source implementation's GetDigestOid behavior.
func hashFor(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	switch {
	case oid.Equal(oidSHA1), oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}):
		return crypto.SHA1, true
	case oid.Equal(oidSHA224), oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 14}):
		return crypto.SHA224, true
	case oid.Equal(oidSHA256), oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}):
		return crypto.SHA256, true
	case oid.Equal(oidSHA384), oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}):
		return crypto.SHA384, true
	case oid.Equal(oidSHA512), oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}):
		return crypto.SHA512, true
	case oid.Equal(oidMD5), oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 4}):
		return crypto.MD5, true
	case oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 2}):
		// crypto.Hash has no MD2 value, so md2WithRSAEncryption is not usable.
		return 0, false
	case oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 3}):
		return crypto.MD4, true
	default:
		return 0, false
	}
}
