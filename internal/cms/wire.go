package cms

import "encoding/asn1"

// wrapExplicit produces the DER bytes of inner wrapped in an
// EXPLICIT [0] context tag, as RFC 5652 requires for ContentInfo.content
// and EncapsulatedContentInfo.eContent.
func wrapExplicit(inner []byte) ([]byte, error) {
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      inner,
	})
}
