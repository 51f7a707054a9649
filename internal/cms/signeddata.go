package cms

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"github.com/go-smime/smimecore/internal/digest"
)

// SignedDataMessage is a CMS SignedData message under construction or parsed
// from the wire, mirroring the shape of the teacher fork's SignedData type
// (internal/fork/ietf-cms/signed_data.go) but generalized to multiple
// signers, signing-time attributes and CRL carriage.
type SignedDataMessage struct {
	inner SignedData
}

// NewSignedData starts a SignedData over content. If encapsulate is true,
// content is embedded as eContent (id-data); otherwise the message is
// detached and eContent is left absent.
func NewSignedData(content []byte, encapsulate bool) (*SignedDataMessage, error) {
	eci := EncapsulatedContentInfo{EContentType: oidData}
	if encapsulate {
		octets, err := asn1.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("cms: marshal eContent: %w", err)
		}
		wrapped, err := wrapExplicit(octets)
		if err != nil {
			return nil, fmt.Errorf("cms: wrap eContent: %w", err)
		}
		eci.EContent = asn1.RawValue{FullBytes: wrapped}
	}
	return &SignedDataMessage{inner: SignedData{
		Version:          1,
		EncapContentInfo: eci,
	}}, nil
}

// ParseSignedData parses a BER/DER encoded SignedData ContentInfo.
func ParseSignedData(ber []byte) (*SignedDataMessage, error) {
	var ci ContentInfo
	if _, err := asn1.Unmarshal(ber, &ci); err != nil {
		return nil, fmt.Errorf("cms: parse ContentInfo: %w", err)
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return nil, ASN1Error{Message: "ContentInfo is not SignedData"}
	}
	var sd SignedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("cms: parse SignedData: %w", err)
	}
	return &SignedDataMessage{inner: sd}, nil
}

// IsDetached reports whether this message carries no eContent.
func (sd *SignedDataMessage) IsDetached() bool {
	return len(sd.inner.EncapContentInfo.EContent.FullBytes) == 0
}

// Detach strips any eContent, turning an encapsulated message into a
// detached one. No more signers should be added afterwards.
func (sd *SignedDataMessage) Detach() {
	sd.inner.EncapContentInfo.EContent = asn1.RawValue{}
}

// GetData returns the encapsulated content, or nil if this is detached.
func (sd *SignedDataMessage) GetData() ([]byte, error) {
	if sd.IsDetached() {
		return nil, nil
	}
	var out []byte
	if _, err := asn1.Unmarshal(sd.inner.EncapContentInfo.EContent.Bytes, &out); err != nil {
		return nil, fmt.Errorf("cms: parse eContent: %w", err)
	}
	return out, nil
}

// Certificates returns the X.509 certificates carried in the SignedData.
func (sd *SignedDataMessage) Certificates() ([]*x509.Certificate, error) {
	if len(sd.inner.Certificates.Bytes) == 0 {
		return nil, nil
	}
	return parseCertificateSet(sd.inner.Certificates.Bytes)
}

// AddCertificate appends cert to the SignedData's certificate set.
func (sd *SignedDataMessage) AddCertificate(cert *x509.Certificate) error {
	existing, err := sd.Certificates()
	if err != nil {
		return err
	}
	existing = append(existing, cert)
	return sd.setCertificates(existing)
}

func (sd *SignedDataMessage) setCertificates(certs []*x509.Certificate) error {
	raws := make([]asn1.RawValue, 0, len(certs))
	for _, c := range certs {
		raws = append(raws, asn1.RawValue{FullBytes: c.Raw})
	}
	der, err := asn1.MarshalWithParams(raws, "set")
	if err != nil {
		return fmt.Errorf("cms: marshal certificates: %w", err)
	}
	der[0] = 0xA0 // implicit [0], constructed
	sd.inner.Certificates = asn1.RawValue{FullBytes: der}
	return nil
}

func parseCertificateSet(der []byte) ([]*x509.Certificate, error) {
	reTagged := make([]byte, len(der))
	copy(reTagged, der)
	reTagged[0] = 0x31 // back to UNIVERSAL SET for generic unmarshal
	var raws []asn1.RawValue
	if _, err := asn1.Unmarshal(reTagged, &raws); err != nil {
		return nil, fmt.Errorf("cms: parse certificate set: %w", err)
	}
	certs := make([]*x509.Certificate, 0, len(raws))
	for _, r := range raws {
		c, err := x509.ParseCertificate(r.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("cms: parse certificate: %w", err)
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// CRLs returns the revocation lists carried in the SignedData.
func (sd *SignedDataMessage) CRLs() ([]*x509.RevocationList, error) {
	if len(sd.inner.CRLs.Bytes) == 0 {
		return nil, nil
	}
	reTagged := make([]byte, len(sd.inner.CRLs.FullBytes))
	copy(reTagged, sd.inner.CRLs.FullBytes)
	reTagged[0] = 0x31
	var raws []asn1.RawValue
	if _, err := asn1.Unmarshal(reTagged, &raws); err != nil {
		return nil, fmt.Errorf("cms: parse CRL set: %w", err)
	}
	out := make([]*x509.RevocationList, 0, len(raws))
	for _, r := range raws {
		crl, err := x509.ParseRevocationList(r.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("cms: parse CRL: %w", err)
		}
		out = append(out, crl)
	}
	return out, nil
}

// SetCRLs replaces the CRLs carried in the SignedData.
func (sd *SignedDataMessage) SetCRLs(crls []*x509.RevocationList) error {
	raws := make([]asn1.RawValue, 0, len(crls))
	for _, c := range crls {
		raws = append(raws, asn1.RawValue{FullBytes: c.Raw})
	}
	der, err := asn1.MarshalWithParams(raws, "set")
	if err != nil {
		return fmt.Errorf("cms: marshal CRLs: %w", err)
	}
	der[0] = 0xA1 // implicit [1], constructed
	sd.inner.CRLs = asn1.RawValue{FullBytes: der}
	return nil
}

// ToDER encodes the SignedData as a DER ContentInfo.
func (sd *SignedDataMessage) ToDER() ([]byte, error) {
	inner, err := asn1.Marshal(sd.inner)
	if err != nil {
		return nil, fmt.Errorf("cms: marshal SignedData: %w", err)
	}
	return marshalContentInfo(oidSignedData, inner)
}

func marshalContentInfo(contentType asn1.ObjectIdentifier, inner []byte) ([]byte, error) {
	wrappedContent, err := wrapExplicit(inner)
	if err != nil {
		return nil, fmt.Errorf("cms: wrap content: %w", err)
	}
	out, err := asn1.Marshal(ContentInfo{
		ContentType: contentType,
		Content:     asn1.RawValue{FullBytes: wrappedContent},
	})
	if err != nil {
		return nil, fmt.Errorf("cms: marshal ContentInfo: %w", err)
	}
	return out, nil
}

// SignerCount returns the number of signer infos present.
func (sd *SignedDataMessage) SignerCount() int { return len(sd.inner.SignerInfos) }

// SignerInfoAt returns a copy of the signer info at index i.
func (sd *SignedDataMessage) SignerInfoAt(i int) SignerInfo { return sd.inner.SignerInfos[i] }

// AddSignerInfo signs the content with key (associated with cert; useSKI
// selects the SubjectKeyIdentifier SID form instead of
// IssuerAndSerialNumber) and appends a SignerInfo.
// signedAttrs/unsignedAttrs are caller-supplied extra attributes; this
// method always adds contentType, messageDigest and (if signingTime is
// non-nil) signingTime, per spec §3's invariant that signing-time presence
// is consistent across the whole document.
func (sd *SignedDataMessage) AddSignerInfo(cert *x509.Certificate, key crypto.Signer, digestAlg digest.Algorithm, extraSigned, unsigned AttributeList, signingTime *time.Time, useSKI bool) error {
	digestOID, err := digest.OID(digestAlg)
	if err != nil {
		return err
	}
	hash, ok := hashFor(digestOID)
	if !ok {
		return ErrUnsupported
	}

	econtent, err := sd.GetData()
	if err != nil {
		return err
	}
	if econtent == nil {
		return errors.New("cms: AddSignerInfo requires encapsulated content (call before Detach)")
	}

	h := hash.New()
	h.Write(econtent)
	contentDigest := h.Sum(nil)

	attrs := AttributeList{}
	ctAttr, err := contentTypeAttribute(sd.inner.EncapContentInfo.EContentType)
	if err != nil {
		return err
	}
	attrs = append(attrs, ctAttr)
	mdAttr, err := messageDigestAttribute(contentDigest)
	if err != nil {
		return err
	}
	attrs = append(attrs, mdAttr)
	if signingTime != nil {
		stAttr, err := signingTimeAttribute(*signingTime)
		if err != nil {
			return err
		}
		attrs = append(attrs, stAttr)
	}
	attrs = append(attrs, extraSigned...)

	signedAttrsDER, err := signedAttributesDER(attrs)
	if err != nil {
		return err
	}

	// The signature covers the DER SET OF encoding (UNIVERSAL tag), not the
	// [0] IMPLICIT wrapper used on the wire (RFC 5652 §5.4).
	toSign := attributesForVerification(asn1.RawValue{FullBytes: signedAttrsDER})
	sigHash := hash.New()
	sigHash.Write(toSign)
	signature, err := key.Sign(rand.Reader, sigHash.Sum(nil), hash)
	if err != nil {
		return fmt.Errorf("cms: sign: %w", err)
	}

	var sid asn1.RawValue
	if useSKI {
		sid, err = subjectKeyIdentifierFor(cert)
	} else {
		sid, err = issuerAndSerialFor(cert)
	}
	if err != nil {
		return err
	}

	var unsignedDER asn1.RawValue
	if len(unsigned) > 0 {
		der, err := asn1.MarshalWithParams([]Attribute(unsigned), "set")
		if err != nil {
			return err
		}
		der[0] = 0xA1
		unsignedDER = asn1.RawValue{FullBytes: der}
	}

	si := SignerInfo{
		Version:            1,
		SID:                sid,
		DigestAlgorithm:    AlgorithmIdentifier{Algorithm: digestOID},
		SignedAttrs:        asn1.RawValue{FullBytes: signedAttrsDER},
		SignatureAlgorithm: AlgorithmIdentifier{Algorithm: oidRSAEncryption},
		Signature:          signature,
		UnsignedAttrs:      unsignedDER,
	}
	sd.inner.SignerInfos = append(sd.inner.SignerInfos, si)
	sd.inner.DigestAlgorithms = append(sd.inner.DigestAlgorithms, AlgorithmIdentifier{Algorithm: digestOID})
	if err := sd.AddCertificate(cert); err != nil {
		return err
	}
	return nil
}

// VerifiedSignature is the result of checking one SignerInfo's signature.
type VerifiedSignature struct {
	SignerInfo  SignerInfo
	Certificate *x509.Certificate // nil if not found among the supplied certs
	SigningTime *time.Time
	LookupErr   error // non-nil iff Certificate is nil
	VerifyErr   error // signature-check failure, independent of chain building
}

// VerifySignatures checks each SignerInfo's signature against the supplied
// candidate certificates (normally the certs embedded in the message, plus
// any the caller wants to also try). It never returns an error for a single
// bad signer; per spec §4.4/§4.5 each signer's outcome is reported
// independently so the caller can still inspect the others.
func (sd *SignedDataMessage) VerifySignatures(candidates []*x509.Certificate) ([]VerifiedSignature, error) {
	econtent, err := sd.GetData()
	if err != nil {
		return nil, err
	}
	if econtent == nil {
		return nil, errors.New("cms: VerifySignatures requires encapsulated content; use VerifyDetached")
	}
	return sd.verify(econtent, candidates), nil
}

// VerifyDetached checks each SignerInfo's signature over message, an
// externally supplied copy of the original content.
func (sd *SignedDataMessage) VerifyDetached(message []byte, candidates []*x509.Certificate) ([]VerifiedSignature, error) {
	if !sd.IsDetached() {
		return nil, errors.New("cms: message is not detached")
	}
	return sd.verify(message, candidates), nil
}

func (sd *SignedDataMessage) verify(content []byte, candidates []*x509.Certificate) []VerifiedSignature {
	out := make([]VerifiedSignature, 0, len(sd.inner.SignerInfos))
	for _, si := range sd.inner.SignerInfos {
		vs := VerifiedSignature{SignerInfo: si}

		cert, err := findCertificateBySID(si.SID, candidates)
		if err != nil {
			vs.LookupErr = err
			out = append(out, vs)
			continue
		}
		vs.Certificate = cert

		digestOID := si.DigestAlgorithm.Algorithm
		hash, ok := hashFor(digestOID)
		if !ok {
			vs.VerifyErr = ErrUnsupported
			out = append(out, vs)
			continue
		}

		var signedMessage []byte
		if len(si.SignedAttrs.FullBytes) == 0 {
			signedMessage = content
		} else {
			attrs, err := parseSignedAttributes(si.SignedAttrs)
			if err != nil {
				vs.VerifyErr = err
				out = append(out, vs)
				continue
			}

			if ctAttr, ok := findAttribute(attrs, oidAttrContentType); ok {
				var ct asn1.ObjectIdentifier
				if err := attributeValue(ctAttr, &ct); err != nil || !ct.Equal(sd.inner.EncapContentInfo.EContentType) {
					vs.VerifyErr = ASN1Error{Message: "invalid SignerInfo ContentType attribute"}
					out = append(out, vs)
					continue
				}
			}

			h := hash.New()
			h.Write(content)
			actual := h.Sum(nil)

			mdAttr, ok := findAttribute(attrs, oidAttrMessageDigest)
			if !ok {
				vs.VerifyErr = ASN1Error{Message: "missing messageDigest attribute"}
				out = append(out, vs)
				continue
			}
			var want []byte
			if err := attributeValue(mdAttr, &want); err != nil || !bytes.Equal(want, actual) {
				vs.VerifyErr = errors.New("cms: message digest mismatch")
				out = append(out, vs)
				continue
			}

			if stAttr, ok := findAttribute(attrs, oidAttrSigningTime); ok {
				var t time.Time
				if err := attributeValue(stAttr, &t); err == nil {
					vs.SigningTime = &t
				}
			}

			signedMessage = attributesForVerification(si.SignedAttrs)
		}

		sigHash := hash.New()
		sigHash.Write(signedMessage)
		if err := rsaVerify(cert, hash, sigHash.Sum(nil), si.Signature); err != nil {
			vs.VerifyErr = err
		}
		out = append(out, vs)
	}
	return out
}
