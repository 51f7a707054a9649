package cms

import (
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

// ErrUnsupported mirrors the teacher fork's protocol.ErrUnsupported: raised
// when a digest, compression or content-encryption algorithm is not one this
// package implements.
var ErrUnsupported = errors.New("cms: unsupported algorithm")

// ASN1Error mirrors the teacher fork's protocol.ASN1Error: a malformed or
// semantically invalid CMS structure.
type ASN1Error struct {
	Message string
}

func (e ASN1Error) Error() string { return "cms: " + e.Message }

func issuerAndSerialFor(cert *x509.Certificate) (asn1.RawValue, error) {
	ias := IssuerAndSerialNumber{
		Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
		SerialNumber: cert.SerialNumber,
	}
	der, err := asn1.Marshal(ias)
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("marshal IssuerAndSerialNumber: %w", err)
	}
	return asn1.RawValue{FullBytes: der}, nil
}

func subjectKeyIdentifierFor(cert *x509.Certificate) (asn1.RawValue, error) {
	ski := cert.SubjectKeyId
	if len(ski) == 0 {
		sum := sha1.Sum(cert.RawSubjectPublicKeyInfo)
		ski = sum[:]
	}
	der, err := asn1.MarshalWithParams(ski, "tag:0")
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("marshal SubjectKeyIdentifier: %w", err)
	}
	return asn1.RawValue{FullBytes: der}, nil
}

// matchesSID reports whether cert is identified by the SID CHOICE (either
// IssuerAndSerialNumber or the [0] SubjectKeyIdentifier form).
func matchesSID(sid asn1.RawValue, cert *x509.Certificate) bool {
	if sid.Class == asn1.ClassContextSpecific && sid.Tag == 0 {
		var ski []byte
		if _, err := asn1.UnmarshalWithParams(sid.FullBytes, &ski, "tag:0"); err != nil {
			return false
		}
		if len(cert.SubjectKeyId) > 0 {
			return bytesEqual(ski, cert.SubjectKeyId)
		}
		sum := sha1.Sum(cert.RawSubjectPublicKeyInfo)
		return bytesEqual(ski, sum[:])
	}

	var ias IssuerAndSerialNumber
	if _, err := asn1.Unmarshal(sid.FullBytes, &ias); err != nil {
		return false
	}
	if ias.SerialNumber == nil || ias.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		return false
	}
	return bytesEqual(ias.Issuer.FullBytes, cert.RawIssuer)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// findCertificateBySID locates, among certs, the one identified by sid.
func findCertificateBySID(sid asn1.RawValue, certs []*x509.Certificate) (*x509.Certificate, error) {
	for _, c := range certs {
		if matchesSID(sid, c) {
			return c, nil
		}
	}
	return nil, ASN1Error{Message: "no certificate matches SignerInfo identifier"}
}

// serialMatches reports whether serial equals cert's serial number.
func serialMatches(serial *big.Int, cert *x509.Certificate) bool {
	return serial != nil && cert.SerialNumber != nil && serial.Cmp(cert.SerialNumber) == 0
}

// DecodeSID splits a SignerIdentifier/RecipientIdentifier CHOICE into the
// fields a certstore.Selector needs, letting callers outside this package
// (the root façade's Decrypt) turn a RecipientInfo's RID into a store
// lookup without re-implementing the CHOICE handling matchesSID already
// does.
func DecodeSID(sid asn1.RawValue) (ski []byte, issuer pkix.Name, serial *big.Int, err error) {
	if sid.Class == asn1.ClassContextSpecific && sid.Tag == 0 {
		if _, err = asn1.UnmarshalWithParams(sid.FullBytes, &ski, "tag:0"); err != nil {
			return nil, pkix.Name{}, nil, fmt.Errorf("cms: decode SubjectKeyIdentifier: %w", err)
		}
		return ski, pkix.Name{}, nil, nil
	}

	var ias IssuerAndSerialNumber
	if _, err = asn1.Unmarshal(sid.FullBytes, &ias); err != nil {
		return nil, pkix.Name{}, nil, fmt.Errorf("cms: decode IssuerAndSerialNumber: %w", err)
	}
	var rdn pkix.RDNSequence
	if _, err = asn1.Unmarshal(ias.Issuer.FullBytes, &rdn); err != nil {
		return nil, pkix.Name{}, nil, fmt.Errorf("cms: decode issuer name: %w", err)
	}
	issuer.FillFromRDNSequence(&rdn)
	return nil, issuer, ias.SerialNumber, nil
}
