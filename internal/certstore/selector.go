// Package certstore implements the certificate store backends (spec
// component C2): resolving selectors and mailboxes to certificates and
// private keys, and importing new material. Two backends are provided,
// FileBackend and OsBackend, matching the spec's "polymorphic backends,
// one level of dispatch" design note (spec §9).
package certstore

import (
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
)

// SelectorKind tags which field of a Selector is meaningful, giving the
// sum-type dispatch the spec's design notes call for in place of a
// free-form predicate interface (spec §9 "Certificate selector").
type SelectorKind int

const (
	BySubject SelectorKind = iota
	ByIssuerSerial
	BySKI
	ByEmail
)

// Selector is an opaque predicate over X.509 certificates, expressed as a
// tagged variant rather than a closure so backends can index by kind.
type Selector struct {
	Kind SelectorKind

	Subject pkix.Name
	Issuer  pkix.Name
	Serial  *big.Int
	SKI     []byte
	Email   string
}

// SelectBySubject builds a Selector matching on subject distinguished name.
func SelectBySubject(dn pkix.Name) Selector {
	return Selector{Kind: BySubject, Subject: dn}
}

// SelectByIssuerSerial builds a Selector matching on issuer DN + serial.
func SelectByIssuerSerial(issuer pkix.Name, serial *big.Int) Selector {
	return Selector{Kind: ByIssuerSerial, Issuer: issuer, Serial: serial}
}

// SelectBySKI builds a Selector matching on subject key identifier.
func SelectBySKI(ski []byte) Selector {
	return Selector{Kind: BySKI, SKI: ski}
}

// SelectByEmail builds a Selector matching on an rfc822Name SAN or, failing
// that, the emailAddress subject attribute.
func SelectByEmail(addr string) Selector {
	return Selector{Kind: ByEmail, Email: strings.ToLower(strings.TrimSpace(addr))}
}

// Matches reports whether cert satisfies the selector.
func (s Selector) Matches(cert *x509.Certificate) bool {
	switch s.Kind {
	case BySubject:
		return cert.Subject.String() == s.Subject.String()
	case ByIssuerSerial:
		if s.Serial == nil || cert.SerialNumber == nil || s.Serial.Cmp(cert.SerialNumber) != 0 {
			return false
		}
		return cert.Issuer.String() == s.Issuer.String()
	case BySKI:
		if len(s.SKI) == 0 {
			return false
		}
		ski := cert.SubjectKeyId
		if len(ski) == 0 {
			sum := sha1.Sum(cert.RawSubjectPublicKeyInfo)
			ski = sum[:]
		}
		return bytesEqual(ski, s.SKI)
	case ByEmail:
		for _, addr := range cert.EmailAddresses {
			if strings.EqualFold(strings.TrimSpace(addr), s.Email) {
				return true
			}
		}
		for _, atv := range cert.Subject.Names {
			// 1.2.840.113549.1.9.1 is the PKCS #9 emailAddress attribute.
			if v, ok := atv.Value.(string); ok && atv.Type.String() == "1.2.840.113549.1.9.1" &&
				strings.EqualFold(strings.TrimSpace(v), s.Email) {
				return true
			}
		}
		return false
	default:
		return false
	}
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
