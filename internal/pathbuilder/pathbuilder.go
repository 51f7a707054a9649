// Package pathbuilder implements the PKIX path builder (spec component
// C3): given a leaf certificate, a pool of candidate intermediates, CRLs
// and anchors, and an optional signing time, build a validated chain or
// report a typed failure.
package pathbuilder

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/go-smime/smimecore/internal/certstore"
	"github.com/go-smime/smimecore/internal/errs"
)

// BuildOptions collects the inputs spec §4.3 names: the local store's
// anchors/intermediates/CRLs plus whatever certificates and CRLs were
// embedded in the CMS blob under verification.
type BuildOptions struct {
	Anchors        *certstore.CertPool
	Intermediates  *certstore.CertPool
	CRLs           *certstore.CRLPool
	EmbeddedCerts  []*x509.Certificate
	EmbeddedCRLs   []*x509.RevocationList
	SigningTime    *time.Time // reference instant for validity checks; nil ⇒ time.Now()
}

const maxChainDepth = 16

// BuildChain builds a certificate path from leaf to a trusted anchor under
// the chain-validity model (spec §4.3 point 4): each certificate is valid
// relative to its issuer's validity window, not uniformly against "now",
// which tolerates an expired root as long as it was valid when it issued
// the next link (needed for long-lived archived signatures). Revocation
// checking is enabled iff the merged local CRL pool is non-empty (point 3);
// CRLs embedded in the blob alone never switch revocation on.
func BuildChain(leaf *x509.Certificate, opts BuildOptions) ([]*x509.Certificate, error) {
	if leaf == nil {
		return nil, &errs.ArgumentError{Reason: "BuildChain requires a non-nil leaf certificate"}
	}

	candidates := mergeCertPool(opts.Intermediates, opts.EmbeddedCerts)
	anchors := opts.Anchors.All()

	revocationEnabled := opts.CRLs != nil && !opts.CRLs.Empty()
	crlPool := mergeCRLs(opts.CRLs, opts.EmbeddedCRLs)

	refTime := time.Now()
	if opts.SigningTime != nil {
		refTime = *opts.SigningTime
	}

	chain, err := walk(leaf, candidates, anchors, refTime, nil, 0)
	if err != nil {
		return nil, err
	}

	if revocationEnabled {
		for i, cert := range chain[:len(chain)-1] {
			issuer := chain[i+1]
			if revoked, reason := isRevoked(cert, issuer, crlPool); revoked {
				return nil, &errs.PathBuildError{Reason: fmt.Sprintf("certificate %s is revoked: %s", cert.Subject, reason)}
			}
		}
	}

	return chain, nil
}

// walk recursively resolves cert's issuer among candidates/anchors,
// validating cert against the reference instant: the signing time (or now)
// for the leaf, and for every issuer above it, including the anchor, the
// NotBefore of the certificate it issued — the chain-validity model's
// defining relaxation.
func walk(cert *x509.Certificate, candidates, anchors []*x509.Certificate, refTime time.Time, seen []*x509.Certificate, depth int) ([]*x509.Certificate, error) {
	if depth > maxChainDepth {
		return nil, &errs.PathBuildError{Reason: "chain exceeds maximum depth"}
	}
	if !validAt(cert, refTime) {
		return nil, &errs.PathBuildError{Reason: fmt.Sprintf("certificate %s is not valid at reference time %s", cert.Subject, refTime)}
	}
	for _, s := range seen {
		if s.Equal(cert) {
			return nil, &errs.PathBuildError{Reason: "certificate chain contains a cycle"}
		}
	}
	seen = append(seen, cert)

	if anchor := findAnchor(cert, anchors); anchor != nil {
		if !validAt(anchor, cert.NotBefore) {
			return nil, &errs.PathBuildError{Reason: fmt.Sprintf("anchor %s was not valid when it issued %s", anchor.Subject, cert.Subject)}
		}
		return []*x509.Certificate{cert, anchor}, nil
	}
	if isSelfSigned(cert) {
		return nil, &errs.PathBuildError{Reason: fmt.Sprintf("self-signed certificate %s is not a trusted anchor", cert.Subject)}
	}

	issuer := findIssuer(cert, candidates)
	if issuer == nil {
		return nil, &errs.PathBuildError{Reason: fmt.Sprintf("no issuer found for %s", cert.Subject)}
	}

	// Once we cross into ancestor certificates, the relevant reference
	// instant for the chain-validity model is the moment the issuer issued
	// cert (cert's NotBefore) rather than the original signing time — so an
	// issuer's expiry no longer matters once it has validly issued its child.
	rest, err := walk(issuer, candidates, anchors, cert.NotBefore, seen, depth+1)
	if err != nil {
		return nil, err
	}
	return append([]*x509.Certificate{cert}, rest...), nil
}

func validAt(cert *x509.Certificate, at time.Time) bool {
	return !at.Before(cert.NotBefore) && !at.After(cert.NotAfter)
}

func isSelfSigned(cert *x509.Certificate) bool {
	return bytesEqual(cert.RawSubject, cert.RawIssuer) && cert.CheckSignatureFrom(cert) == nil
}

func findAnchor(cert *x509.Certificate, anchors []*x509.Certificate) *x509.Certificate {
	for _, a := range anchors {
		if bytesEqual(a.RawSubject, cert.RawIssuer) && cert.CheckSignatureFrom(a) == nil {
			return a
		}
	}
	return nil
}

func findIssuer(cert *x509.Certificate, candidates []*x509.Certificate) *x509.Certificate {
	for _, c := range candidates {
		if c.Equal(cert) {
			continue
		}
		if bytesEqual(c.RawSubject, cert.RawIssuer) && cert.CheckSignatureFrom(c) == nil {
			return c
		}
	}
	return nil
}

func mergeCertPool(local *certstore.CertPool, embedded []*x509.Certificate) []*x509.Certificate {
	out := append([]*x509.Certificate(nil), local.All()...)
	return append(out, embedded...)
}

func mergeCRLs(local *certstore.CRLPool, embedded []*x509.RevocationList) []*x509.RevocationList {
	out := append([]*x509.RevocationList(nil), local.All()...)
	return append(out, embedded...)
}

func isRevoked(cert, issuer *x509.Certificate, crls []*x509.RevocationList) (bool, string) {
	for _, crl := range crls {
		if !bytesEqual(crl.RawIssuer, issuer.RawSubject) {
			continue
		}
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber != nil && cert.SerialNumber != nil && entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return true, fmt.Sprintf("reason code %d", entry.ReasonCode)
			}
		}
	}
	return false, ""
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
