package certstore

import (
	"crypto"
	"crypto/x509"
	"io"

	"github.com/go-smime/smimecore/internal/digest"
	"github.com/go-smime/smimecore/internal/errs"
	"github.com/go-smime/smimecore/internal/types"
)

// CertPool is a searchable, in-memory collection of certificates, used for
// GetIntermediates results and for the embedded-certificate pool the path
// builder merges local intermediates with (spec §4.3 point 1).
type CertPool struct {
	certs []*x509.Certificate
}

// NewCertPool builds a CertPool from certs.
func NewCertPool(certs []*x509.Certificate) *CertPool {
	return &CertPool{certs: append([]*x509.Certificate(nil), certs...)}
}

// All returns every certificate in the pool.
func (p *CertPool) All() []*x509.Certificate {
	if p == nil {
		return nil
	}
	return p.certs
}

// FindByIssuer returns every certificate in the pool whose Subject equals
// issuer, i.e. candidate issuers of a certificate with that Issuer field.
func (p *CertPool) FindByIssuer(issuer []byte) []*x509.Certificate {
	if p == nil {
		return nil
	}
	var out []*x509.Certificate
	for _, c := range p.certs {
		if bytesEqual(c.RawSubject, issuer) {
			out = append(out, c)
		}
	}
	return out
}

// CRLPool is a searchable collection of revocation lists.
type CRLPool struct {
	crls []*x509.RevocationList
}

// NewCRLPool builds a CRLPool from crls.
func NewCRLPool(crls []*x509.RevocationList) *CRLPool {
	return &CRLPool{crls: append([]*x509.RevocationList(nil), crls...)}
}

// All returns every CRL in the pool.
func (p *CRLPool) All() []*x509.RevocationList {
	if p == nil {
		return nil
	}
	return p.crls
}

// Empty reports whether the pool carries no CRLs — the switch the path
// builder uses to decide whether revocation checking is enabled at all
// (spec §4.3 point 3).
func (p *CRLPool) Empty() bool {
	return p == nil || len(p.crls) == 0
}

// Backend is the capability set C4/C5 consume: locate, enumerate, import
// (spec §9 "Polymorphic backends"). FileBackend and OsBackend are the two
// variants; there is deliberately no deeper hierarchy.
type Backend interface {
	GetCertificate(sel Selector) (*x509.Certificate, error)
	GetPrivateKey(sel Selector) (crypto.Signer, error)
	GetTrustedAnchors() (*CertPool, error)
	GetIntermediates() (*CertPool, error)
	GetCRLs() (*CRLPool, error)

	GetCMSRecipient(mbox types.Mailbox) (types.CmsRecipient, error)
	GetCMSSigner(mbox types.Mailbox, digestAlg digest.Algorithm) (types.CmsSigner, error)

	ImportCertificate(cert *x509.Certificate) error
	ImportCRL(crl *x509.RevocationList) error
	ImportPKCS12(stream io.Reader, password string) error
}

// FindBySelector returns the first of candidates that sel matches, or nil.
// It supports the shared "embedded certs first, local store on miss" lookup
// policy of spec §4.2 "Selector semantics": the certificates carried in the
// CMS blob are consulted before the backend, so self-describing signed mail
// verifies against an empty address book. Backends don't implement this
// themselves; callers (C5) try embedded candidates via FindBySelector before
// falling back to Backend.GetCertificate.
func FindBySelector(candidates []*x509.Certificate, sel Selector) *x509.Certificate {
	for _, c := range candidates {
		if sel.Matches(c) {
			return c
		}
	}
	return nil
}

func newCertificateNotFound(mbox types.Mailbox, reason string) error {
	return &errs.CertificateNotFoundError{Mailbox: mbox.Address, Reason: reason}
}
