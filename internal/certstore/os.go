package certstore

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"io"

	hostcertstore "github.com/mastahyeti/certstore"

	"github.com/go-smime/smimecore/internal/digest"
	"github.com/go-smime/smimecore/internal/errs"
	"github.com/go-smime/smimecore/internal/types"
)

// OsBackend reads from the host certificate store via
// github.com/mastahyeti/certstore, the same dependency the teacher's
// upstream (github.com/github/smimesign) uses for its native-keychain
// signing path.
//
// certstore's cross-platform Store only exposes the identities a user
// controls the private key for — there is no portable API for the spec's
// separate AddressBook/TrustedPeople/Root logical stores, so those three
// collapse onto the identity list here. GetCertificate therefore only ever
// resolves against "My"; ImportCertificate (which spec §4.2 routes to
// AddressBook) has nowhere portable to land and returns NotSupportedError.
// This is a documented, deliberate simplification (see DESIGN.md).
type OsBackend struct {
	store hostcertstore.Store
}

// OpenOsBackend opens the host certificate store. The caller must call
// Close when done.
func OpenOsBackend() (*OsBackend, error) {
	store, err := hostcertstore.Open()
	if err != nil {
		return nil, &errs.IOError{Op: "open OS certificate store", Err: err}
	}
	return &OsBackend{store: store}, nil
}

// Close releases the underlying OS store handle.
func (b *OsBackend) Close() {
	if b.store != nil {
		b.store.Close()
	}
}

func (b *OsBackend) identities() ([]hostcertstore.Identity, error) {
	ids, err := b.store.Identities()
	if err != nil {
		return nil, &errs.IOError{Op: "enumerate OS identities", Err: err}
	}
	return ids, nil
}

// GetCertificate searches "My" (spec §4.2: "get_certificate searches those
// names in that order" — here collapsed to the one addressable store).
func (b *OsBackend) GetCertificate(sel Selector) (*x509.Certificate, error) {
	ids, err := b.identities()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		cert, err := id.Certificate()
		if err != nil {
			continue
		}
		if sel.Matches(cert) {
			return cert, nil
		}
	}
	return nil, nil
}

// GetPrivateKey only searches "My" and only returns identities certstore
// itself reports as having an associated private key (spec §4.2).
func (b *OsBackend) GetPrivateKey(sel Selector) (crypto.Signer, error) {
	ids, err := b.identities()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		cert, err := id.Certificate()
		if err != nil || !sel.Matches(cert) {
			continue
		}
		signer, err := id.Signer()
		if err != nil {
			continue
		}
		return signer, nil
	}
	return nil, nil
}

// GetTrustedAnchors has no portable "Root" store to read; it returns an
// empty pool rather than failing, matching the AddressBook/TrustedPeople/
// Root collapse documented on OsBackend.
func (b *OsBackend) GetTrustedAnchors() (*CertPool, error) {
	return NewCertPool(nil), nil
}

// GetIntermediates has no portable "TrustedPeople"/"AddressBook" store;
// returns the "My" identities' own certificates as the only addressable
// pool, since those are the only certificates OsBackend can enumerate.
func (b *OsBackend) GetIntermediates() (*CertPool, error) {
	ids, err := b.identities()
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for _, id := range ids {
		if cert, err := id.Certificate(); err == nil {
			certs = append(certs, cert)
		}
	}
	return NewCertPool(certs), nil
}

// GetCRLs is always empty: OS-backend CRL import is a documented no-op
// (spec §9 open issue 1), so there is never anything to return here.
func (b *OsBackend) GetCRLs() (*CRLPool, error) {
	return NewCRLPool(nil), nil
}

func (b *OsBackend) GetCMSRecipient(mbox types.Mailbox) (types.CmsRecipient, error) {
	cert, err := b.GetCertificate(SelectByEmail(mbox.Address))
	if err != nil {
		return types.CmsRecipient{}, err
	}
	if cert == nil {
		return types.CmsRecipient{}, newCertificateNotFound(mbox, "no OS-store identity matches mailbox")
	}
	return types.CmsRecipient{Certificate: cert, IdentifierType: types.IssuerAndSerialNumber}, nil
}

func (b *OsBackend) GetCMSSigner(mbox types.Mailbox, digestAlg digest.Algorithm) (types.CmsSigner, error) {
	sel := SelectByEmail(mbox.Address)
	cert, err := b.GetCertificate(sel)
	if err != nil {
		return types.CmsSigner{}, err
	}
	if cert == nil {
		return types.CmsSigner{}, newCertificateNotFound(mbox, "no OS-store identity matches mailbox")
	}
	signer, err := b.GetPrivateKey(sel)
	if err != nil {
		return types.CmsSigner{}, err
	}
	if signer == nil {
		return types.CmsSigner{}, newCertificateNotFound(mbox, "OS-store identity has no usable private key")
	}
	return types.CmsSigner{Certificate: cert, PrivateKey: signer, DigestAlgorithm: digestAlg}, nil
}

// ImportCertificate has nowhere portable to land (see OsBackend doc).
func (b *OsBackend) ImportCertificate(cert *x509.Certificate) error {
	return &errs.NotSupportedError{Reason: "OS backend cannot import a plain certificate into AddressBook portably"}
}

// ImportCRL is accepted but a no-op, per spec §4.2/§9 open issue 1.
func (b *OsBackend) ImportCRL(crl *x509.RevocationList) error {
	return nil
}

// ImportPKCS12 targets "My" via the host store's native identity import.
func (b *OsBackend) ImportPKCS12(stream io.Reader, password string) error {
	data, err := io.ReadAll(stream)
	if err != nil {
		return &errs.IOError{Op: "read PKCS#12 stream", Err: err}
	}
	if err := b.store.Import(data, password); err != nil {
		return &errs.IOError{Op: "import PKCS#12 into OS store", Err: fmt.Errorf("%w", err)}
	}
	return nil
}
