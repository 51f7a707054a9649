// Package smimecore is the public façade (spec component C6): the
// operations exposed to the surrounding MIME layer — Sign, EncapsulatedSign,
// Verify, Encrypt, Decrypt, Compress/Decompress, Export and the three
// Import variants — dispatched over a pluggable certificate store backend
// (internal/certstore), a CMS pipeline (internal/cms), a PKIX path builder
// (internal/pathbuilder) and a verification orchestrator (internal/verify).
package smimecore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-smime/smimecore/internal/certstore"
	"github.com/go-smime/smimecore/internal/cms"
	"github.com/go-smime/smimecore/internal/errs"
	"github.com/go-smime/smimecore/internal/types"
	"github.com/go-smime/smimecore/internal/verify"
)

// parseOID parses a dotted-decimal string ("1.2.840.113549...") into an
// asn1.ObjectIdentifier; CmsSigner.SignedAttributes/UnsignedAttributes
// carry OIDs as strings so internal/types need not depend on encoding/asn1.
func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, &errs.ArgumentError{Reason: "invalid attribute OID " + s}
		}
		oid[i] = n
	}
	return oid, nil
}

func convertAttributes(in []Attribute) (cms.AttributeList, error) {
	out := make(cms.AttributeList, 0, len(in))
	for _, a := range in {
		oid, err := parseOID(a.OID)
		if err != nil {
			return nil, err
		}
		raws := make([]asn1.RawValue, 0, len(a.Values))
		for _, v := range a.Values {
			raws = append(raws, asn1.RawValue{FullBytes: v})
		}
		setDER, err := asn1.MarshalWithParams(raws, "set")
		if err != nil {
			return nil, &errs.CmsError{Err: err}
		}
		out = append(out, cms.Attribute{Type: oid, Values: asn1.RawValue{FullBytes: setDER}})
	}
	return out, nil
}

// Context is the entry point for every operation this package exposes. It
// holds a certificate store backend open for its lifetime; spec §5 treats
// the store as the sole shared mutable resource, so a Context is not
// re-entrant safe during Import or Decrypt.
type Context struct {
	Store certstore.Backend
}

// NewContext wraps an already-constructed backend — the general-purpose
// constructor for callers supplying their own store (e.g. explicit file
// paths plus password, spec §6).
func NewContext(store certstore.Backend) *Context {
	return &Context{Store: store}
}

// NewDefaultContext opens the default FileBackend, rooted at
// certstore.DefaultRootDir (spec §4.2, §6).
func NewDefaultContext() *Context {
	return &Context{Store: certstore.NewDefaultFileBackend()}
}

// NewFileContext opens a FileBackend configured with cfg, the alternate
// constructor spec §6 calls out: "Callers may override store paths via the
// alternate constructor that accepts four explicit paths plus password."
func NewFileContext(cfg certstore.FileConfig) *Context {
	return &Context{Store: certstore.NewFileBackend(cfg)}
}

// NewOsContext opens the host certificate store (spec §4.2 "OS backend").
// The caller must call Close when done with the returned Context.
func NewOsContext() (*Context, error) {
	backend, err := certstore.OpenOsBackend()
	if err != nil {
		return nil, err
	}
	return &Context{Store: backend}, nil
}

// Close releases the underlying store, if it holds OS resources.
func (c *Context) Close() {
	if closer, ok := c.Store.(interface{ Close() }); ok {
		closer.Close()
	}
}

func validateSigner(signer CmsSigner) error {
	if signer.Certificate == nil || signer.PrivateKey == nil {
		return &errs.ArgumentError{Reason: "CmsSigner requires both certificate and private_key"}
	}
	return nil
}

// Sign produces a detached CMS SignedData over content (spec §4.4
// "Sign / EncapsulatedSign", detached mode).
func (c *Context) Sign(signer CmsSigner, content []byte) ([]byte, SecureMimeType, error) {
	return c.sign(signer, content, false)
}

// EncapsulatedSign produces a CMS SignedData carrying content as eContent
// (spec §4.4, encapsulated mode).
func (c *Context) EncapsulatedSign(signer CmsSigner, content []byte) ([]byte, SecureMimeType, error) {
	return c.sign(signer, content, true)
}

func (c *Context) sign(signer CmsSigner, content []byte, encapsulate bool) ([]byte, SecureMimeType, error) {
	if err := validateSigner(signer); err != nil {
		return nil, SmimeTypeData, err
	}
	sd, err := cms.NewSignedData(content, true)
	if err != nil {
		return nil, SmimeTypeData, &errs.CmsError{Err: err}
	}
	extraSigned, err := convertAttributes(signer.SignedAttributes)
	if err != nil {
		return nil, SmimeTypeData, err
	}
	unsigned, err := convertAttributes(signer.UnsignedAttributes)
	if err != nil {
		return nil, SmimeTypeData, err
	}
	useSKI := signer.Certificate.SubjectKeyId != nil
	now := time.Now()
	if err := sd.AddSignerInfo(signer.Certificate, signer.PrivateKey, signer.DigestAlgorithm, extraSigned, unsigned, &now, useSKI); err != nil {
		return nil, SmimeTypeData, &errs.CmsError{Err: err}
	}
	if !encapsulate {
		sd.Detach()
	}
	der, err := sd.ToDER()
	if err != nil {
		return nil, SmimeTypeData, &errs.CmsError{Err: err}
	}
	return der, SmimeTypeSignedData, nil
}

// Verify checks a detached signature over content (spec §4.4 "Verify").
func (c *Context) Verify(content, detachedSignature []byte) (verify.Collection, error) {
	parsed, err := cms.ParseSignedData(detachedSignature)
	if err != nil {
		return nil, &errs.CmsError{Err: err}
	}
	return verify.Orchestrate(parsed, content, true, c.Store)
}

// VerifyEncapsulated checks an encapsulated SignedData and returns its
// extracted content alongside the signature collection (spec §4.4).
func (c *Context) VerifyEncapsulated(blob []byte) ([]byte, verify.Collection, error) {
	parsed, err := cms.ParseSignedData(blob)
	if err != nil {
		return nil, nil, &errs.CmsError{Err: err}
	}
	content, err := parsed.GetData()
	if err != nil {
		return nil, nil, &errs.CmsError{Err: err}
	}
	collection, err := verify.Orchestrate(parsed, content, false, c.Store)
	if err != nil {
		return nil, nil, err
	}
	return content, collection, nil
}

// Encrypt produces a CMS EnvelopedData for recipients (spec §4.4
// "Encrypt"). Zero recipients fails with ArgumentError before any octet is
// written.
func (c *Context) Encrypt(recipients []CmsRecipient, content []byte) ([]byte, SecureMimeType, error) {
	if len(recipients) == 0 {
		return nil, SmimeTypeData, &errs.ArgumentError{Reason: "Encrypt requires at least one recipient"}
	}
	for _, r := range recipients {
		if r.Certificate == nil || !types.HasKeyEncipherment(r.Certificate) {
			return nil, SmimeTypeData, &errs.ArgumentError{Reason: "Encrypt recipient certificate is not key-encipherment-capable"}
		}
	}
	ktRecipients := make([]cms.EncryptRecipient, 0, len(recipients))
	for _, r := range recipients {
		ktRecipients = append(ktRecipients, cms.EncryptRecipient{
			Certificate: r.Certificate,
			UseSKI:      r.IdentifierType == SubjectKeyIdentifier,
		})
	}
	ed, err := cms.NewEnvelopedData(content, ktRecipients)
	if err != nil {
		return nil, SmimeTypeData, &errs.CmsError{Err: err}
	}
	der, err := ed.ToDER()
	if err != nil {
		return nil, SmimeTypeData, &errs.CmsError{Err: err}
	}
	return der, SmimeTypeEnvelopedData, nil
}

// Decrypt decrypts a CMS EnvelopedData, trying each RecipientInfo against
// the store's private keys in turn (spec §4.4 "Decrypt").
func (c *Context) Decrypt(der []byte) ([]byte, error) {
	ed, err := cms.ParseEnvelopedData(der)
	if err != nil {
		return nil, &errs.CmsError{Err: err}
	}
	out, err := ed.Decrypt(c.keyForRecipient)
	if err != nil {
		return nil, &errs.CmsError{Err: err}
	}
	return out, nil
}

// keyForRecipient resolves a RecipientInfo's RID against the store. Only
// backends that hold a literal *rsa.PrivateKey (the file backend's
// PKCS#12 identity) can satisfy this: an OS-backed hardware key behind an
// opaque crypto.Signer has no exported raw key to hand to rsa's low-level
// PKCS#1v1.5 unwrap, so it never matches here (see DESIGN.md).
func (c *Context) keyForRecipient(rid asn1.RawValue) *rsa.PrivateKey {
	ski, issuer, serial, err := cms.DecodeSID(rid)
	if err != nil {
		return nil
	}
	var sel certstore.Selector
	if ski != nil {
		sel = certstore.SelectBySKI(ski)
	} else {
		sel = certstore.SelectByIssuerSerial(issuer, serial)
	}
	signer, err := c.Store.GetPrivateKey(sel)
	if err != nil || signer == nil {
		return nil
	}
	rsaKey, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return nil
	}
	return rsaKey
}

// Compress produces a CMS CompressedData over r (spec §4.4
// "Compress / Decompress").
func (c *Context) Compress(r io.Reader) ([]byte, SecureMimeType, error) {
	der, err := cms.Compress(r)
	if err != nil {
		return nil, SmimeTypeData, &errs.CmsError{Err: err}
	}
	return der, SmimeTypeCompressedData, nil
}

// Decompress streams the decompressed content of der into w.
func (c *Context) Decompress(der []byte, w io.Writer) error {
	if err := cms.Decompress(der, w); err != nil {
		return &errs.CmsError{Err: err}
	}
	return nil
}

// Export emits a certs-only CMS SignedData carrying the certificates
// resolved for mailboxes (spec §4.4 "Export"). Zero mailboxes fails with
// ArgumentError.
func (c *Context) Export(mailboxes []Mailbox) ([]byte, SecureMimeType, error) {
	if len(mailboxes) == 0 {
		return nil, SmimeTypeData, &errs.ArgumentError{Reason: "Export requires at least one mailbox"}
	}
	sd, err := cms.NewSignedData(nil, false)
	if err != nil {
		return nil, SmimeTypeData, &errs.CmsError{Err: err}
	}
	for _, mbox := range mailboxes {
		recipient, err := c.Store.GetCMSRecipient(mbox)
		if err != nil {
			return nil, SmimeTypeData, err
		}
		if err := sd.AddCertificate(recipient.Certificate); err != nil {
			return nil, SmimeTypeData, &errs.CmsError{Err: err}
		}
	}
	der, err := sd.ToDER()
	if err != nil {
		return nil, SmimeTypeData, &errs.CmsError{Err: err}
	}
	return der, SmimeTypeCertsOnly, nil
}

// ImportCertificate adds cert to the store.
func (c *Context) ImportCertificate(cert *x509.Certificate) error {
	return c.Store.ImportCertificate(cert)
}

// ImportCRL adds crl to the store.
func (c *Context) ImportCRL(crl *x509.RevocationList) error {
	return c.Store.ImportCRL(crl)
}

// ImportPKCS12 loads a password-protected PKCS#12 identity into the store.
func (c *Context) ImportPKCS12(stream io.Reader, password string) error {
	return c.Store.ImportPKCS12(stream, password)
}

// Import parses a certs-only SignedData from stream and delegates every
// certificate and CRL it carries to the store (spec §4.4 "Import(stream)").
func (c *Context) Import(stream io.Reader) error {
	data, err := io.ReadAll(stream)
	if err != nil {
		return &errs.IOError{Op: "read import stream", Err: err}
	}
	parsed, err := cms.ParseSignedData(data)
	if err != nil {
		return &errs.CmsError{Err: err}
	}
	certs, err := parsed.Certificates()
	if err != nil {
		return &errs.CmsError{Err: err}
	}
	for _, cert := range certs {
		if err := c.Store.ImportCertificate(cert); err != nil {
			return err
		}
	}
	crls, err := parsed.CRLs()
	if err != nil {
		return &errs.CmsError{Err: err}
	}
	for _, crl := range crls {
		if err := c.Store.ImportCRL(crl); err != nil {
			return err
		}
	}
	return nil
}
