package certstore

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	sslmatepkcs12 "software.sslmate.com/src/go-pkcs12"
	xcryptopkcs12 "golang.org/x/crypto/pkcs12"

	"github.com/go-smime/smimecore/internal/digest"
	"github.com/go-smime/smimecore/internal/errs"
	"github.com/go-smime/smimecore/internal/types"
)

// FileConfig names the four well-known paths and the PKCS#12 password
// (spec §9 "Configuration for the file backend"). Zero-value fields default
// to the standard layout under root.
type FileConfig struct {
	Root             string
	AddressbookPath  string
	RootPath         string
	RevokedPath      string
	UserPath         string
	Password         string
}

// DefaultRootDir resolves the per-user store directory: %APPDATA%/mimekit
// on Windows-class systems, $HOME/.mimekit elsewhere (spec §4.2, §6).
func DefaultRootDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "mimekit")
		}
	}
	return filepath.Join(os.Getenv("HOME"), ".mimekit")
}

func (c FileConfig) resolve() FileConfig {
	root := c.Root
	if root == "" {
		root = DefaultRootDir()
	}
	if c.AddressbookPath == "" {
		c.AddressbookPath = filepath.Join(root, "addressbook.crt")
	}
	if c.RootPath == "" {
		c.RootPath = filepath.Join(root, "root.crt")
	}
	if c.RevokedPath == "" {
		c.RevokedPath = filepath.Join(root, "revoked.crl")
	}
	if c.UserPath == "" {
		c.UserPath = filepath.Join(root, "user.p12")
	}
	c.Root = root
	return c
}

// FileBackend persists certificates and CRLs as flat bundle files under a
// per-user directory, and the signing identity as a password-protected
// PKCS#12 file (spec §4.2 "File backend (default)").
type FileBackend struct {
	cfg FileConfig
}

// NewFileBackend builds a FileBackend from cfg, applying the well-known
// default paths for any field left unset.
func NewFileBackend(cfg FileConfig) *FileBackend {
	return &FileBackend{cfg: cfg.resolve()}
}

// NewDefaultFileBackend builds a FileBackend rooted at DefaultRootDir with
// no user PKCS#12 password (spec §6 "the alternate constructor that
// accepts four explicit paths plus password" is NewFileBackend above; this
// is the parameterless convenience form).
func NewDefaultFileBackend() *FileBackend {
	return NewFileBackend(FileConfig{})
}

func readCertBundle(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.IOError{Op: "read " + path, Err: err}
	}
	return parseCertBundle(data)
}

// parseCertBundle accepts either a concatenation of PEM blocks or a
// concatenation of DER certificates, matching spec §4.2's "DER or PEM"
// persisted format. When the data holds any PEM block, only the PEM
// CERTIFICATE blocks are read and bytes outside them are ignored.
func parseCertBundle(data []byte) ([]*x509.Certificate, error) {
	rest := data
	var out []*x509.Certificate
	sawPEM := false
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		sawPEM = true
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, &errs.CmsError{Err: fmt.Errorf("parse certificate bundle: %w", err)}
		}
		out = append(out, cert)
	}
	if sawPEM {
		return out, nil
	}
	certs, err := x509.ParseCertificates(data)
	if err != nil {
		return nil, &errs.CmsError{Err: fmt.Errorf("parse certificate bundle: %w", err)}
	}
	return certs, nil
}

func readCRLBundle(path string) ([]*x509.RevocationList, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.IOError{Op: "read " + path, Err: err}
	}
	return parseCRLBundle(data)
}

func parseCRLBundle(data []byte) ([]*x509.RevocationList, error) {
	var out []*x509.RevocationList
	rest := data
	for len(rest) > 0 {
		crl, err := x509.ParseRevocationList(rest)
		if err != nil {
			if len(out) == 0 {
				return nil, &errs.CmsError{Err: fmt.Errorf("parse CRL bundle: %w", err)}
			}
			break
		}
		out = append(out, crl)
		if len(crl.Raw) == 0 {
			break
		}
		rest = rest[len(crl.Raw):]
	}
	return out, nil
}

// atomicAppend appends der to the bundle at path using write-new-then-rename
// so a crash mid-import never truncates the store (spec §4.2).
func atomicAppend(path string, der []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return &errs.IOError{Op: "mkdir " + filepath.Dir(path), Err: err}
	}
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return &errs.IOError{Op: "read " + path, Err: err}
	}

	tmp := path + "." + uuid.NewString() + ".tmp"
	var buf bytes.Buffer
	buf.Write(existing)
	buf.Write(der)
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return &errs.IOError{Op: "write " + tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &errs.IOError{Op: "rename " + tmp, Err: err}
	}
	return nil
}

func certToPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func (b *FileBackend) allCandidates() ([]*x509.Certificate, error) {
	addr, err := readCertBundle(b.cfg.AddressbookPath)
	if err != nil {
		return nil, err
	}
	anchors, err := readCertBundle(b.cfg.RootPath)
	if err != nil {
		return nil, err
	}
	user, err := b.userCertificates()
	if err != nil {
		return nil, err
	}
	return append(append(addr, anchors...), user...), nil
}

func (b *FileBackend) userCertificates() ([]*x509.Certificate, error) {
	if b.cfg.Password == "" {
		if _, err := os.Stat(b.cfg.UserPath); os.IsNotExist(err) {
			return nil, nil
		}
	}
	_, cert, _, err := b.loadUserP12()
	if err != nil {
		return nil, nil // no usable identity yet; not an error at read time
	}
	return []*x509.Certificate{cert}, nil
}

func (b *FileBackend) loadUserP12() (crypto.PrivateKey, *x509.Certificate, []*x509.Certificate, error) {
	data, err := os.ReadFile(b.cfg.UserPath)
	if os.IsNotExist(err) {
		return nil, nil, nil, &errs.NotSupportedError{Reason: "no user PKCS#12 present"}
	}
	if err != nil {
		return nil, nil, nil, &errs.IOError{Op: "read " + b.cfg.UserPath, Err: err}
	}
	key, cert, cas, err := sslmatepkcs12.DecodeChain(data, b.cfg.Password)
	if err != nil {
		// go-pkcs12 favors modern PBES2 bundles; fall back to
		// golang.org/x/crypto/pkcs12 for legacy RC2/3DES-only files.
		key, cert, err = xcryptopkcs12.Decode(data, b.cfg.Password)
		if err != nil {
			return nil, nil, nil, &errs.CmsError{Err: fmt.Errorf("decode PKCS#12: %w", err)}
		}
	}
	return key, cert, cas, nil
}

func (b *FileBackend) GetCertificate(sel Selector) (*x509.Certificate, error) {
	all, err := b.allCandidates()
	if err != nil {
		return nil, err
	}
	return FindBySelector(all, sel), nil
}

func (b *FileBackend) GetPrivateKey(sel Selector) (crypto.Signer, error) {
	key, cert, _, err := b.loadUserP12()
	if err != nil {
		return nil, nil
	}
	if !sel.Matches(cert) {
		return nil, nil
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, &errs.CmsError{Err: fmt.Errorf("user PKCS#12 key is not a crypto.Signer")}
	}
	return signer, nil
}

func (b *FileBackend) GetTrustedAnchors() (*CertPool, error) {
	anchors, err := readCertBundle(b.cfg.RootPath)
	if err != nil {
		return nil, err
	}
	return NewCertPool(anchors), nil
}

func (b *FileBackend) GetIntermediates() (*CertPool, error) {
	addr, err := readCertBundle(b.cfg.AddressbookPath)
	if err != nil {
		return nil, err
	}
	return NewCertPool(addr), nil
}

func (b *FileBackend) GetCRLs() (*CRLPool, error) {
	crls, err := readCRLBundle(b.cfg.RevokedPath)
	if err != nil {
		return nil, err
	}
	return NewCRLPool(crls), nil
}

func (b *FileBackend) GetCMSRecipient(mbox types.Mailbox) (types.CmsRecipient, error) {
	cert, err := b.GetCertificate(SelectByEmail(mbox.Address))
	if err != nil {
		return types.CmsRecipient{}, err
	}
	if cert == nil {
		return types.CmsRecipient{}, newCertificateNotFound(mbox, "no certificate matches mailbox")
	}
	return types.CmsRecipient{Certificate: cert, IdentifierType: types.IssuerAndSerialNumber}, nil
}

func (b *FileBackend) GetCMSSigner(mbox types.Mailbox, digestAlg digest.Algorithm) (types.CmsSigner, error) {
	key, cert, _, err := b.loadUserP12()
	if err != nil {
		return types.CmsSigner{}, newCertificateNotFound(mbox, err.Error())
	}
	if !SelectByEmail(mbox.Address).Matches(cert) {
		return types.CmsSigner{}, newCertificateNotFound(mbox, "user PKCS#12 identity does not match mailbox")
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return types.CmsSigner{}, &errs.CmsError{Err: fmt.Errorf("user PKCS#12 key is not a crypto.Signer")}
	}
	return types.CmsSigner{Certificate: cert, PrivateKey: signer, DigestAlgorithm: digestAlg}, nil
}

// ImportCertificate appends cert to the address book unless an identical
// certificate is already there, so repeated imports leave one copy.
func (b *FileBackend) ImportCertificate(cert *x509.Certificate) error {
	existing, err := readCertBundle(b.cfg.AddressbookPath)
	if err != nil {
		return err
	}
	for _, c := range existing {
		if c.Equal(cert) {
			return nil
		}
	}
	return atomicAppend(b.cfg.AddressbookPath, certToPEM(cert))
}

func (b *FileBackend) ImportCRL(crl *x509.RevocationList) error {
	return atomicAppend(b.cfg.RevokedPath, crl.Raw)
}

func (b *FileBackend) ImportPKCS12(stream io.Reader, password string) error {
	data, err := io.ReadAll(stream)
	if err != nil {
		return &errs.IOError{Op: "read PKCS#12 stream", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(b.cfg.UserPath), 0o700); err != nil {
		return &errs.IOError{Op: "mkdir " + filepath.Dir(b.cfg.UserPath), Err: err}
	}
	tmp := b.cfg.UserPath + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &errs.IOError{Op: "write " + tmp, Err: err}
	}
	if err := os.Rename(tmp, b.cfg.UserPath); err != nil {
		_ = os.Remove(tmp)
		return &errs.IOError{Op: "rename " + tmp, Err: err}
	}
	b.cfg.Password = password
	return nil
}
