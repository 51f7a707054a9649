// Package verify implements the verification orchestrator (spec component
// C5): pure glue around C3 (pathbuilder) and C4's (cms) parsed SignerInfos.
// A signature's chain is populated iff path building succeeded; otherwise
// ChainException carries the error. The collection is always returned
// whole — per-signature errors never abort the overall verify (spec §4.5).
package verify

import (
	"crypto/x509"
	"time"

	"github.com/go-smime/smimecore/internal/certstore"
	"github.com/go-smime/smimecore/internal/cms"
	"github.com/go-smime/smimecore/internal/errs"
	"github.com/go-smime/smimecore/internal/pathbuilder"
)

// Signature is one processed signer info: the raw verification result from
// C4 plus the chain-building outcome C5 attaches.
type Signature struct {
	cms.VerifiedSignature
	Chain          []*x509.Certificate
	ChainException error
}

// Collection is the DigitalSignatureCollection spec §3 names.
type Collection []Signature

// Orchestrate walks every signer info in parsed, cross-references
// certificates against embedded material first and then store, invokes
// pathbuilder, and attaches a chain-or-exception to each signature. It
// never returns early on a single signer's failure.
//
// detached/content select between VerifyDetached and VerifySignatures,
// mirroring the same choice spec §4.4's Verify operation exposes.
func Orchestrate(parsed *cms.SignedDataMessage, content []byte, detached bool, store certstore.Backend) (Collection, error) {
	embeddedCerts, err := parsed.Certificates()
	if err != nil {
		return nil, &errs.CmsError{Err: err}
	}
	embeddedCRLs, err := parsed.CRLs()
	if err != nil {
		return nil, &errs.CmsError{Err: err}
	}

	// Ordering guarantee (spec §5/§4.4): every embedded certificate and CRL
	// is imported into the store BEFORE any signature record is produced.
	for _, c := range embeddedCerts {
		if err := store.ImportCertificate(c); err != nil {
			return nil, err
		}
	}
	for _, crl := range embeddedCRLs {
		if err := store.ImportCRL(crl); err != nil {
			return nil, err
		}
	}

	candidates := append([]*x509.Certificate(nil), embeddedCerts...)
	for i := 0; i < parsed.SignerCount(); i++ {
		ski, issuer, serial, err := cms.DecodeSID(parsed.SignerInfoAt(i).SID)
		sel := certstore.SelectByIssuerSerial(issuer, serial)
		if ski != nil {
			sel = certstore.SelectBySKI(ski)
		}
		if err == nil && certstore.FindBySelector(embeddedCerts, sel) == nil {
			if local, lerr := store.GetCertificate(sel); lerr == nil && local != nil {
				candidates = append(candidates, local)
			}
		}
	}

	var verified []cms.VerifiedSignature
	if detached {
		verified, err = parsed.VerifyDetached(content, candidates)
	} else {
		verified, err = parsed.VerifySignatures(candidates)
	}
	if err != nil {
		return nil, &errs.CmsError{Err: err}
	}

	anchors, err := store.GetTrustedAnchors()
	if err != nil {
		return nil, err
	}
	intermediates, err := store.GetIntermediates()
	if err != nil {
		return nil, err
	}
	crlPool, err := store.GetCRLs()
	if err != nil {
		return nil, err
	}

	out := make(Collection, 0, len(verified))
	for _, vs := range verified {
		sig := Signature{VerifiedSignature: vs}
		if vs.Certificate == nil {
			sig.ChainException = vs.LookupErr
			out = append(out, sig)
			continue
		}

		chain, err := pathbuilder.BuildChain(vs.Certificate, pathbuilder.BuildOptions{
			Anchors:       anchors,
			Intermediates: intermediates,
			CRLs:          crlPool,
			EmbeddedCerts: embeddedCerts,
			EmbeddedCRLs:  embeddedCRLs,
			SigningTime:   signingTimeRef(vs.SigningTime),
		})
		if err != nil {
			sig.ChainException = err
		} else {
			sig.Chain = chain
		}
		out = append(out, sig)
	}
	return out, nil
}

// signingTimeRef returns t if non-nil; path building then uses "now" (see
// pathbuilder.BuildChain), matching spec §8 "when absent, the current time
// is used".
func signingTimeRef(t *time.Time) *time.Time { return t }
