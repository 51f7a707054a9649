package cms

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"errors"
)

// rsaVerify checks sig over the already-hashed digest using cert's RSA
// public key. Every CMS signer this pipeline supports is RSA-with-PKCS1v15
// (spec §4.2 requires key-encipherment-capable RSA keys for Encrypt and the
// same key family is assumed for Sign).
func rsaVerify(cert *x509.Certificate, hash crypto.Hash, digest, sig []byte) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("cms: signer certificate has no RSA public key")
	}
	return rsa.VerifyPKCS1v15(pub, hash, digest, sig)
}
