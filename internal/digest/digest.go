// Package digest implements the digest algorithm registry: the mapping
// between symbolic digest names, their RFC 3851 micalg tokens, and the
// PKCS #1 digest-with-signature OIDs used on the CMS wire.
package digest

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"strings"
)

// Algorithm enumerates the digest algorithms a signer may name. Not every
// value is usable for signing; RipeMD160, Tiger192, Haval5160 and DoubleSha
// are representable but unsupported (see OID).
type Algorithm int

const (
	MD5 Algorithm = iota
	MD2
	MD4
	SHA1
	SHA224
	SHA256
	SHA384
	SHA512
	RipeMD160
	Tiger192
	Haval5160
	DoubleSha
	None
)

func (a Algorithm) String() string {
	if name, ok := micalgNames[a]; ok {
		return name
	}
	return "unknown"
}

// ErrNotSupported is returned by OID for digests that have no CMS
// digestAlgorithm mapping.
var ErrNotSupported = errors.New("digest: algorithm not supported for signing")

// ErrOutOfRange is returned for operations against the None sentinel.
var ErrOutOfRange = errors.New("digest: algorithm out of range")

var micalgNames = map[Algorithm]string{
	MD5:       "md5",
	MD2:       "md2",
	MD4:       "md4",
	SHA1:      "sha1",
	SHA224:    "sha224",
	SHA256:    "sha256",
	SHA384:    "sha384",
	SHA512:    "sha512",
	RipeMD160: "ripemd160",
	Tiger192:  "tiger192",
	Haval5160: "haval-5-160",
	DoubleSha: "double-sha",
}

var micalgLookup = func() map[string]Algorithm {
	m := make(map[string]Algorithm, len(micalgNames))
	for a, name := range micalgNames {
		m[name] = a
	}
	return m
}()

// unsupportedForOID is the exact set the spec calls out as representable but
// not usable for CMS signing.
var unsupportedForOID = map[Algorithm]bool{
	RipeMD160: true,
	Tiger192:  true,
	Haval5160: true,
	DoubleSha: true,
}

// digest-with-RSA OIDs, PKCS #1 (RFC 8017 appendix C).
var oids = map[Algorithm]asn1.ObjectIdentifier{
	MD2:    {1, 2, 840, 113549, 1, 1, 2},
	MD4:    {1, 2, 840, 113549, 1, 1, 3},
	MD5:    {1, 2, 840, 113549, 1, 1, 4},
	SHA1:   {1, 2, 840, 113549, 1, 1, 5},
	SHA224: {1, 2, 840, 113549, 1, 1, 14},
	SHA256: {1, 2, 840, 113549, 1, 1, 11},
	SHA384: {1, 2, 840, 113549, 1, 1, 12},
	SHA512: {1, 2, 840, 113549, 1, 1, 13},
}

// MicalgName returns the canonical RFC 3851 micalg token for a, e.g.
// "sha256" or "haval-5-160". Fails for the None sentinel.
func MicalgName(a Algorithm) (string, error) {
	if a == None {
		return "", fmt.Errorf("%w: micalg has no name for None", ErrOutOfRange)
	}
	name, ok := micalgNames[a]
	if !ok {
		return "", fmt.Errorf("%w: unrecognized algorithm %d", ErrOutOfRange, a)
	}
	return name, nil
}

// DigestFromMicalg is the reverse of MicalgName. Unknown tokens are
// non-fatal and resolve to None.
func DigestFromMicalg(token string) Algorithm {
	if a, ok := micalgLookup[strings.ToLower(strings.TrimSpace(token))]; ok {
		return a
	}
	return None
}

// OID returns the PKCS #1 signature-with-digest OID used to populate a CMS
// digestAlgorithm field. Fails NotSupported for RipeMD160, DoubleSha,
// Tiger192 and Haval5160; fails OutOfRange for None.
func OID(a Algorithm) (asn1.ObjectIdentifier, error) {
	if a == None {
		return nil, fmt.Errorf("%w: no OID for None", ErrOutOfRange)
	}
	if unsupportedForOID[a] {
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, a)
	}
	oid, ok := oids[a]
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized algorithm %d", ErrOutOfRange, a)
	}
	return oid, nil
}
