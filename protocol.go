package smimecore

import "strings"

// The three protocol strings the CryptographyContext registry (an external
// collaborator, out of scope per spec §1) dispatches by (spec §4.6).
const (
	SignatureProtocol   = "application/pkcs7-signature"
	EncryptionProtocol  = "application/pkcs7-mime"
	KeyExchangeProtocol = "application/pkcs7-keys"
)

// Supports reports whether protocol names one of the three pkcs7 protocol
// strings, stripping an optional "x-" vendor prefix after the "/" and
// comparing case-insensitively (spec §4.6).
func Supports(protocol string) bool {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	slash := strings.IndexByte(protocol, '/')
	if slash < 0 {
		return false
	}
	typ, sub := protocol[:slash], protocol[slash+1:]
	sub = strings.TrimPrefix(sub, "x-")
	normalized := typ + "/" + sub
	switch normalized {
	case SignatureProtocol, EncryptionProtocol, KeyExchangeProtocol:
		return true
	default:
		return false
	}
}
