package smimecore

import "github.com/go-smime/smimecore/internal/errs"

// The collaborator-visible error taxonomy (spec §6/§7), aliased from
// internal/errs so errors.As works against these names directly.
type (
	CertificateNotFoundError = errs.CertificateNotFoundError
	PathBuildError           = errs.PathBuildError
	CmsError                 = errs.CmsError
	IOError                  = errs.IOError
	NotSupportedError        = errs.NotSupportedError
	OutOfRangeError          = errs.OutOfRangeError
	ArgumentError            = errs.ArgumentError
)
