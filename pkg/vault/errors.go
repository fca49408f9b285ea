package vault

import "errors"

// Errors
var (
	// ErrFileNotFound indicates a missing envelope or plaintext source.
	// Recoverable: the caller may prompt to create the missing file.
	ErrFileNotFound = errors.New("vault: file not found")

	// ErrNothingToProtect indicates the plaintext sources hold no
	// variables beyond the key-carrier itself.
	ErrNothingToProtect = errors.New("vault: no variables to protect")

	// ErrAuditAppend indicates the envelope write completed but the
	// audit entry could not be recorded. The envelope write is not
	// rolled back; the two are independent failure domains.
	ErrAuditAppend = errors.New("vault: audit append failed after envelope write")
)
