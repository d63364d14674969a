package auth

import "errors"

// Credential validation failure kinds. Every kind maps to a 401 at the
// gateway edge; the distinction is kept for logs and tests. Provider
// unavailability fails closed — an unverifiable token is never admitted.
var (
	ErrInvalidToken        = errors.New("auth: invalid token")
	ErrUnknownIssuer       = errors.New("auth: unknown issuer")
	ErrSignatureInvalid    = errors.New("auth: signature invalid")
	ErrExpired             = errors.New("auth: token expired")
	ErrAudienceMismatch    = errors.New("auth: audience mismatch")
	ErrProviderUnavailable = errors.New("auth: identity provider unavailable")
)
