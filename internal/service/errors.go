package service

// AuthenticationError rejects a caller presenting a missing, malformed or
// mismatched token/cookie. Never mutates state.
type AuthenticationError struct {
	Message string
}

func (e AuthenticationError) Error() string {
	return e.Message
}

func NewAuthenticationError(message string) AuthenticationError {
	return AuthenticationError{Message: message}
}

// ConflictError rejects an operation that would duplicate an existing
// identity, such as issuing a second registration token for a uuid.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string {
	return e.Message
}

func NewConflictError(message string) ConflictError {
	return ConflictError{Message: message}
}

// ValidationError rejects malformed input: empty uuid, duplicate elastic
// agent id, unknown material type.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) ValidationError {
	return ValidationError{Message: message}
}

// TransientError records an I/O failure (remote SCM unreachable, disk full)
// that is expected to clear on a later poll.
type TransientError struct {
	Scope string
	Err   error
}

func (e TransientError) Error() string {
	return e.Scope + ": " + e.Err.Error()
}

func (e TransientError) Unwrap() error {
	return e.Err
}

func NewTransientError(scope string, err error) TransientError {
	return TransientError{Scope: scope, Err: err}
}

// IntegrityError is a fatal configuration error, such as two differently
// configured materials colliding on one fingerprint. Surfaced to an
// operator, never auto-corrected.
type IntegrityError struct {
	Message string
}

func (e IntegrityError) Error() string {
	return e.Message
}

func NewIntegrityError(message string) IntegrityError {
	return IntegrityError{Message: message}
}
