package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure. Kinds are strings so they read well in logs
// and in JSON output.
type ErrorKind string

const (
	// KindTransport covers refused connections, timeouts, stalls, short
	// transfers and non-2xx responses.
	KindTransport ErrorKind = "TRANSPORT_ERROR"

	// KindMetadata covers missing or malformed property documents.
	KindMetadata ErrorKind = "METADATA_ERROR"

	// KindIntegrity covers checksum mismatches and unsupported algorithms.
	KindIntegrity ErrorKind = "INTEGRITY_ERROR"

	// KindConfiguration covers missing or invalid settings.
	KindConfiguration ErrorKind = "CONFIGURATION_ERROR"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrUnexpectedRoot       = errors.New("unexpected document root")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrUnsupportedAlgorithm = errors.New("unsupported checksum algorithm")
	ErrStalled              = errors.New("transfer stalled")
	ErrShortTransfer        = errors.New("short transfer")
)

// Error is the error type returned across package boundaries.
type Error struct {
	Kind       ErrorKind
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err,
// &Error{Kind: KindIntegrity}) works regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// NewTransportError wraps err as a TRANSPORT_ERROR.
func NewTransportError(op, url string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, URL: url, Err: err}
}

// NewStatusError reports a non-2xx response. A 404 also matches ErrNotFound.
func NewStatusError(op, url string, statusCode int) *Error {
	err := fmt.Errorf("unexpected status %d", statusCode)
	if statusCode == 404 {
		err = ErrNotFound
	}
	return &Error{Kind: KindTransport, Op: op, URL: url, StatusCode: statusCode, Err: err}
}

// NewMetadataError wraps err as a METADATA_ERROR.
func NewMetadataError(op, url string, err error) *Error {
	return &Error{Kind: KindMetadata, Op: op, URL: url, Err: err}
}

// NewIntegrityError wraps err as an INTEGRITY_ERROR.
func NewIntegrityError(op string, err error) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Err: err}
}

// NewConfigurationError wraps err as a CONFIGURATION_ERROR.
func NewConfigurationError(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ShortTransferError reports a stream that ended before the declared number
// of bytes arrived.
type ShortTransferError struct {
	Expected    int64
	Transferred int64
}

func (e *ShortTransferError) Error() string {
	return fmt.Sprintf("stream ended after %d of %d declared bytes", e.Transferred, e.Expected)
}

func (e *ShortTransferError) Is(target error) bool {
	if target == ErrShortTransfer {
		return true
	}
	_, ok := target.(*ShortTransferError)
	return ok
}

// ChecksumMismatchError carries both digests of a failed comparison.
type ChecksumMismatchError struct {
	Algorithm string
	Local     string
	Remote    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s checksum error; remote: %s, local: %s", e.Algorithm, orNone(e.Remote), orNone(e.Local))
}

func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
