package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSuccess          Outcome = "SUCCESS"
	OutcomeChecksumMismatch Outcome = "CHECKSUM_MISMATCH"
	OutcomeTransportError   Outcome = "TRANSPORT_ERROR"
	OutcomeMetadataError    Outcome = "METADATA_ERROR"
)

// TransferResult describes one completed (or failed) transfer call.
type TransferResult struct {
	ID               string        `json:"id"`
	Direction        Direction     `json:"direction"`
	Address          ObjectAddress `json:"address"`
	RemotePath       string        `json:"remote_path,omitempty"`
	LocalPath        string        `json:"local_path,omitempty"`
	BytesTransferred int64         `json:"bytes_transferred"`
	Elapsed          time.Duration `json:"elapsed"`
	ChecksumType     string        `json:"checksum_type,omitempty"`
	LocalChecksum    string        `json:"local_checksum,omitempty"`
	RemoteChecksum   string        `json:"remote_checksum,omitempty"`
	Outcome          Outcome       `json:"outcome"`
	Error            string        `json:"error,omitempty"`
	CompletedAt      time.Time     `json:"completed_at"`
}

// NewTransferResult starts a result with a fresh ID.
func NewTransferResult(direction Direction) *TransferResult {
	return &TransferResult{
		ID:        uuid.NewString(),
		Direction: direction,
	}
}

// ElapsedMillis reports the copy duration in whole milliseconds.
func (r *TransferResult) ElapsedMillis() int64 {
	return r.Elapsed.Milliseconds()
}

func (r *TransferResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Finish stamps the result with the outcome derived from err and returns err
// unchanged so callers can write `return res, res.Finish(err)`.
func (r *TransferResult) Finish(err error) error {
	r.Outcome = OutcomeFor(err)
	if err != nil {
		r.Error = err.Error()
	}
	r.CompletedAt = time.Now().UTC()
	return err
}

// OutcomeFor maps an error returned by the transfer packages to an Outcome.
// Any integrity failure, including an algorithm that cannot be verified, is a
// mismatch: verification never passes by default.
func OutcomeFor(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrUnsupportedAlgorithm) {
		return OutcomeChecksumMismatch
	}
	switch KindOf(err) {
	case KindIntegrity:
		return OutcomeChecksumMismatch
	case KindMetadata:
		return OutcomeMetadataError
	default:
		return OutcomeTransportError
	}
}

// Recorder persists completed transfer results.
type Recorder interface {
	Record(result *TransferResult) error
}
