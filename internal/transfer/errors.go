package transfer

import (
	"errors"
	"fmt"

	"github.com/secureera/secureera/internal/seal"
)

var (
	ErrTransportNotReady = errors.New("transport not ready")
	ErrProtocol          = errors.New("protocol violation")
	ErrTransportFailed   = errors.New("transport failed")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidOptions    = errors.New("invalid options")

	// ErrDecrypt is returned when a chunk fails authentication.
	ErrDecrypt = seal.ErrDecrypt
)

type TransferError struct {
	Op      string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	switch {
	case e.File != "" && e.Details != "":
		return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.File, e.Err, e.Details)
	case e.File != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
	case e.Details != "":
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *TransferError {
	return &TransferError{Op: op, Err: err}
}

func NewFileError(op, file string, err error) *TransferError {
	return &TransferError{Op: op, File: file, Err: err}
}

func WrapError(op string, err error, details string) *TransferError {
	return &TransferError{Op: op, Err: err, Details: details}
}

func protocolError(op, file, details string) *TransferError {
	return &TransferError{Op: op, File: file, Err: ErrProtocol, Details: details}
}
