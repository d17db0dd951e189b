package governance

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedToken  = errors.New("governance: malformed signature token")
	ErrDuplicateID     = errors.New("governance: duplicate id")
	ErrNotFound        = errors.New("governance: id not found")
	ErrTooFewSigners   = errors.New("governance: not enough signatures supplied")
	ErrTooManySigners  = errors.New("governance: too many signatures supplied")
	ErrBadSignatures   = errors.New("governance: signature verification failed")
	ErrSyncInProgress  = errors.New("governance: wait for block chain download to finish")
	ErrSubmitFailed    = errors.New("governance: chain rejected governance message")
	ErrUnknownParam    = errors.New("governance: unknown dynamic parameter")
	ErrInvalidParam    = errors.New("governance: invalid dynamic parameter value")
	ErrInvalidPubKey   = errors.New("governance: invalid public key")
	ErrEmptyProposal   = errors.New("governance: proposal carries no payload")
	ErrInvalidState    = errors.New("governance: invalid message state")
	ErrNotConfigured   = errors.New("governance: engine not configured")
	ErrNilMessage      = errors.New("governance: nil message")
	ErrUnknownChangeOp = errors.New("governance: unknown change operation")
)

// Reason classifies why a message did not reach the chain. Reasons are
// recorded on outcomes and exported as metric labels.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonBadSignatures  Reason = "BadSignatures"
	ReasonSyncInProgress Reason = "SyncInProgress"
	ReasonSubmitFailed   Reason = "SubmitFailed"
)

func (r Reason) sentinel() error {
	switch r {
	case ReasonBadSignatures:
		return ErrBadSignatures
	case ReasonSyncInProgress:
		return ErrSyncInProgress
	case ReasonSubmitFailed:
		return ErrSubmitFailed
	default:
		return nil
	}
}

// RejectionError reports a Rejected or Blocked outcome. It matches the
// reason's sentinel under errors.Is and unwraps to the collaborator error
// when one caused the rejection.
type RejectionError struct {
	Reason Reason
	Hash   Hash
	Cause  error
}

func (e *RejectionError) Error() string {
	base := e.Reason.sentinel()
	msg := "governance: message rejected"
	if base != nil {
		msg = base.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %v", msg, e.Hash.Hex(), e.Cause)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Hash.Hex())
}

func (e *RejectionError) Is(target error) bool {
	return target != nil && target == e.Reason.sentinel()
}

func (e *RejectionError) Unwrap() error { return e.Cause }

// IsRejection checks whether err is a RejectionError and returns it.
func IsRejection(err error) (*RejectionError, bool) {
	var r *RejectionError
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
