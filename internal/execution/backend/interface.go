package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
)

// Submitter commits a bundle of instructions atomically: every instruction
// lands or none does.
type Submitter interface {
	Submit(ctx context.Context, bundle Bundle) (Receipt, error)
}

// Bundle is one submission. Owner pays fees and signs.
type Bundle struct {
	PipelineID   string
	AttemptID    string
	Owner        string
	Instructions []domain.Instruction
}

type Receipt struct {
	ConfirmationID string
}

// Error codes reported by submitters.
const (
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeProgramFailed     = "PROGRAM_FAILED"
	CodeInvalidAccount    = "INVALID_ACCOUNT"
	CodeNetworkError      = "NETWORK_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeInvalidSignature  = "INVALID_SIGNATURE"
)

// SubmissionError is a rejection reported by the backend. Retryability is the
// backend's call. InstructionIndex is -1 when the failing instruction is not
// known.
type SubmissionError struct {
	Code             string
	Message          string
	InstructionIndex int
	Retryable        bool
}

func (e *SubmissionError) Error() string {
	if e.InstructionIndex >= 0 {
		return fmt.Sprintf("%s: %s (instruction %d)", e.Code, e.Message, e.InstructionIndex)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Reject builds a SubmissionError with the retryability implied by code.
func Reject(code, message string, instructionIndex int) *SubmissionError {
	return &SubmissionError{
		Code:             code,
		Message:          message,
		InstructionIndex: instructionIndex,
		Retryable:        code == CodeNetworkError,
	}
}

func AsSubmissionError(err error) (*SubmissionError, bool) {
	var serr *SubmissionError
	if errors.As(err, &serr) {
		return serr, true
	}
	return nil, false
}
