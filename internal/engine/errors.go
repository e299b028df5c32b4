package engine

import (
	"errors"
	"fmt"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/repo"
)

var (
	// ErrNotFound is repo.ErrNotFound so either sentinel matches.
	ErrNotFound             = repo.ErrNotFound
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrFourEyesViolation    = errors.New("four-eyes principle violation")
	ErrAlreadyCompleted     = errors.New("review already completed")
	ErrReviewerMismatch     = errors.New("only the assigned reviewer can submit")
	ErrStructuralValidation = errors.New("structural validation failed")
	ErrAlreadyAssigned      = errors.New("reviewer already assigned")
	ErrInvalidInput         = errors.New("invalid input")
)

// WorkflowError is returned by mutating operations. It unwraps to Kind and,
// when it carries a validation result, also matches the sentinel of every
// error kind in that result.
type WorkflowError struct {
	Op      string
	Kind    error
	Message string
	Result  *domain.ValidationResult
}

func (e *WorkflowError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *WorkflowError) Unwrap() error { return e.Kind }

func (e *WorkflowError) Is(target error) bool {
	if e.Result == nil {
		return false
	}
	for _, k := range e.Result.ErrorKinds {
		if kindError(k) == target {
			return true
		}
	}
	return false
}

func kindError(k domain.ErrorKind) error {
	switch k {
	case domain.KindNotFound:
		return ErrNotFound
	case domain.KindInvalidTransition:
		return ErrInvalidTransition
	case domain.KindUnauthorized:
		return ErrUnauthorized
	case domain.KindFourEyesViolation:
		return ErrFourEyesViolation
	case domain.KindStructuralValidation:
		return ErrStructuralValidation
	}
	return nil
}

func newError(op string, kind error, format string, args ...any) *WorkflowError {
	return &WorkflowError{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}
