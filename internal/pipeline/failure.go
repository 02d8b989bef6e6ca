package pipeline

import "fmt"

type FailureKind string

const (
	KindInvalidRequest        FailureKind = "invalid_request"
	KindTranslationFailure    FailureKind = "translation_failure"
	KindValidationRejection   FailureKind = "validation_rejection"
	KindExecutionFailure      FailureKind = "execution_failure"
	KindInterpretationFailure FailureKind = "interpretation_failure"
	KindDeadlineExceeded      FailureKind = "deadline_exceeded"
	KindCanceled              FailureKind = "canceled"
)

// Failure is the structured cause carried by the Failed state. Reason is safe
// to show to the asker; Err holds the underlying error, if any.
type Failure struct {
	Stage  State       `json:"stage"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
	Err    error       `json:"-"`
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s failed (%s): %s", f.Stage, f.Kind, f.Reason)
	}
	return fmt.Sprintf("%s failed (%s): %s: %v", f.Stage, f.Kind, f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether asking again may succeed without changing the
// question.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case KindTranslationFailure, KindInterpretationFailure, KindDeadlineExceeded:
		return true
	default:
		return false
	}
}
