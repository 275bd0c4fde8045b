package apperr

import "errors"

// Kind classifies an error into the categories the UI cares about.
type Kind int

const (
	KindUnclassified Kind = iota
	KindAuthorizationDenied
	KindAlreadyVoted
	KindPollInactive
	KindOptionNotFound
	KindTransportFailure
	KindValidationFailure
)

func (k Kind) String() string {
	switch k {
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindAlreadyVoted:
		return "already_voted"
	case KindPollInactive:
		return "poll_inactive"
	case KindOptionNotFound:
		return "option_not_found"
	case KindTransportFailure:
		return "transport_failure"
	case KindValidationFailure:
		return "validation_failure"
	default:
		return "unclassified"
	}
}

type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Err     error  `json:"-"`
	kind    Kind
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AppError) Kind() Kind {
	if e == nil {
		return KindUnclassified
	}
	return e.kind
}

func AuthorizationDenied(msg string, err error) *AppError {
	return newAppError("authorization_denied", msg, err, KindAuthorizationDenied)
}

func AlreadyVoted(msg string, err error) *AppError {
	return newAppError("already_voted", msg, err, KindAlreadyVoted)
}

func PollInactive(msg string, err error) *AppError {
	return newAppError("poll_inactive", msg, err, KindPollInactive)
}

func OptionNotFound(msg string, err error) *AppError {
	return newAppError("option_not_found", msg, err, KindOptionNotFound)
}

func Transport(msg string, err error) *AppError {
	return newAppError("transport_failure", msg, err, KindTransportFailure)
}

func Validation(msg string, err error) *AppError {
	return newAppError("validation_failure", msg, err, KindValidationFailure)
}

func Unclassified(msg string, err error) *AppError {
	return newAppError("unclassified", msg, err, KindUnclassified)
}

// FromError returns err as an *AppError, wrapping anything unknown as
// unclassified so callers always have a kind to switch on.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Unclassified(err.Error(), err)
}

// KindOf is a convenience for classifying arbitrary errors.
func KindOf(err error) Kind {
	return FromError(err).Kind()
}

func newAppError(code, msg string, err error, kind Kind) *AppError {
	return &AppError{
		Code:    code,
		Message: msg,
		Err:     err,
		kind:    kind,
	}
}
