package common

import "strings"

// MultiError joins the non-nil errors into one message, one per line.
func MultiError(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return strings.Join(msgs, "\n")
}

type joinedError struct {
	errs []error
}

func (e *joinedError) Error() string {
	return MultiError(e.errs)
}

func (e *joinedError) Unwrap() []error {
	return e.errs
}

// JoinErrors returns nil when every error is nil.
func JoinErrors(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &joinedError{errs: kept}
}
