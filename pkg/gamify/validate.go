package gamify

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// MaxBatchSize is the largest number of events accepted by TrackBatch.
const MaxBatchSize = 100

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func requireField(field, value string) *Error {
	if strings.TrimSpace(value) == "" {
		return newInputError(fmt.Sprintf("%s is required", field), FieldError{Field: field, Message: "is required"})
	}
	return nil
}

func validateEmail(email string) *Error {
	if !emailPattern.MatchString(email) {
		return newInputError("invalid email address", FieldError{Field: "email", Message: "must be a valid email address"})
	}
	return nil
}

func validateBatchSize(n int) *Error {
	if n == 0 {
		return newInputError("at least one event is required", FieldError{Field: "events", Message: "must not be empty"})
	}
	if n > MaxBatchSize {
		return newInputError(
			fmt.Sprintf("batch size %d exceeds the maximum of %d", n, MaxBatchSize),
			FieldError{Field: "events", Message: fmt.Sprintf("must contain at most %d events", MaxBatchSize)},
		)
	}
	return nil
}

// pathSegment escapes a caller-supplied identifier for use in a URL path.
func pathSegment(s string) string {
	return url.PathEscape(s)
}
