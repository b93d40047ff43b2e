// Package classify implements the single pure function that turns a
// source's HTTP-level failure into the structured APIError the rest of the
// agent core reasons about. It is the one place that decides whether an
// error is retryable or reformulable; callers consult the flags only.
package classify

import (
	"strings"
	"time"

	"github.com/basegraphhq/dossier/internal/model"
)

// DefaultRetryAfter is used when a rate_limit error carries no Retry-After
// header of its own.
const DefaultRetryAfter = 30 * time.Second

// QueryOutcome is the minimal shape classify needs from a failed source
// call: either an HTTP response (http_code set) or a transport-level
// failure (http_code zero, err set).
type QueryOutcome struct {
	HTTPCode   int
	RetryAfter time.Duration
	Err        error
}

// Classify maps a source failure to an APIError. HTTP code is the primary
// signal; message-pattern matching is only a fallback for transport errors
// that carry no code at all.
func Classify(outcome QueryOutcome) *model.APIError {
	if outcome.HTTPCode != 0 {
		return classifyByCode(outcome.HTTPCode, outcome.RetryAfter, outcome.Err)
	}
	return classifyByMessage(outcome.Err)
}

func classifyByCode(code int, retryAfter time.Duration, err error) *model.APIError {
	msg := errMessage(err)
	switch {
	case code == 400 || code == 422:
		return &model.APIError{Category: model.CategoryValidation, HTTPCode: code, Message: msg, IsReformulable: true}
	case code == 401 || code == 403:
		return &model.APIError{Category: model.CategoryAuth, HTTPCode: code, Message: msg}
	case code == 404:
		return &model.APIError{Category: model.CategoryNotFound, HTTPCode: code, Message: msg}
	case code == 408 || code == 504:
		return &model.APIError{Category: model.CategoryTimeout, HTTPCode: code, Message: msg, IsRetryable: true}
	case code == 429:
		ra := retryAfter
		if ra <= 0 {
			ra = DefaultRetryAfter
		}
		return &model.APIError{Category: model.CategoryRateLimit, HTTPCode: code, Message: msg, IsRetryable: true, RetryAfter: ra}
	case code == 500 || code == 502 || code == 503:
		return &model.APIError{Category: model.CategoryServer, HTTPCode: code, Message: msg, IsRetryable: true}
	default:
		return &model.APIError{Category: model.CategoryOther, HTTPCode: code, Message: msg}
	}
}

// classifyByMessage is the fallback path for transport failures that never
// reached an HTTP response (DNS, connection refused, client-side timeout).
func classifyByMessage(err error) *model.APIError {
	msg := errMessage(err)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return &model.APIError{Category: model.CategoryTimeout, Message: msg, IsRetryable: true}
	case msg == "":
		return &model.APIError{Category: model.CategoryNetwork, Message: "unknown transport error", IsRetryable: true}
	default:
		return &model.APIError{Category: model.CategoryNetwork, Message: msg, IsRetryable: true}
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
