package llm

import (
	"strconv"
	"strings"
)

// ErrorKind classifies a failed LLM call into the taxonomy the rest of the
// pipeline branches on. Kind, not the concrete error type, drives retry and
// credential-rotation decisions.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRateLimited
	KindCredentialInvalid
	KindTransientRemote
	KindParseError
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindCredentialInvalid:
		return "credential_invalid"
	case KindTransientRemote:
		return "transient_remote"
	case KindParseError:
		return "parse_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether the call loop should attempt another try.
// CredentialInvalid is retryable because the next attempt rotates onto a
// different credential rather than reusing the one that just failed.
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case KindRateLimited, KindTransientRemote, KindCredentialInvalid:
		return true
	default:
		return false
	}
}

// RotatesCredential reports whether this failure should advance C1's
// rotation cursor before the next attempt.
func (k ErrorKind) RotatesCredential() bool {
	switch k {
	case KindRateLimited, KindCredentialInvalid:
		return true
	default:
		return false
	}
}

// Error is the classified wrapper around a raw call failure.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Provider   string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

var rateLimitPatterns = []string{
	"rate limit", "ratelimit", "429", "too many requests", "quota exceeded",
}

var credentialPatterns = []string{
	"invalid key", "invalid api key", "api key", "unauthorized", "401", "403", "forbidden",
}

var transientPatterns = []string{
	"timeout", "deadline exceeded", "connection refused", "connection reset",
	"eof", "unavailable", "502", "503", "504", "529", "bad gateway",
	"internal server error", "500", "overloaded", "temporarily unavailable",
}

// ClassifyError pattern-matches a raw call error into the taxonomy. Status
// codes embedded in the message (e.g. "429: ...") are extracted when a
// structured code isn't otherwise available.
func ClassifyError(err error, provider string) *Error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	switch {
	case matches(msg, rateLimitPatterns):
		return &Error{Kind: KindRateLimited, Message: "rate limited", StatusCode: extractStatusCode(msg), Provider: provider, Cause: err}
	case matches(msg, credentialPatterns):
		return &Error{Kind: KindCredentialInvalid, Message: "credential invalid", StatusCode: extractStatusCode(msg), Provider: provider, Cause: err}
	case matches(msg, transientPatterns):
		return &Error{Kind: KindTransientRemote, Message: "transient remote failure", StatusCode: extractStatusCode(msg), Provider: provider, Cause: err}
	default:
		return &Error{Kind: KindTransientRemote, Message: "unclassified failure treated as transient", Provider: provider, Cause: err}
	}
}

func matches(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func extractStatusCode(msg string) int {
	for _, code := range []string{"429", "401", "403", "500", "502", "503", "504", "529"} {
		if strings.Contains(msg, code) {
			n, _ := strconv.Atoi(code)
			return n
		}
	}
	return 0
}
