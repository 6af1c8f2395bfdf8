package certification

import (
	"context"
	"errors"

	"certhub/internal/idcard"
	"certhub/internal/matching"
	"certhub/internal/records"
	"certhub/internal/render"
)

// Kind classifies a failure for the caller.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindNoMatch             Kind = "no_match"
	KindTemplateUnavailable Kind = "template_unavailable"
	KindAssetLoadFailed     Kind = "asset_load_failed"
	KindVerificationFailed  Kind = "verification_failed"
	KindInvalidInput        Kind = "invalid_input"
)

var (
	ErrNotFound            = records.ErrNotFound
	ErrNoMatch             = matching.ErrNoMatch
	ErrTemplateUnavailable = render.ErrTemplateUnavailable
	ErrAssetLoadFailed     = idcard.ErrAssetLoadFailed
	ErrVerificationFailed  = errors.New("verification failed")
	ErrInvalidInput        = errors.New("invalid input")
	ErrPublishingDisabled  = errors.New("artifact publishing is not configured")
)

// Error is what every Service method returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

var defaultMessages = map[Kind]string{
	KindNotFound:            "We could not find a registration for this email. Please use the email you registered with.",
	KindNoMatch:             "Your registration was found, but your team is not listed in any result table. Please contact the organisers.",
	KindTemplateUnavailable: "The certificate template is unavailable right now. Please try again in a few minutes.",
	KindAssetLoadFailed:     "The ID card could not be generated from the uploaded photo. Please try another image.",
	KindVerificationFailed:  "Verification failed due to a network problem. Please try again.",
	KindInvalidInput:        "Please check your input and try again.",
}

const cardTemplateMessage = "The ID card template is unavailable right now. Please try again in a few minutes."

// classify converts any error from the leaf packages into an *Error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindVerificationFailed
	switch {
	case errors.Is(err, ErrInvalidInput):
		kind = KindInvalidInput
	case errors.Is(err, records.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, matching.ErrNoMatch):
		kind = KindNoMatch
	case errors.Is(err, render.ErrTemplateUnavailable), errors.Is(err, render.ErrRenderFailed):
		kind = KindTemplateUnavailable
	case errors.Is(err, idcard.ErrAssetLoadFailed):
		kind = KindAssetLoadFailed
	case errors.Is(err, records.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = KindVerificationFailed
	}
	if kind == KindVerificationFailed && !errors.Is(err, ErrVerificationFailed) {
		err = errors.Join(ErrVerificationFailed, err)
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOf(classify(err))
}

// UserMessage is the human-readable text for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return defaultMessages[KindOf(err)]
}

func invalid(msg string) error {
	return &Error{Kind: KindInvalidInput, Message: msg, Err: ErrInvalidInput}
}
