package engine

import (
	"errors"
	"fmt"
)

// Kind classifies why a mutation was rejected. Every rejected mutation rolls
// back its transaction, so a non-nil error means no store was touched.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindBidNotFound        Kind = "bid_not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindInvalidState       Kind = "invalid_state"
	KindInvalidAmount      Kind = "invalid_amount"
	KindInvalidMilestones  Kind = "invalid_milestones"
	KindDuplicateBid       Kind = "duplicate_bid"
	KindDuplicateRating    Kind = "duplicate_rating"
	KindAlreadyRegistered  Kind = "already_registered"
	KindAlreadyFunded      Kind = "already_funded"
	KindAlreadyResolved    Kind = "already_resolved"
	KindInsufficientEscrow Kind = "insufficient_escrow"
	KindNoAgent            Kind = "no_agent"
)

// Error carries a Kind alongside the message so callers can branch with
// errors.As instead of matching strings.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an engine Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf extracts the Kind from err, or "" for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
