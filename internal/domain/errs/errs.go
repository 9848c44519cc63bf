// Package errs defines the error-kind taxonomy the core pipeline classifies
// every failure into (spec.md §7), so the scheduler, poller, match engine
// and dispatcher can decide retry/quarantine/skip behavior by kind rather
// than by string-matching messages. Wrapping at package boundaries uses
// go-faster/errors, the same library the teacher's auth and session-storage
// code wraps with; callers should prefer errors.Is/errors.As over
// comparing Kind directly, since a Kind value can be wrapped deeper in a
// chain returned from a lower layer.
package errs

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies a pipeline error for the purpose of deciding what to do
// next, independent of the human-readable message attached to it.
type Kind int

const (
	// KindUnknown is the zero value; never wrap anything with it on
	// purpose, it means the kind was never assigned.
	KindUnknown Kind = iota

	// KindTransientSource covers network errors, 5xx and 429 from the
	// forum source: the poller backs off and retries, the cursor is not
	// advanced.
	KindTransientSource

	// KindPermanentSource covers 404/403 on a monitored subreddit: the
	// subreddit is quarantined, no further poll attempts are made for it.
	KindPermanentSource

	// KindContentMalformed marks a single content item that failed to
	// parse or normalize: that item is skipped and logged, the rest of
	// the batch proceeds.
	KindContentMalformed

	// KindMatcherInvariant marks a failure to load or interpret the
	// keyword configuration the Match Engine evaluates. A malformed
	// (tenant, keyword) pair is logged and skipped for the cycle and the
	// cycle does not abort; no quarantine flag is recorded for the pair.
	KindMatcherInvariant

	// KindWebhookDelivery marks a Discord webhook call that failed; after
	// the dispatcher's retry budget is spent the match is marked failed
	// and a fallback is enqueued.
	KindWebhookDelivery

	// KindStoreConflict marks a unique-constraint violation on an
	// idempotent write (content or match already recorded): callers
	// should treat this as success, not failure.
	KindStoreConflict
)

func (k Kind) String() string {
	switch k {
	case KindTransientSource:
		return "transient_source"
	case KindPermanentSource:
		return "permanent_source"
	case KindContentMalformed:
		return "content_malformed"
	case KindMatcherInvariant:
		return "matcher_invariant"
	case KindWebhookDelivery:
		return "webhook_delivery"
	case KindStoreConflict:
		return "store_conflict"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and enough context to log and
// route it, without losing the original error for errors.Is/errors.As
// chains further up the stack.
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a Kind, the operation that observed it (e.g.
// "poller.fetch"), and an optional subject identifying what it happened to
// (a subreddit name, a tenant ID, a keyword ID). err may be nil only if the
// caller intends to construct a sentinel-like value for errors.Is matching;
// in the normal case err is always the underlying cause.
func New(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Wrap is New with go-faster/errors.Wrap applied to err first, so the
// returned error's message carries both the taxonomy classification and a
// stack-aware wrap chain for logging.
func Wrap(kind Kind, op, subject string, err error, msg string) *Error {
	return New(kind, op, subject, errors.Wrap(err, msg))
}

// Is reports whether err is (or wraps) an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind from err, returning KindUnknown if err does not
// wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return KindUnknown
	}
	return e.Kind
}
