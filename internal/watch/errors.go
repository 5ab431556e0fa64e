package watch

import (
	"errors"
	"fmt"
)

var (
	ErrStopped       = errors.New("watch engine stopped")
	ErrUnknownTarget = errors.New("no live lease for target")
	ErrBusy          = errors.New("fetch cycle already in flight")
	ErrNoFeature     = errors.New("no feature registered for kind")

	// ErrProviderFailed is returned by Reconcile when listing failed for at
	// least one kind. The pass still applied every other kind.
	ErrProviderFailed = errors.New("target provider failed")
)

// FetchError reports that a Source could not produce a fact
// (unreachable upstream or malformed response).
type FetchError struct {
	Key Key
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Key, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// DeliverReason classifies delivery failures.
type DeliverReason string

const (
	ReasonForbidden DeliverReason = "forbidden"
	ReasonNotFound  DeliverReason = "not_found"
	ReasonTransport DeliverReason = "transport"
)

// DeliverError reports that a Notifier failed to deliver a fact.
type DeliverError struct {
	Key    Key
	Reason DeliverReason
	Err    error
}

func (e *DeliverError) Error() string {
	return fmt.Sprintf("deliver %s (%s): %v", e.Key, e.Reason, e.Err)
}
func (e *DeliverError) Unwrap() error { return e.Err }

// ConfigError reports a malformed target configuration. The target is left
// out of the desired set until it is corrected.
type ConfigError struct {
	Key   Key
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config %s: %s", e.Key, e.Msg)
	}
	return fmt.Sprintf("config %s: %s: %s", e.Key, e.Field, e.Msg)
}

// AsDeliverError wraps err as a DeliverError unless it already is one.
func AsDeliverError(key Key, reason DeliverReason, err error) error {
	if err == nil {
		return nil
	}
	var de *DeliverError
	if errors.As(err, &de) {
		return err
	}
	return &DeliverError{Key: key, Reason: reason, Err: err}
}

// ValidateTarget returns a ConfigError when t cannot be scheduled.
func ValidateTarget(t Target) error {
	switch {
	case t.TenantID == "":
		return &ConfigError{Key: t.Key, Field: "tenant_id", Msg: "required"}
	case !t.Kind.Valid():
		return &ConfigError{Key: t.Key, Field: "kind", Msg: "unknown feature kind"}
	case t.EntityKey == "":
		return &ConfigError{Key: t.Key, Field: "entity_key", Msg: "required"}
	case t.Interval <= 0:
		return &ConfigError{Key: t.Key, Field: "interval", Msg: "must be > 0"}
	case t.Destination.IsZero():
		return &ConfigError{Key: t.Key, Field: "destination", Msg: "channel or user required"}
	}
	return nil
}
