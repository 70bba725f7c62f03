// Package audit records key access and signature operations.
//
// Audit records are separate from technical logs:
//   - Audit failure = operation failure
//   - Never log secrets (private keys, PINs, passphrases, digests of secrets)
//   - All timestamps in UTC
//   - Each record is chained to the previous one with SHA-256
package audit

import (
	"encoding/json"
	"errors"
	"os"
	"time"
)

// EventType represents the category of audit event.
type EventType string

const (
	// Key lifecycle events
	EventKeyAccessed   EventType = "KEY_ACCESSED"
	EventKeyImported   EventType = "KEY_IMPORTED"
	EventKeyGenerated  EventType = "KEY_GENERATED"
	EventKeyTranslated EventType = "KEY_TRANSLATED"

	// Signature events
	EventSign   EventType = "SIGN"
	EventVerify EventType = "VERIFY"
)

// Result represents the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// ResultOf maps an operation error to a Result.
func ResultOf(err error) Result {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// Actor represents who performed the action.
type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Host string `json:"host,omitempty"`
}

// Object identifies the key that was acted upon.
type Object struct {
	Type         string `json:"type"` // "key", "container", "public_key"
	Provider     string `json:"provider,omitempty"`
	Name         string `json:"name,omitempty"` // key or container name
	ProviderType uint32 `json:"provider_type,omitempty"`
	Path         string `json:"path,omitempty"`
}

// Context carries the algorithm details of the operation.
type Context struct {
	KeyAlgorithm string `json:"key_algorithm,omitempty"`
	Hash         string `json:"hash,omitempty"`
	Padding      string `json:"padding,omitempty"`
	SaltLength   int    `json:"salt_length,omitempty"`
	Legacy       bool   `json:"legacy,omitempty"`
	NullSigned   bool   `json:"null_signed,omitempty"`
	Verified     bool   `json:"verified,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Event is a single audit record.
type Event struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"` // RFC3339 UTC
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"`
	Hash      string    `json:"hash"`
}

// NewEvent creates an event stamped with the current time and process user.
func NewEvent(eventType EventType, result Result) *Event {
	host, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}

	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor:     Actor{Type: "user", ID: user, Host: host},
		Result:    result,
	}
}

// WithObject sets the object field.
func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

// WithContext sets the context field.
func (e *Event) WithContext(ctx Context) *Event {
	e.Context = ctx
	return e
}

// WithActor overrides the default actor.
func (e *Event) WithActor(actor Actor) *Event {
	e.Actor = actor
	return e
}

// WithError records err as the failure reason.
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Result = ResultFailure
		e.Context.Reason = err.Error()
	}
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	switch {
	case e.EventType == "":
		return errors.New("event_type is required")
	case e.Timestamp == "":
		return errors.New("timestamp is required")
	case e.Actor.Type == "" || e.Actor.ID == "":
		return errors.New("actor type and id are required")
	case e.Result == "":
		return errors.New("result is required")
	}
	return nil
}

// CanonicalJSON returns the event without its own hash, for chaining.
func (e *Event) CanonicalJSON() ([]byte, error) {
	type noHash struct {
		EventType EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
		Actor     Actor     `json:"actor"`
		Object    Object    `json:"object"`
		Context   Context   `json:"context,omitempty"`
		Result    Result    `json:"result"`
		HashPrev  string    `json:"hash_prev"`
	}
	return json.Marshal(noHash{
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Object:    e.Object,
		Context:   e.Context,
		Result:    e.Result,
		HashPrev:  e.HashPrev,
	})
}
