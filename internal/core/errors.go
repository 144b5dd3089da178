package core

import "fmt"

// InvalidRequestError reports a missing or malformed subscription field.
// It surfaces to the client as an error envelope and never reaches the store.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// PersistenceError wraps a subscription store failure (unreachable database,
// rejected write).
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("subscription store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ProviderError wraps an upstream provider failure, carrying the provider
// name alongside the cause. The dispatch layer never retries; whatever retry
// policy exists lives inside the adapter.
type ProviderError struct {
	Provider Provider
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
