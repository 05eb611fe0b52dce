package models

import "fmt"

// ValidationError is a malformed phone number or record. Nothing has been
// persisted when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

const (
	CheckCaptcha = "captcha"
	CheckCarrier = "carrier"
)

// VerificationError is a failed CAPTCHA or carrier check. Err is set when
// the collaborator itself failed rather than rejecting the input.
type VerificationError struct {
	Check  string
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s verification failed: %v", e.Check, e.Err)
	}
	return fmt.Sprintf("%s verification failed: %s", e.Check, e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Err }

type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// DeliveryError is only ever logged; it never rolls back a transition.
type DeliveryError struct {
	To  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver message to %s: %v", e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
