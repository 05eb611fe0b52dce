package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var ErrRecordNotFound = errors.New("subscription record not found")

type SubscriptionStatus string

const (
	StatusPending    SubscriptionStatus = "pending"
	StatusSubscribed SubscriptionStatus = "subscribed"
)

// ParseStatus accepts any casing of a known status.
func ParseStatus(s string) (SubscriptionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(StatusPending):
		return StatusPending, nil
	case string(StatusSubscribed):
		return StatusSubscribed, nil
	}
	return "", &ValidationError{Field: "subscription_status", Reason: fmt.Sprintf("unknown status %q", s)}
}

func (s SubscriptionStatus) Is(other SubscriptionStatus) bool {
	return strings.EqualFold(string(s), string(other))
}

func (s *SubscriptionStatus) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*s = SubscriptionStatus(v)
	case []byte:
		*s = SubscriptionStatus(v)
	case nil:
		*s = ""
	default:
		return fmt.Errorf("cannot scan %T into SubscriptionStatus", src)
	}
	return nil
}

func (s SubscriptionStatus) Value() (driver.Value, error) {
	return string(s), nil
}

type SubscriptionRecord struct {
	CountryCode        string             `json:"country_code" db:"country_code"`
	IdentificationCode string             `json:"identification_code" db:"identification_code"`
	SubscriberNumber   string             `json:"subscriber_number" db:"subscriber_number"`
	E164Format         string             `json:"e164_format" db:"e164_format"`
	ConfirmationCode   string             `json:"confirmation_code,omitempty" db:"confirmation_code"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`
}

func NewSubscriptionRecord(parts PhoneParts, status SubscriptionStatus) *SubscriptionRecord {
	return &SubscriptionRecord{
		CountryCode:        parts.CountryCode,
		IdentificationCode: parts.IdentificationCode,
		SubscriberNumber:   parts.SubscriberNumber,
		E164Format:         parts.E164(),
		ConfirmationCode:   NewConfirmationCode(),
		SubscriptionStatus: status,
	}
}

// NewConfirmationCode returns a 32 character alphanumeric token.
func NewConfirmationCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (r *SubscriptionRecord) Parts() PhoneParts {
	return PhoneParts{
		CountryCode:        r.CountryCode,
		IdentificationCode: r.IdentificationCode,
		SubscriberNumber:   r.SubscriberNumber,
	}
}

var (
	countryCodePattern        = regexp.MustCompile(`^\d{1,3}$`)
	identificationCodePattern = regexp.MustCompile(`^\d{1,4}$`)
	subscriberNumberPattern   = regexp.MustCompile(`^\d{1,11}$`)
	e164Pattern               = regexp.MustCompile(`^\+\d{3,15}$`)
	confirmationCodePattern   = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

const maxConfirmationCodeLength = 255

// ValidateRecord checks field shapes and that the decomposed parts
// concatenate to the canonical number. The status is normalised in place.
func ValidateRecord(r *SubscriptionRecord) error {
	if r == nil {
		return &ValidationError{Field: "phoneRecord", Reason: "missing"}
	}
	if !countryCodePattern.MatchString(r.CountryCode) || r.CountryCode == "0" {
		return &ValidationError{Field: "country_code", Reason: fmt.Sprintf("invalid value %q", r.CountryCode)}
	}
	if !identificationCodePattern.MatchString(r.IdentificationCode) {
		return &ValidationError{Field: "identification_code", Reason: fmt.Sprintf("invalid value %q", r.IdentificationCode)}
	}
	if !subscriberNumberPattern.MatchString(r.SubscriberNumber) {
		return &ValidationError{Field: "subscriber_number", Reason: fmt.Sprintf("invalid value %q", r.SubscriberNumber)}
	}
	if !e164Pattern.MatchString(r.E164Format) {
		return &ValidationError{Field: "e164_format", Reason: fmt.Sprintf("invalid value %q", r.E164Format)}
	}
	if composed := r.Parts().E164(); composed != r.E164Format {
		return &ValidationError{Field: "e164_format", Reason: fmt.Sprintf("%q does not match parts %q", r.E164Format, composed)}
	}
	if r.ConfirmationCode != "" {
		if len(r.ConfirmationCode) > maxConfirmationCodeLength || !confirmationCodePattern.MatchString(r.ConfirmationCode) {
			return &ValidationError{Field: "confirmation_code", Reason: "must be alphanumeric and at most 255 characters"}
		}
	}
	if r.SubscriptionStatus != "" {
		status, err := ParseStatus(string(r.SubscriptionStatus))
		if err != nil {
			return err
		}
		r.SubscriptionStatus = status
	}
	return nil
}
