package models

import (
	"fmt"
	"regexp"
)

type PhoneParts struct {
	CountryCode        string `json:"country_code"`
	IdentificationCode string `json:"identification_code"`
	SubscriberNumber   string `json:"subscriber_number"`
}

func (p PhoneParts) E164() string {
	return "+" + p.CountryCode + p.IdentificationCode + p.SubscriberNumber
}

const nanpCountryCode = "1"

var (
	nationalPattern = regexp.MustCompile(`^\((\d{3})\) (\d{3})-(\d{4})$`)
	nanpE164Pattern = regexp.MustCompile(`^\+1(\d{3})(\d{7})$`)
	areaCodePattern = regexp.MustCompile(`^\d{3}$`)
	localPattern    = regexp.MustCompile(`^\d{7}$`)
)

// ParseNational accepts the form's fixed grouping, e.g. "(415) 123-4567".
func ParseNational(s string) (PhoneParts, error) {
	m := nationalPattern.FindStringSubmatch(s)
	if m == nil {
		return PhoneParts{}, &ValidationError{Field: "phoneNumber", Reason: fmt.Sprintf("%q is not in (NNN) NNN-NNNN format", s)}
	}
	return PhoneParts{
		CountryCode:        nanpCountryCode,
		IdentificationCode: m[1],
		SubscriberNumber:   m[2] + m[3],
	}, nil
}

// ValidateNational checks that parts submitted already split up have the
// same shape ParseNational produces.
func (p PhoneParts) ValidateNational() error {
	if p.CountryCode != nanpCountryCode {
		return &ValidationError{Field: "country_code", Reason: fmt.Sprintf("%q is not %q", p.CountryCode, nanpCountryCode)}
	}
	if !areaCodePattern.MatchString(p.IdentificationCode) {
		return &ValidationError{Field: "identification_code", Reason: fmt.Sprintf("%q is not three digits", p.IdentificationCode)}
	}
	if !localPattern.MatchString(p.SubscriberNumber) {
		return &ValidationError{Field: "subscriber_number", Reason: fmt.Sprintf("%q is not seven digits", p.SubscriberNumber)}
	}
	return nil
}

// DecomposeE164 splits a North American +1NNNNNNNNNN number.
func DecomposeE164(e164 string) (PhoneParts, error) {
	m := nanpE164Pattern.FindStringSubmatch(e164)
	if m == nil {
		return PhoneParts{}, &ValidationError{Field: "e164_format", Reason: fmt.Sprintf("%q is not a +1 ten digit number", e164)}
	}
	return PhoneParts{
		CountryCode:        nanpCountryCode,
		IdentificationCode: m[1],
		SubscriberNumber:   m[2],
	}, nil
}
