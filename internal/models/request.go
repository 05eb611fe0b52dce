package models

// SubscriptionFormRequest is the body posted by the web form. Either
// PhoneRecord or PhoneNumber carries the number; older clients send the
// CAPTCHA token as captchaResponse.
type SubscriptionFormRequest struct {
	PhoneRecord     *SubscriptionRecord `json:"phoneRecord"`
	PhoneNumber     string              `json:"phoneNumber"`
	CaptchaToken    string              `json:"captchaToken"`
	CaptchaResponse string              `json:"captchaResponse"`
}

func (r SubscriptionFormRequest) Token() string {
	if r.CaptchaToken != "" {
		return r.CaptchaToken
	}
	return r.CaptchaResponse
}

type MessageResponse struct {
	Message string `json:"message"`
}
