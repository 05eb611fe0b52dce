package subscription

import "strings"

type Keywords struct {
	Enter   []string
	Confirm []string
	Exit    []string
}

func DefaultKeywords() Keywords {
	return Keywords{
		Enter:   []string{"ENTER", "START"},
		Confirm: []string{"CONFIRM", "YES"},
		Exit:    []string{"EXIT", "STOP"},
	}
}

// Classify matches the whole trimmed body, ignoring case. Anything else,
// including a keyword inside a longer sentence, is unrecognized.
func (k Keywords) Classify(body string) Event {
	body = strings.TrimSpace(body)
	switch {
	case matchesAny(body, k.Enter):
		return EventInboundEnter
	case matchesAny(body, k.Confirm):
		return EventInboundConfirm
	case matchesAny(body, k.Exit):
		return EventInboundExit
	}
	return EventUnrecognized
}

func matchesAny(body string, words []string) bool {
	for _, w := range words {
		if strings.EqualFold(body, strings.TrimSpace(w)) {
			return true
		}
	}
	return false
}

// Primary returns the keyword shown to users in replies.
func Primary(words []string, fallback string) string {
	if len(words) == 0 || strings.TrimSpace(words[0]) == "" {
		return fallback
	}
	return strings.ToUpper(strings.TrimSpace(words[0]))
}
