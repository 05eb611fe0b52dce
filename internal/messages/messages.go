package messages

import (
	"fmt"
	"strings"

	"smsalert/internal/subscription"
)

const ratesNotice = "Msg&Data Rates May Apply."

type Renderer struct {
	Homepage string
	Keywords subscription.Keywords
}

func NewRenderer(homepage string, keywords subscription.Keywords) *Renderer {
	return &Renderer{Homepage: homepage, Keywords: keywords}
}

func (r *Renderer) enter() string {
	return subscription.Primary(r.Keywords.Enter, "ENTER")
}

func (r *Renderer) confirm() string {
	return subscription.Primary(r.Keywords.Confirm, "CONFIRM")
}

func (r *Renderer) exit() string {
	return subscription.Primary(r.Keywords.Exit, "EXIT")
}

// SMS renders the text sent to the phone for a message kind.
func (r *Renderer) SMS(kind subscription.MessageKind) string {
	var text string
	switch kind {
	case subscription.MessageConfirmToSubscribe, subscription.MessagePendingSubscription:
		text = fmt.Sprintf("Reply %s to subscribe. Reply %s to unsubscribe. %s", r.confirm(), r.exit(), ratesNotice)
	case subscription.MessageNowSubscribed, subscription.MessageAlreadySubscribed:
		text = fmt.Sprintf("You have successfully subscribed to messages from this number. Reply %s to unsubscribe. %s", r.exit(), ratesNotice)
	case subscription.MessageReplyEnterToSubscribe:
		text = fmt.Sprintf("Reply %s to subscribe.", r.enter())
	case subscription.MessageUnsubscribed:
		text = fmt.Sprintf("You have successfully been unsubscribed. You will not receive any more messages from this number. Reply %s to resubscribe. %s", r.enter(), ratesNotice)
	case subscription.MessageAlreadyUnsubscribed:
		text = fmt.Sprintf("You are not subscribed to messages from this number. Reply %s to subscribe.", r.enter())
	default:
		text = fmt.Sprintf("Sorry, we did not understand that. Reply %s to subscribe. Reply %s to unsubscribe. %s", r.enter(), r.exit(), ratesNotice)
	}
	return r.withHomepage(text)
}

// Form renders the {message} body returned to the web form.
func (r *Renderer) Form(kind subscription.MessageKind) string {
	switch kind {
	case subscription.MessageConfirmToSubscribe, subscription.MessagePendingSubscription:
		return "Pending subscription."
	case subscription.MessageAlreadySubscribed:
		return "Already subscribed."
	default:
		return "You have successfully subscribed to messages."
	}
}

// Ineligible is the reply to an inbound message from a number that failed
// the carrier check.
func (r *Renderer) Ineligible() string {
	return r.withHomepage("Expected a US mobile phone number.")
}

func (r *Renderer) Failure() string {
	return r.withHomepage(fmt.Sprintf("An unexpected error occurred. Reply %s to subscribe. Reply %s to unsubscribe. %s", r.enter(), r.exit(), ratesNotice))
}

func (r *Renderer) withHomepage(text string) string {
	if strings.TrimSpace(r.Homepage) == "" {
		return text
	}
	return text + "\n\n" + r.Homepage
}
