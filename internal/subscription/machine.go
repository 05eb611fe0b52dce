// Package subscription holds the per-number lifecycle decisions. It keeps no
// state of its own; callers pass the stored status in and apply the result.
package subscription

import "smsalert/internal/models"

type Status int

const (
	StatusAbsent Status = iota
	StatusPending
	StatusSubscribed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSubscribed:
		return "subscribed"
	default:
		return "absent"
	}
}

// StatusOf maps a stored record (nil when absent) onto a machine state.
func StatusOf(record *models.SubscriptionRecord) Status {
	if record == nil {
		return StatusAbsent
	}
	if record.SubscriptionStatus.Is(models.StatusSubscribed) {
		return StatusSubscribed
	}
	return StatusPending
}

// Stored returns the persisted form of a non-absent state.
func (s Status) Stored() models.SubscriptionStatus {
	if s == StatusSubscribed {
		return models.StatusSubscribed
	}
	return models.StatusPending
}

type Event int

const (
	EventUnrecognized Event = iota
	EventNewSubmission
	EventInboundEnter
	EventInboundConfirm
	EventInboundExit
)

func (e Event) String() string {
	switch e {
	case EventNewSubmission:
		return "new_submission"
	case EventInboundEnter:
		return "inbound_enter"
	case EventInboundConfirm:
		return "inbound_confirm"
	case EventInboundExit:
		return "inbound_exit"
	default:
		return "unrecognized"
	}
}

type MessageKind string

const (
	MessageConfirmToSubscribe    MessageKind = "confirm-to-subscribe"
	MessageNowSubscribed         MessageKind = "now-subscribed"
	MessageReplyEnterToSubscribe MessageKind = "reply-enter-to-subscribe"
	MessageAlreadyUnsubscribed   MessageKind = "already-unsubscribed"
	MessagePendingSubscription   MessageKind = "pending-subscription"
	MessageAlreadySubscribed     MessageKind = "already-subscribed"
	MessageUnsubscribed          MessageKind = "unsubscribed"
	MessageUnrecognized          MessageKind = "unrecognized"
)

type Transition struct {
	Next    Status
	Message MessageKind
}

// Decide is total over every (status, event) pair.
func Decide(current Status, event Event) Transition {
	switch event {
	case EventNewSubmission:
		switch current {
		case StatusAbsent:
			return Transition{Next: StatusPending, Message: MessageConfirmToSubscribe}
		case StatusPending:
			return Transition{Next: StatusPending, Message: MessagePendingSubscription}
		default:
			return Transition{Next: StatusSubscribed, Message: MessageAlreadySubscribed}
		}
	case EventInboundEnter:
		return Transition{Next: StatusSubscribed, Message: MessageNowSubscribed}
	case EventInboundConfirm:
		if current == StatusAbsent {
			return Transition{Next: StatusAbsent, Message: MessageReplyEnterToSubscribe}
		}
		return Transition{Next: StatusSubscribed, Message: MessageNowSubscribed}
	case EventInboundExit:
		if current == StatusAbsent {
			return Transition{Next: StatusAbsent, Message: MessageAlreadyUnsubscribed}
		}
		return Transition{Next: StatusAbsent, Message: MessageUnsubscribed}
	}
	return Transition{Next: current, Message: MessageUnrecognized}
}

type Mutation int

const (
	MutationNone Mutation = iota
	MutationCreate
	MutationSetStatus
	MutationDelete
)

func (m Mutation) String() string {
	switch m {
	case MutationCreate:
		return "create"
	case MutationSetStatus:
		return "set_status"
	case MutationDelete:
		return "delete"
	default:
		return "none"
	}
}

// Mutation is the store operation that moves current to t.Next.
func (t Transition) Mutation(current Status) Mutation {
	switch {
	case current == t.Next:
		return MutationNone
	case current == StatusAbsent:
		return MutationCreate
	case t.Next == StatusAbsent:
		return MutationDelete
	default:
		return MutationSetStatus
	}
}
