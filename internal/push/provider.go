// Package push delivers mobile push notifications through a pluggable
// provider so business logic never depends on a vendor SDK directly.
package push

import (
	"context"
	"strings"
)

// Message is a provider-agnostic push payload.
type Message struct {
	Title    string
	Body     string
	ImageURL string
	// Kind selects the client-side notification channel, one of "alert",
	// "update" or "promo". Unknown kinds fall back to the update channel.
	Kind string
	Data map[string]string
}

// Outcome reports the per-token result of a multicast send.
type Outcome struct {
	Token string
	Err   error
}

// OK reports whether the token received the message.
func (o Outcome) OK() bool { return o.Err == nil }

// Provider sends one message to many device tokens. Implementations must
// return one Outcome per input token, in input order.
type Provider interface {
	SendMulticast(ctx context.Context, msg Message, tokens []string) ([]Outcome, error)
}

// ErrorClassifier decides whether a per-token delivery error is permanent,
// meaning the token will never work again and should be unbound from its
// device. Transient failures (throttling, outages) must return false.
type ErrorClassifier func(err error) bool

// Notification kinds understood by mobile clients.
const (
	KindAlert  = "alert"
	KindUpdate = "update"
	KindPromo  = "promo"
)

// Android channel ids registered by the mobile apps.
const (
	channelAlerts     = "skillup_alerts"
	channelUpdates    = "skillup_updates"
	channelPromotions = "skillup_promotions"
)

// ChannelFor maps a notification kind to its Android channel id.
func ChannelFor(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindAlert:
		return channelAlerts
	case KindPromo:
		return channelPromotions
	default:
		return channelUpdates
	}
}
