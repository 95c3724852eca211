package push

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// fcmBatchLimit is the maximum token count FCM accepts per multicast call.
const fcmBatchLimit = 500

// FCMProvider delivers messages through Firebase Cloud Messaging.
type FCMProvider struct {
	client *messaging.Client
}

var _ Provider = (*FCMProvider)(nil)

// NewFCMProvider initialises the Firebase app from a service account file and
// returns a provider bound to its messaging client.
func NewFCMProvider(ctx context.Context, credentialsFile string) (*FCMProvider, error) {
	if strings.TrimSpace(credentialsFile) == "" {
		return nil, errors.New("push: credentials file is required")
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("push: init firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("push: init messaging client: %w", err)
	}

	return &FCMProvider{client: client}, nil
}

// SendMulticast fans the message out to every token, batching to the FCM
// multicast limit. The returned outcomes align with the input token order.
func (p *FCMProvider) SendMulticast(ctx context.Context, msg Message, tokens []string) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(tokens))

	for start := 0; start < len(tokens); start += fcmBatchLimit {
		end := start + fcmBatchLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]

		resp, err := p.client.SendEachForMulticast(ctx, p.buildMulticast(msg, batch))
		if err != nil {
			return nil, fmt.Errorf("push: send multicast: %w", err)
		}

		for i, r := range resp.Responses {
			outcomes = append(outcomes, Outcome{Token: batch[i], Err: r.Error})
		}
	}

	return outcomes, nil
}

func (p *FCMProvider) buildMulticast(msg Message, tokens []string) *messaging.MulticastMessage {
	notification := &messaging.Notification{
		Title:    msg.Title,
		Body:     msg.Body,
		ImageURL: msg.ImageURL,
	}

	return &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: notification,
		Data:         msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: ChannelFor(msg.Kind),
				ImageURL:  msg.ImageURL,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
}

// IsPermanentTokenError reports whether a delivery error means the token is
// gone for good. FCM signals this for unregistered and malformed registration
// tokens; everything else is treated as transient.
func IsPermanentTokenError(err error) bool {
	if err == nil {
		return false
	}
	if messaging.IsRegistrationTokenNotRegistered(err) {
		return true
	}

	text := strings.ToLower(err.Error())
	return strings.Contains(text, "registration-token-not-registered") ||
		strings.Contains(text, "invalid-registration-token") ||
		strings.Contains(text, "unregistered")
}
