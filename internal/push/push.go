package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"okolitsa/internal/models"
)

type SubscriptionStore interface {
	GetPushSubscription(identity string) (models.PushSubscription, error)
	DeletePushSubscription(identity string) error
}

// WebPush delivers events to offline identities through the Web Push
// protocol using VAPID keys. It satisfies dispatch.PushSender.
type WebPush struct {
	store      SubscriptionStore
	publicKey  string
	privateKey string
	subject    string
}

func NewWebPush(store SubscriptionStore, publicKey, privateKey, subject string) *WebPush {
	return &WebPush{
		store:      store,
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
	}
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Send pushes the event to the identity's registered endpoint. An
// identity without a subscription is not an error. Expired endpoints
// are dropped from the store.
func (w *WebPush) Send(identity, event string, payload any) error {
	sub, err := w.store.GetPushSubscription(identity)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	body, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	resp, err := webpush.SendNotification(body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  w.publicKey,
		VAPIDPrivateKey: w.privateKey,
		Subscriber:      w.subject,
		TTL:             3600,
	})
	if err != nil {
		return fmt.Errorf("push send failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		// The endpoint no longer exists on the push service.
		_ = w.store.DeletePushSubscription(identity)
	}

	return nil
}
