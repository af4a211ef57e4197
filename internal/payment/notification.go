package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/gateway"
)

const NotificationTypePayment = "payment"

var ErrMalformedNotification = errors.New("malformed webhook notification")

type NotificationData struct {
	ID gateway.ID `json:"id"`
}

// Notification is the webhook body the provider posts.
type Notification struct {
	Type   string           `json:"type"`
	Action string           `json:"action,omitempty"`
	Data   NotificationData `json:"data"`
}

func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return &n, nil
}

func (n *Notification) PaymentID() string {
	return n.Data.ID.String()
}

func (n *Notification) IsPayment() bool {
	return n.Type == NotificationTypePayment && n.Data.ID != ""
}
