package payment

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/gateway"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/order"
)

type PreferenceCreator interface {
	CreatePreference(ctx context.Context, req gateway.PreferenceRequest) (*gateway.PreferenceResponse, error)
}

// Preferences opens provider checkout sessions for orders.
type Preferences struct {
	client          PreferenceCreator
	notificationURL string
	backURL         string
}

func NewPreferences(client PreferenceCreator, notificationURL, backURL string) *Preferences {
	return &Preferences{client: client, notificationURL: notificationURL, backURL: backURL}
}

// CreatePreference charges the order total as one consolidated line.
func (p *Preferences) CreatePreference(ctx context.Context, o *order.Order) (*order.Preference, error) {
	req := gateway.PreferenceRequest{
		Items: []gateway.PreferenceItem{{
			ID:          o.OrderNumber,
			Title:       "Order " + o.OrderNumber,
			Quantity:    1,
			UnitPrice:   o.TotalPrice,
			CurrencyID:  o.Currency,
			Description: fmt.Sprintf("%d item(s)", len(o.Items)),
		}},
		Payer: &gateway.PreferencePayer{
			Name:  o.Customer.Name,
			Email: o.Customer.Email,
		},
		ExternalReference: o.ID,
		NotificationURL:   p.notificationURL,
	}

	if p.backURL != "" {
		req.BackURLs = &gateway.BackURLs{
			Success: p.returnURL(o, "success"),
			Pending: p.returnURL(o, "pending"),
			Failure: p.returnURL(o, "failure"),
		}
		req.AutoReturn = ProviderApproved
	}

	resp, err := p.client.CreatePreference(ctx, req)
	if err != nil {
		return nil, err
	}
	return &order.Preference{ID: resp.ID, InitPoint: resp.InitPoint}, nil
}

func (p *Preferences) returnURL(o *order.Order, result string) string {
	q := url.Values{}
	q.Set("order", o.OrderNumber)
	q.Set("result", result)
	return p.backURL + "?" + q.Encode()
}
