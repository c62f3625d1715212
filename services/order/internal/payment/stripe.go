package payment

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"

	"example.com/storefront-orders/pkg/circuitbreaker"
)

// sessionAPI — методы Stripe Checkout Sessions, которые использует провайдер.
type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
}

// StripeConfig — оплата картой через Stripe Checkout.
type StripeConfig struct {
	SecretKey string
	Currency  string // используется, если у суммы не задана валюта
	Timeout   time.Duration
}

// StripeProvider создаёт Checkout Session на сумму заказа.
// ProviderRef — id сессии, код корреляции хранится в metadata.
type StripeProvider struct {
	sessions sessionAPI
	currency string
	timeout  time.Duration
	breaker  *circuitbreaker.Breaker
}

// NewStripeProvider возвращает Stripe провайдера или симулятор, если ключ не задан.
func NewStripeProvider(cfg StripeConfig, simulationBaseURL string) Provider {
	if cfg.SecretKey == "" {
		return NewSimulator("stripe", simulationBaseURL)
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	})
	client := &session.Client{B: backend, Key: cfg.SecretKey}
	return newStripeProvider(client, cfg, circuitbreaker.New("stripe"))
}

func newStripeProvider(sessions sessionAPI, cfg StripeConfig, breaker *circuitbreaker.Breaker) *StripeProvider {
	return &StripeProvider{
		sessions: sessions,
		currency: strings.ToLower(cfg.Currency),
		timeout:  cfg.Timeout,
		breaker:  breaker,
	}
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) CreateLink(ctx context.Context, req LinkRequest) (*Link, error) {
	currency := p.currency
	if req.Amount.Currency != "" {
		currency = strings.ToLower(req.Amount.Currency)
	}
	code := strconv.FormatInt(req.OrderCode, 10)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.ReturnURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(req.Amount.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": req.OrderID, "order_code": code},
		},
	}
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("order_code", code)
	params.Context = ctx

	s, err := circuitbreaker.Execute(p.breaker, func() (*stripe.CheckoutSession, error) {
		return classifyStripe(p.sessions.New(params))
	})
	if err != nil {
		return nil, err
	}

	return &Link{CheckoutURL: s.URL, OrderCode: req.OrderCode, ProviderRef: s.ID}, nil
}

func (p *StripeProvider) CancelLink(ctx context.Context, ref LinkRef) error {
	if ref.ProviderRef == "" {
		return nil
	}

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	_, err := circuitbreaker.Execute(p.breaker, func() (*stripe.CheckoutSession, error) {
		return classifyStripe(p.sessions.Expire(ref.ProviderRef, params))
	})
	return err
}

func (p *StripeProvider) GetStatus(ctx context.Context, ref LinkRef) (*StatusResult, error) {
	if ref.ProviderRef == "" {
		return &StatusResult{Status: StatusPending}, nil
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := circuitbreaker.Execute(p.breaker, func() (*stripe.CheckoutSession, error) {
		return classifyStripe(p.sessions.Get(ref.ProviderRef, params))
	})
	if err != nil {
		return nil, err
	}

	result := &StatusResult{Status: mapStripeSession(s)}
	if s.PaymentIntent != nil {
		result.TransactionID = s.PaymentIntent.ID
	}
	return result, nil
}

func mapStripeSession(s *stripe.CheckoutSession) ProviderStatus {
	switch s.Status {
	case stripe.CheckoutSessionStatusComplete:
		if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			return StatusPaid
		}
		return StatusPending
	case stripe.CheckoutSessionStatusExpired:
		return StatusExpired
	default:
		return StatusPending
	}
}

// classifyStripe помечает клиентские ошибки Stripe (4xx) как отказ, не влияющий на breaker.
func classifyStripe(s *stripe.CheckoutSession, err error) (*stripe.CheckoutSession, error) {
	if err == nil {
		return s, nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
		return nil, &circuitbreaker.Permanent{Err: &RejectedError{
			Provider: "stripe",
			Code:     string(stripeErr.Code),
			Message:  stripeErr.Msg,
		}}
	}
	return nil, err
}
