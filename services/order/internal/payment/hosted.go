package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/storefront-orders/pkg/circuitbreaker"
)

// HostedConfig — доступ к провайдеру платёжных ссылок.
type HostedConfig struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
	Timeout     time.Duration
}

func (c HostedConfig) hasCredentials() bool {
	return c.ClientID != "" && c.APIKey != "" && c.ChecksumKey != ""
}

// HostedProvider — HTTP провайдер платёжных ссылок (API в стиле PayOS).
// Тело запроса на создание ссылки подписывается HMAC-SHA256 ключом ChecksumKey.
type HostedProvider struct {
	cfg     HostedConfig
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHostedProvider возвращает HTTP провайдера или симулятор, если ключи не заданы.
func NewHostedProvider(cfg HostedConfig, simulationBaseURL string) Provider {
	if !cfg.hasCredentials() {
		return NewSimulator("hosted", simulationBaseURL)
	}
	return newHostedProvider(cfg, &http.Client{Timeout: cfg.Timeout}, circuitbreaker.New("hosted-payment"))
}

func newHostedProvider(cfg HostedConfig, client *http.Client, breaker *circuitbreaker.Breaker) *HostedProvider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HostedProvider{cfg: cfg, client: client, breaker: breaker}
}

func (p *HostedProvider) Name() string { return "hosted" }

type hostedCreateRequest struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ReturnURL   string `json:"returnUrl"`
	CancelURL   string `json:"cancelUrl"`
	Signature   string `json:"signature"`
}

type hostedEnvelope struct {
	Code string          `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

type hostedLinkData struct {
	CheckoutURL   string `json:"checkoutUrl"`
	PaymentLinkID string `json:"paymentLinkId"`
	OrderCode     int64  `json:"orderCode"`
	Status        string `json:"status"`
	Transactions  []struct {
		Reference string `json:"reference"`
	} `json:"transactions"`
}

// hostedCodeOK — код успешного ответа провайдера.
const hostedCodeOK = "00"

func (p *HostedProvider) CreateLink(ctx context.Context, req LinkRequest) (*Link, error) {
	body := hostedCreateRequest{
		OrderCode:   req.OrderCode,
		Amount:      req.Amount.Amount,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
	}
	body.Signature = Sign(p.cfg.ChecksumKey, []byte(fmt.Sprintf(
		"amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		body.Amount, body.CancelURL, body.Description, body.OrderCode, body.ReturnURL,
	)))

	var data hostedLinkData
	if err := p.do(ctx, http.MethodPost, "/v2/payment-requests", body, &data); err != nil {
		return nil, err
	}

	return &Link{
		CheckoutURL: data.CheckoutURL,
		OrderCode:   req.OrderCode,
		ProviderRef: data.PaymentLinkID,
	}, nil
}

func (p *HostedProvider) CancelLink(ctx context.Context, ref LinkRef) error {
	path := fmt.Sprintf("/v2/payment-requests/%d/cancel", ref.OrderCode)
	body := map[string]string{"cancellationReason": "order cancelled"}
	return p.do(ctx, http.MethodPost, path, body, nil)
}

func (p *HostedProvider) GetStatus(ctx context.Context, ref LinkRef) (*StatusResult, error) {
	var data hostedLinkData
	path := fmt.Sprintf("/v2/payment-requests/%d", ref.OrderCode)
	if err := p.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	result := &StatusResult{Status: mapHostedStatus(data.Status)}
	if len(data.Transactions) > 0 {
		result.TransactionID = data.Transactions[0].Reference
	}
	return result, nil
}

func mapHostedStatus(s string) ProviderStatus {
	switch strings.ToUpper(s) {
	case "PAID":
		return StatusPaid
	case "CANCELLED":
		return StatusCancelled
	case "EXPIRED":
		return StatusExpired
	default:
		return StatusPending
	}
}

// do выполняет запрос через circuit breaker. Отказы провайдера (4xx, код != "00")
// не считаются сбоем для breaker'а.
func (p *HostedProvider) do(ctx context.Context, method, path string, in, out any) error {
	_, err := circuitbreaker.Execute(p.breaker, func() (struct{}, error) {
		return struct{}{}, p.roundTrip(ctx, method, path, in, out)
	})
	return err
}

func (p *HostedProvider) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &circuitbreaker.Permanent{Err: fmt.Errorf("ошибка сериализации запроса: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return &circuitbreaker.Permanent{Err: fmt.Errorf("ошибка создания запроса: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", p.cfg.ClientID)
	req.Header.Set("x-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка запроса к провайдеру: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("провайдер вернул %s", resp.Status)
	}

	var env hostedEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("ошибка разбора ответа провайдера: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || env.Code != hostedCodeOK {
		return &circuitbreaker.Permanent{Err: &RejectedError{Provider: p.Name(), Code: env.Code, Message: env.Desc}}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("ошибка разбора данных провайдера: %w", err)
		}
	}
	return nil
}
