package payment

import (
	"context"
	"fmt"
	"strings"
)

// Simulator — детерминированный провайдер для окружений без ключей.
// Ссылка ведёт на <baseURL>/checkout/<code>, статус всегда PENDING, отмена ничего не делает.
type Simulator struct {
	name    string
	baseURL string
}

// NewSimulator создаёт симулятор провайдера name.
func NewSimulator(name, baseURL string) *Simulator {
	return &Simulator{name: name, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Simulator) Name() string { return s.name + "-simulation" }

func (s *Simulator) CreateLink(_ context.Context, req LinkRequest) (*Link, error) {
	return &Link{
		CheckoutURL: fmt.Sprintf("%s/checkout/%d", s.baseURL, req.OrderCode),
		OrderCode:   req.OrderCode,
		ProviderRef: fmt.Sprintf("sim_%d", req.OrderCode),
	}, nil
}

func (s *Simulator) CancelLink(context.Context, LinkRef) error { return nil }

func (s *Simulator) GetStatus(context.Context, LinkRef) (*StatusResult, error) {
	return &StatusResult{Status: StatusPending}, nil
}
