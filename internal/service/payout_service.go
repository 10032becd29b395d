package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// PayoutService talks to an HTTP payout gateway. The gateway deduplicates transfers on the
// Idempotency-Key header.
type PayoutService struct {
	client *resty.Client
}

func NewPayoutService(cfg *config.PayoutConfig) *PayoutService {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &PayoutService{client: client}
}

func (s *PayoutService) Pay(ctx context.Context, amount int64, payee string, idempotencyKey string) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(map[string]any{
			"amount":   amount,
			"currency": "USD",
			"payee":    payee,
		}).
		Post("/payouts")
	if err != nil {
		return "", fmt.Errorf("payout request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("payout rail returned %d: %s", resp.StatusCode(), gjson.Get(resp.String(), "error").String())
	}

	body := resp.String()
	if status := gjson.Get(body, "status").String(); status == "failed" || status == "rejected" {
		return "", fmt.Errorf("payout %s: %s", status, gjson.Get(body, "reason").String())
	}
	txID := gjson.Get(body, "transaction_id").String()
	if txID == "" {
		return "", fmt.Errorf("payout rail response has no transaction_id")
	}
	return txID, nil
}

// SimulatedPayoutService stands in for a real rail in development. It honours idempotency
// keys the same way a gateway would.
type SimulatedPayoutService struct {
	mu     sync.Mutex
	issued map[string]string
}

func NewSimulatedPayoutService() *SimulatedPayoutService {
	return &SimulatedPayoutService{issued: map[string]string{}}
}

func (s *SimulatedPayoutService) Pay(ctx context.Context, amount int64, payee string, idempotencyKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", fmt.Errorf("invalid payout amount %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.issued[idempotencyKey]; ok {
		return tx, nil
	}
	tx := fmt.Sprintf("TXN_%d_%s", time.Now().Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
	s.issued[idempotencyKey] = tx
	return tx, nil
}
