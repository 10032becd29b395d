package config

import (
	"os"
	"sync"
)

type PayoutConfig struct {
	// URL of the payout gateway. Empty means payouts are simulated.
	URL    string
	APIKey string
}

var (
	payoutConfig *PayoutConfig
	payoutOnce   sync.Once
)

func LoadPayoutConfig() *PayoutConfig {
	payoutOnce.Do(func() {
		payoutConfig = &PayoutConfig{
			URL:    os.Getenv("PAYOUT_URL"),
			APIKey: os.Getenv("PAYOUT_API_KEY"),
		}
	})
	return payoutConfig
}
