package config

import (
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

type EscrowConfig struct {
	PlatformFeeRate decimal.Decimal
	// DefaultReward is used when the referral carries no reward amount, in cents.
	DefaultReward int64
	// AnalysisThreshold is the evidence count at which an analysis runs automatically.
	AnalysisThreshold int
}

var (
	escrowConfig *EscrowConfig
	escrowOnce   sync.Once
)

func LoadEscrowConfig() *EscrowConfig {
	escrowOnce.Do(func() {
		rate := decimal.NewFromFloat(0.10)
		if raw := os.Getenv("PLATFORM_FEE_RATE"); raw != "" {
			r, err := decimal.NewFromString(raw)
			if err != nil || r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
				log.Printf("Warning: invalid PLATFORM_FEE_RATE %q, using %s", raw, rate)
			} else {
				rate = r
			}
		}
		escrowConfig = &EscrowConfig{
			PlatformFeeRate:   rate,
			DefaultReward:     envInt64("DEFAULT_REWARD_CENTS", 0),
			AnalysisThreshold: int(envInt64("EVIDENCE_ANALYSIS_THRESHOLD", 2)),
		}
	})
	return escrowConfig
}

func envInt64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("Warning: invalid %s %q, using %d", key, raw, def)
		return def
	}
	return n
}
