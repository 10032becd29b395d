package escrow

import (
	"fmt"

	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/shopspring/decimal"
)

var DefaultPlatformFeeRate = decimal.NewFromFloat(0.10)

// Split divides total (in cents) into the platform fee and the referrer's share. The fee is
// rounded half away from zero to whole cents and the referrer gets the exact remainder, so
// the two always add back up to total.
func Split(total int64, rate decimal.Decimal) (fee, referrer int64) {
	fee = decimal.NewFromInt(total).Mul(rate).Round(0).IntPart()
	return fee, total - fee
}

// NewPaymentRecord snapshots rate into a pending payment so later configuration changes do
// not affect verifications already in flight.
func NewPaymentRecord(total int64, rate decimal.Decimal) (model.PaymentRecord, error) {
	if total <= 0 {
		return model.PaymentRecord{}, fmt.Errorf("total amount must be positive, got %d", total)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return model.PaymentRecord{}, fmt.Errorf("platform fee rate must be in [0, 1), got %s", rate)
	}
	fee, referrer := Split(total, rate)
	return model.PaymentRecord{
		TotalAmount:     total,
		PlatformFeeRate: rate,
		PlatformFee:     fee,
		ReferrerAmount:  referrer,
		Status:          model.PaymentPending,
	}, nil
}
