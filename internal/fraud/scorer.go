// Package fraud combines the reasoning service's judgement with signals it cannot see:
// how busy both parties have been recently and whether the claimed stage is plausible for
// the time elapsed since the referral. Its output is the authoritative fraud signal.
package fraud

import (
	"fmt"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/model"
	"gorm.io/datatypes"
)

const (
	MaxScore = 100

	LowCeiling    = 33
	MediumCeiling = 66

	// A low answer starts no lower than the middle of its bucket so that
	// volume and timeline penalties can still lift it out.
	LowFloor = 17

	HighVolumePenalty        = 15
	TimelineMismatchPenalty  = 10
	DefaultHighVolumeLimit   = 10
	DefaultHighVolumeWindow  = 30 * 24 * time.Hour
	MaxPlausibleReferralDays = 365
)

// Minimum days after the referral before each stage is plausible.
var minDaysForStage = map[model.VerificationStage]int{
	model.StageReferralSent:       0,
	model.StageInterviewScheduled: 2,
	model.StageOfferReceived:      7,
	model.StageJoined:             14,
	model.StageCompleted:          30,
}

type Signals struct {
	SeekerRecentReferrals   int64
	ReferrerRecentReferrals int64
	TimelineConsistent      bool
}

type Scorer struct {
	HighVolumeLimit int64
}

func NewScorer() *Scorer {
	return &Scorer{HighVolumeLimit: DefaultHighVolumeLimit}
}

// Score is deterministic: the same analysis and signals always give the same assessment.
func (s *Scorer) Score(analysis model.Analysis, sig Signals) model.FraudAssessment {
	score := baseScore(analysis.FraudRisk, analysis.ConfidenceScore)
	flags := []string{}

	limit := s.HighVolumeLimit
	if limit <= 0 {
		limit = DefaultHighVolumeLimit
	}
	if sig.SeekerRecentReferrals > limit || sig.ReferrerRecentReferrals > limit {
		score += HighVolumePenalty
		flags = append(flags, fmt.Sprintf("high referral volume: seeker %d, referrer %d in window", sig.SeekerRecentReferrals, sig.ReferrerRecentReferrals))
	}
	if !sig.TimelineConsistent {
		score += TimelineMismatchPenalty
		flags = append(flags, "timeline inconsistent with claimed stage")
	}
	if analysis.Degraded {
		flags = append(flags, "reasoning service unavailable, fallback analysis used")
	}

	score = Clamp(score)
	return model.FraudAssessment{
		Score:     score,
		RiskLevel: Bucket(score),
		Flags:     datatypes.JSONSlice[string](flags),
	}
}

// baseScore places the reasoning service's risk inside its bucket, lower confidence pushing
// it toward the top of the bucket. Unknown risk values are treated as medium.
func baseScore(risk model.FraudRisk, confidence int) int {
	lo, hi := LowCeiling+1, MediumCeiling
	switch risk {
	case model.RiskLow:
		lo, hi = LowFloor, LowCeiling
	case model.RiskHigh:
		lo, hi = MediumCeiling+1, MaxScore
	}
	doubt := MaxScore - clampConfidence(confidence)
	return lo + (doubt*(hi-lo)+50)/100
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Bucket maps a score to a risk level: 0-33 low, 34-66 medium, 67-100 high.
func Bucket(score int) model.FraudRisk {
	switch {
	case score <= LowCeiling:
		return model.RiskLow
	case score <= MediumCeiling:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}

// TimelineConsistent reports whether stage is plausible given when the referral was made.
func TimelineConsistent(stage model.VerificationStage, referredAt, now time.Time) bool {
	if referredAt.IsZero() {
		return false
	}
	days := DaysSince(referredAt, now)
	if days < 0 || days > MaxPlausibleReferralDays {
		return false
	}
	minDays, ok := minDaysForStage[stage]
	if !ok {
		return false
	}
	return days >= minDays
}

func DaysSince(t, now time.Time) int {
	return int(now.Sub(t) / (24 * time.Hour))
}
