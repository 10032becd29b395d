package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/evidence"
	"github.com/fadilmartias/referral-escrow/internal/metrics"
	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const DefaultReasoningTimeout = 10 * time.Second

// Reasoner scores referral evidence. Analyze never fails: when the reasoning service cannot
// answer, it returns FallbackAnalysis with Degraded set.
type Reasoner interface {
	Analyze(ctx context.Context, summary evidence.Summary) model.Analysis
}

type ReasoningService struct {
	client  CompletionClient
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewReasoningService wraps client. A nil client makes every analysis a fallback.
func NewReasoningService(client CompletionClient, timeout time.Duration, logger *zap.Logger) *ReasoningService {
	if timeout <= 0 {
		timeout = DefaultReasoningTimeout
	}
	return &ReasoningService{client: client, timeout: timeout, logger: logger, now: time.Now}
}

func FallbackAnalysis(now time.Time) model.Analysis {
	return model.Analysis{
		ConfidenceScore: 50,
		FraudRisk:       model.RiskMedium,
		EvidenceQuality: model.QualityFair,
		Recommendations: datatypes.JSONSlice[string]{"manual review required"},
		Degraded:        true,
		AnalyzedAt:      &now,
	}
}

func (s *ReasoningService) Analyze(ctx context.Context, summary evidence.Summary) model.Analysis {
	if s.client == nil {
		metrics.DegradedAnalysesTotal.Inc()
		return FallbackAnalysis(s.now())
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		text, err := s.client.Complete(ctx, BuildPrompt(summary))
		done <- result{text: text, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = result{err: fmt.Errorf("reasoning call abandoned: %w", ctx.Err())}
	}
	metrics.ReasoningDuration.WithLabelValues(s.client.Name()).Observe(time.Since(start).Seconds())

	if r.err != nil {
		return s.fallback("reasoning service call failed", r.err)
	}
	analysis, err := ParseAnalysis(r.text, s.now())
	if err != nil {
		return s.fallback("reasoning service answer could not be parsed", err)
	}
	return analysis
}

func (s *ReasoningService) fallback(msg string, err error) model.Analysis {
	metrics.DegradedAnalysesTotal.Inc()
	s.logger.Warn(msg, zap.String("provider", s.client.Name()), zap.Error(err))
	return FallbackAnalysis(s.now())
}

func BuildPrompt(summary evidence.Summary) string {
	return fmt.Sprintf(`Analyze this job referral verification evidence and assess its authenticity.

%s
Evaluate:
1. confidenceScore (0-100): how confident you are the referral led to a genuine hire
2. fraudRisk (low/medium/high): risk that the claim is fraudulent
3. evidenceQuality (poor/fair/good/excellent): quality of the submitted proof
4. recommendations: additional evidence that would strengthen the claim

Consider the number and type of documents, who uploaded them (seeker vs referrer), whether
both parties confirmed, and whether the timeline is plausible for the claimed stage.

Return your answer STRICTLY in JSON format with this schema:
{
  "confidenceScore": <integer 0-100>,
  "fraudRisk": "<low|medium|high>",
  "evidenceQuality": "<poor|fair|good|excellent>",
  "recommendations": ["<string>"]
}`, summary.Describe())
}

// ParseAnalysis validates a reasoning answer. Missing or malformed confidence or risk makes
// the whole answer unusable; an unknown quality is read as fair.
func ParseAnalysis(text string, now time.Time) (model.Analysis, error) {
	text = stripCodeFence(text)
	if !gjson.Valid(text) {
		return model.Analysis{}, errors.New("answer is not valid JSON")
	}

	conf := gjson.Get(text, "confidenceScore")
	if conf.Type != gjson.Number {
		return model.Analysis{}, errors.New("confidenceScore missing or not a number")
	}
	score := int(math.Round(math.Max(0, math.Min(100, conf.Float()))))

	risk := model.FraudRisk(strings.ToLower(strings.TrimSpace(gjson.Get(text, "fraudRisk").String())))
	if !risk.Valid() {
		return model.Analysis{}, fmt.Errorf("unknown fraudRisk %q", risk)
	}

	quality := model.EvidenceQuality(strings.ToLower(strings.TrimSpace(gjson.Get(text, "evidenceQuality").String())))
	if !quality.Valid() {
		quality = model.QualityFair
	}

	recs := datatypes.JSONSlice[string]{}
	gjson.Get(text, "recommendations").ForEach(func(_, v gjson.Result) bool {
		if s := strings.TrimSpace(v.String()); s != "" {
			recs = append(recs, s)
		}
		return true
	})

	return model.Analysis{
		ConfidenceScore: score,
		FraudRisk:       risk,
		EvidenceQuality: quality,
		Recommendations: recs,
		AnalyzedAt:      &now,
	}, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
