// Package risk scores matched notifications for operator review. The score
// is advisory and never blocks a claim.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/muanapay/internal/config"
)

type Recommendation string

const (
	RecommendApprove                Recommendation = "approve"
	RecommendMonitor                Recommendation = "monitor"
	RecommendAdditionalVerification Recommendation = "additional_verification"
	RecommendManualReview           Recommendation = "manual_review"
)

const (
	maxScore     = 100
	invalidScore = 80
)

type Input struct {
	Reference string
	Amount    int64
	Currency  string
	Timestamp time.Time
	Now       time.Time
}

type Assessment struct {
	Score          int            `json:"score"`
	Valid          bool           `json:"valid"`
	Recommendation Recommendation `json:"recommendation"`
	Errors         []string       `json:"errors,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
}

// Assess applies the policy thresholds to a single notification.
func Assess(in Input, policy config.RiskPolicy) Assessment {
	var a Assessment
	score := 0

	if len(strings.TrimSpace(in.Reference)) < policy.MinReferenceLength {
		a.Errors = append(a.Errors, "reference_too_short")
		score += 30
	}
	if in.Amount <= 0 {
		a.Errors = append(a.Errors, "invalid_amount")
		score += 40
	}
	if !acceptedCurrency(in.Currency, policy.Currencies) {
		a.Errors = append(a.Errors, "unsupported_currency")
		score += 20
	}

	if in.Amount < policy.LowAmount {
		a.Warnings = append(a.Warnings, "amount_below_minimum")
		score += 15
	}
	if policy.VeryHighAmount > 0 && in.Amount > policy.VeryHighAmount {
		a.Warnings = append(a.Warnings, "amount_above_maximum")
		score += 25
	}
	if policy.HighAmount > 0 && in.Amount > policy.HighAmount {
		a.Warnings = append(a.Warnings, "large_amount")
		score += 20
	}

	if !in.Timestamp.IsZero() {
		age := in.Now.Sub(in.Timestamp)
		switch {
		case age < 0:
			a.Errors = append(a.Errors, "timestamp_in_future")
			score += 50
		case policy.MaxAge > 0 && age > policy.MaxAge:
			a.Warnings = append(a.Warnings, fmt.Sprintf("notification_age_%dh", int(age.Hours())))
			score += 25
		}
	}

	a.Score = min(max(score, 0), maxScore)
	a.Valid = len(a.Errors) == 0 && a.Score < invalidScore
	a.Recommendation = recommend(a.Score)
	return a
}

func recommend(score int) Recommendation {
	switch {
	case score > 70:
		return RecommendManualReview
	case score > 40:
		return RecommendAdditionalVerification
	case score > 20:
		return RecommendMonitor
	default:
		return RecommendApprove
	}
}

func acceptedCurrency(currency string, accepted []string) bool {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, c := range accepted {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// Metadata flattens the assessment for storage alongside the claim.
func (a Assessment) Metadata() map[string]any {
	out := map[string]any{
		"score":          a.Score,
		"valid":          a.Valid,
		"recommendation": string(a.Recommendation),
	}
	if len(a.Errors) > 0 {
		out["errors"] = a.Errors
	}
	if len(a.Warnings) > 0 {
		out["warnings"] = a.Warnings
	}
	return out
}
