package domain

import (
	"github.com/smallbiznis/muanapay/internal/config"
	paymentdomain "github.com/smallbiznis/muanapay/internal/payment/domain"
)

// CandidateSelector picks one notification out of candidates ordered newest first.
type CandidateSelector interface {
	Select(candidates []paymentdomain.PaymentNotification, req Request) *paymentdomain.PaymentNotification
}

type MostRecent struct{}

func (MostRecent) Select(candidates []paymentdomain.PaymentNotification, _ Request) *paymentdomain.PaymentNotification {
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

// AmountProximity prefers the candidate closest to the expected amount.
// Equal distances keep the newer candidate.
type AmountProximity struct{}

func (AmountProximity) Select(candidates []paymentdomain.PaymentNotification, req Request) *paymentdomain.PaymentNotification {
	if req.ExpectedAmount == nil {
		return MostRecent{}.Select(candidates, req)
	}
	var (
		best     *paymentdomain.PaymentNotification
		bestDist int64
	)
	for i := range candidates {
		dist := candidates[i].Amount - *req.ExpectedAmount
		if dist < 0 {
			dist = -dist
		}
		if best == nil || dist < bestDist {
			best, bestDist = &candidates[i], dist
		}
	}
	return best
}

func SelectorFor(name string) CandidateSelector {
	if name == config.SelectorAmountProximity {
		return AmountProximity{}
	}
	return MostRecent{}
}
