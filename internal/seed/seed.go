// Package seed bootstraps reference data a fresh deployment needs.
package seed

import (
	"context"
	"errors"

	"github.com/smallbiznis/muanapay/internal/config"
	plandomain "github.com/smallbiznis/muanapay/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("seed",
	fx.Invoke(Run),
)

// DefaultPlans are the stock offers. Prices are in the smallest currency unit.
var DefaultPlans = []plandomain.CreateRequest{
	{ID: "plan-monthly", Code: "monthly", Name: "Monthly", BillingCycle: "monthly", PriceAmount: 5000},
	{ID: "plan-yearly", Code: "yearly", Name: "Yearly", BillingCycle: "yearly", PriceAmount: 50000},
}

func Run(lc fx.Lifecycle, cfg config.Config, plans plandomain.Service, log *zap.Logger) {
	if !cfg.SeedDefaultPlans {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return EnsureDefaultPlans(ctx, plans, log)
		},
	})
}

// EnsureDefaultPlans creates every default plan that does not exist yet.
func EnsureDefaultPlans(ctx context.Context, plans plandomain.Service, log *zap.Logger) error {
	if plans == nil {
		return errors.New("seed plan service is required")
	}
	for _, req := range DefaultPlans {
		if _, err := plans.Get(ctx, req.ID); err == nil {
			continue
		} else if !errors.Is(err, plandomain.ErrNotFound) {
			return err
		}

		plan, err := plans.Create(ctx, req)
		if errors.Is(err, plandomain.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return err
		}
		log.Info("seeded plan", zap.String("plan_id", plan.ID), zap.String("code", plan.Code))
	}
	return nil
}
