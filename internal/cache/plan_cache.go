package cache

import (
	"context"
	"strings"
	"time"

	plandomain "github.com/smallbiznis/muanapay/internal/plan/domain"
)

const defaultPlanTTL = time.Minute

// planCache fronts a plan service with a short-lived read cache. Activation
// reads the plan on every verified payment while plans change rarely.
type planCache struct {
	next  plandomain.Service
	plans Cache[string, plandomain.Plan]
	ttl   time.Duration
}

// NewPlanCache wraps next. Create invalidates the entry for the new id.
func NewPlanCache(next plandomain.Service) plandomain.Service {
	return &planCache{
		next:  next,
		plans: NewTTLCache[string, plandomain.Plan](),
		ttl:   defaultPlanTTL,
	}
}

// DecoratePlans is the fx decorator form of NewPlanCache.
func DecoratePlans(next plandomain.Service) plandomain.Service {
	return NewPlanCache(next)
}

func (c *planCache) Create(ctx context.Context, req plandomain.CreateRequest) (*plandomain.Plan, error) {
	plan, err := c.next.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	c.plans.Delete(plan.ID)
	return plan, nil
}

func (c *planCache) Get(ctx context.Context, id string) (*plandomain.Plan, error) {
	key := strings.TrimSpace(id)
	if plan, ok := c.plans.Get(key); ok {
		return &plan, nil
	}
	plan, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.plans.Set(key, *plan, c.ttl)
	return plan, nil
}

func (c *planCache) List(ctx context.Context, req plandomain.ListRequest) ([]plandomain.Plan, error) {
	return c.next.List(ctx, req)
}
