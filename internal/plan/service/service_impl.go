package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/muanapay/internal/billingcycle"
	"github.com/smallbiznis/muanapay/internal/clock"
	paymentdomain "github.com/smallbiznis/muanapay/internal/payment/domain"
	"github.com/smallbiznis/muanapay/internal/plan/domain"
	"github.com/smallbiznis/muanapay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	cycle, ok := billingcycle.Parse(req.BillingCycle)
	if !ok {
		return nil, domain.ErrInvalidBillingCycle
	}
	if req.PriceAmount < 0 {
		return nil, domain.ErrInvalidPrice
	}

	code := slug.Make(strings.TrimSpace(req.Code))
	if code == "" {
		code = slug.Make(name)
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = s.genID.Generate().String()
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = paymentdomain.DefaultCurrency
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	plan := &domain.Plan{
		ID:           id,
		Code:         code,
		Name:         name,
		BillingCycle: string(cycle),
		PriceAmount:  req.PriceAmount,
		Currency:     currency,
		Active:       active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, s.db, plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateCode
		}
		return nil, err
	}

	s.log.Info("plan created", zap.String("plan_id", plan.ID), zap.String("code", plan.Code))
	return plan, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Plan, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidID
	}
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrNotFound
	}
	return plan, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Plan, error) {
	items, err := s.repo.List(ctx, s.db, req.ActiveOnly)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Plan{}
	}
	return items, nil
}
