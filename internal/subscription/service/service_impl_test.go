package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/muanapay/internal/clock"
	"github.com/smallbiznis/muanapay/internal/config"
	plandomain "github.com/smallbiznis/muanapay/internal/plan/domain"
	planrepo "github.com/smallbiznis/muanapay/internal/plan/repository"
	planservice "github.com/smallbiznis/muanapay/internal/plan/service"
	profiledomain "github.com/smallbiznis/muanapay/internal/profile/domain"
	profilerepo "github.com/smallbiznis/muanapay/internal/profile/repository"
	subscriptiondomain "github.com/smallbiznis/muanapay/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/muanapay/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/muanapay/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   subscriptiondomain.Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&plandomain.Plan{}, &profiledomain.Profile{}, &subscriptiondomain.Subscription{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC))

	planSvc := planservice.New(planservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: planrepo.Provide(),
	})
	ctx := context.Background()
	_, err = planSvc.Create(ctx, plandomain.CreateRequest{ID: "plan-monthly", Name: "Monthly", BillingCycle: "monthly", PriceAmount: 5000})
	require.NoError(t, err)
	_, err = planSvc.Create(ctx, plandomain.CreateRequest{ID: "plan-yearly", Name: "Yearly", BillingCycle: "yearly", PriceAmount: 50000})
	require.NoError(t, err)
	inactive := false
	_, err = planSvc.Create(ctx, plandomain.CreateRequest{ID: "plan-legacy", Name: "Legacy", BillingCycle: "monthly", Active: &inactive})
	require.NoError(t, err)

	agency := "AG-7"
	now := clk.Now()
	require.NoError(t, profilerepo.Provide().Upsert(ctx, db, &profiledomain.Profile{UserID: "U1", AgencyID: &agency, CreatedAt: now, UpdatedAt: now}))

	svc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Config:      config.Config{},
		Repo:        subscriptionrepo.Provide(),
		ProfileRepo: profilerepo.Provide(),
		PlanSvc:     planSvc,
	})
	return fixture{db: db, clock: clk, svc: svc}
}

func countActive(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&subscriptiondomain.Subscription{}).
		Where("user_id = ? AND status = ?", userID, subscriptiondomain.SubscriptionStatusActive).
		Count(&n).Error)
	return n
}

func TestActivateCreatesWithClampedPeriod(t *testing.T) {
	f := setup(t)

	sub, err := f.svc.Activate(context.Background(), subscriptiondomain.ActivateRequest{
		UserID:           "U1",
		PlanID:           "plan-monthly",
		PaymentReference: "TX-1",
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, subscriptiondomain.DefaultPaymentMethod, sub.PaymentMethod)
	assert.Equal(t, time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC), sub.EndDate)
	require.NotNil(t, sub.AgencyID)
	assert.Equal(t, "AG-7", *sub.AgencyID)
	assert.EqualValues(t, 1, countActive(t, f.db, "U1"))
}

func TestActivateIsIdempotentForSamePayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := subscriptiondomain.ActivateRequest{UserID: "U2", PlanID: "plan-monthly", PaymentReference: "TX-9"}

	first, err := f.svc.Activate(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, first.AgencyID)

	f.clock.Advance(time.Hour)
	second, err := f.svc.Activate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.EndDate.Equal(second.EndDate))
	assert.EqualValues(t, 1, countActive(t, f.db, "U2"))
}

func TestActivateUpdatesInPlaceForNewPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: "U3", PlanID: "plan-monthly", PaymentReference: "TX-1"})
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	second, err := f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: "U3", PlanID: "plan-yearly", PaymentReference: "TX-2"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "plan-yearly", second.PlanID)
	assert.Equal(t, time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC), second.EndDate)

	active, err := f.svc.GetActive(ctx, "U3")
	require.NoError(t, err)
	assert.Equal(t, "plan-yearly", active.PlanID)
	require.NotNil(t, active.PaymentReference)
	assert.Equal(t, "TX-2", *active.PaymentReference)
	assert.EqualValues(t, 1, countActive(t, f.db, "U3"))
}

func TestActivateConcurrentKeepsSingleActiveRow(t *testing.T) {
	f := setup(t)
	var wg sync.WaitGroup
	errs := make(chan error, 6)

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Activate(context.Background(), subscriptiondomain.ActivateRequest{
				UserID:           "U4",
				PlanID:           "plan-monthly",
				PaymentReference: fmt.Sprintf("TX-%d", i%2),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, countActive(t, f.db, "U4"))
}

func TestActivateErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{PlanID: "plan-monthly"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidUser)

	_, err = f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: "U5"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPlan)

	_, err = f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: "U5", PlanID: "missing"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrPlanNotFound)

	_, err = f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: "U5", PlanID: "plan-legacy"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrPlanInactive)

	_, err = f.svc.GetActive(ctx, "U5")
	assert.ErrorIs(t, err, subscriptiondomain.ErrNoActiveSubscription)
}

func TestExpireDueFlipsOnlyEndedPeriods(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: "U1", PlanID: "plan-monthly", PaymentReference: "TX-1"})
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: "U2", PlanID: "plan-yearly", PaymentReference: "TX-2"})
	require.NoError(t, err)

	n, err := f.svc.ExpireDue(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(60 * 24 * time.Hour)
	n, err = f.svc.ExpireDue(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 0, countActive(t, f.db, "U1"))
	assert.EqualValues(t, 1, countActive(t, f.db, "U2"))

	_, err = f.svc.GetActive(ctx, "U1")
	assert.ErrorIs(t, err, subscriptiondomain.ErrNoActiveSubscription)

	// A fresh payment after expiry opens a new active period.
	sub, err := f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: "U1", PlanID: "plan-monthly", PaymentReference: "TX-3"})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.EqualValues(t, 1, countActive(t, f.db, "U1"))
}

func TestActivateDoesNotReopenExpiredPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := subscriptiondomain.ActivateRequest{UserID: "U6", PlanID: "plan-monthly", PaymentReference: "TX-OLD"}

	first, err := f.svc.Activate(ctx, req)
	require.NoError(t, err)

	f.clock.Advance(40 * 24 * time.Hour)
	n, err := f.svc.ExpireDue(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	again, err := f.svc.Activate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, again.Status)
	assert.True(t, first.EndDate.Equal(again.EndDate))
	assert.EqualValues(t, 0, countActive(t, f.db, "U6"))

	var rows int64
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).Where("user_id = ?", "U6").Count(&rows).Error)
	assert.EqualValues(t, 1, rows)
}

func TestActivateRequiresPaymentToCoverPrice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	paid := int64(5000)

	_, err := f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{
		UserID: "U7", PlanID: "plan-yearly", PaymentReference: "TX-7", PaidAmount: &paid,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInsufficientPayment)
	assert.EqualValues(t, 0, countActive(t, f.db, "U7"))

	sub, err := f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{
		UserID: "U7", PlanID: "plan-monthly", PaymentReference: "TX-7", PaidAmount: &paid,
	})
	require.NoError(t, err)
	assert.Equal(t, "plan-monthly", sub.PlanID)
}

func TestGetByID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sub, err := f.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: "U8", PlanID: "plan-monthly", PaymentReference: "TX-8"})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = f.svc.Get(ctx, sub.ID+1)
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotFound)
}
