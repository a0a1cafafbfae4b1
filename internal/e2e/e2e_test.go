package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/muanapay/internal/clock"
	"github.com/smallbiznis/muanapay/internal/config"
	"github.com/smallbiznis/muanapay/internal/migration"
	"github.com/smallbiznis/muanapay/internal/observability"
	"github.com/smallbiznis/muanapay/internal/scheduler"
	"github.com/smallbiznis/muanapay/internal/seed"
	"github.com/smallbiznis/muanapay/internal/server"
	"github.com/smallbiznis/muanapay/pkg/db"
	"github.com/smallbiznis/muanapay/pkg/verifyclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const internalToken = "e2e-internal-token"

type testEnv struct {
	app       *fx.App
	db        *gorm.DB
	scheduler *scheduler.Scheduler
	httpSrv   *httptest.Server
	baseURL   string
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func startEnv() (*testEnv, error) {
	var (
		engine *gin.Engine
		dbConn *gorm.DB
		sched  *scheduler.Scheduler
	)

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.SnowflakeNode)
		}),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		seed.Module,
		scheduler.Module,
		fx.Populate(&engine, &dbConn, &sched),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	httpSrv := httptest.NewServer(engine)
	return &testEnv{
		app:       app,
		db:        dbConn,
		scheduler: sched,
		httpSrv:   httpSrv,
		baseURL:   httpSrv.URL,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("HTTP_ADDR", "127.0.0.1:0")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite")
	setEnvIfEmpty("DATABASE_NAME", "file:muanapay_e2e?mode=memory&cache=shared")
	setEnvIfEmpty("DATABASE_MAX_OPEN_CONN", "1")
	setEnvIfEmpty("INTERNAL_API_TOKEN", internalToken)
	setEnvIfEmpty("SEED_DEFAULT_PLANS", "true")
	setEnvIfEmpty("RATE_LIMIT_ENABLED", "false")
	setEnvIfEmpty("SCHEDULER_ENABLED", "false")
	setEnvIfEmpty("VERIFY_POLL_AFTER_SECONDS", "1")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func newClient() *verifyclient.Client {
	return verifyclient.NewClient(env.baseURL, verifyclient.WithBearerToken(internalToken))
}

func getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.baseURL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+internalToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < http.StatusBadRequest {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestE2E_DefaultPlansSeeded(t *testing.T) {
	var body struct {
		Data struct {
			ID           string `json:"id"`
			BillingCycle string `json:"billing_cycle"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, "/internal/plans/plan-monthly", &body))
	assert.Equal(t, "monthly", body.Data.BillingCycle)
}

func TestE2E_ListenUntilPaymentArrives(t *testing.T) {
	client := newClient()
	session := verifyclient.NewSession(client, verifyclient.Options{
		PollInterval: 25 * time.Millisecond,
		MaxWait:      10 * time.Second,
	})
	defer session.Close()

	require.NoError(t, session.Start(verifyclient.Request{
		UserID:       "E2E-U1",
		PlanID:       "plan-monthly",
		SenderNumber: "+223 71 11 22 33",
	}))

	require.Eventually(t, func() bool {
		return session.Snapshot().State == verifyclient.StateListening
	}, 5*time.Second, 10*time.Millisecond)

	res, err := client.Ingest(context.Background(), verifyclient.Notification{
		Sender:               "OrangeMoney",
		Message:              "Vous avez recu 5000 XOF du 71112233",
		CounterpartyPhone:    "71112233",
		TransactionReference: "E2E-TX-1",
		Amount:               5000,
		Status:               "pending",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := session.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, verifyclient.StateSuccess, snap.State, snap.Message)
	require.NotNil(t, snap.Response)
	assert.Equal(t, "E2E-TX-1", snap.Response.TransactionID)
	require.NotNil(t, snap.Response.Subscription)
	assert.Equal(t, "plan-monthly", snap.Response.Subscription.PlanID)

	// Another account presenting the same reference is told to contact support.
	other, err := client.Verify(context.Background(), verifyclient.Request{UserID: "E2E-U2", TransactionID: "E2E-TX-1"})
	require.NoError(t, err)
	assert.True(t, other.Conflict)
	assert.Equal(t, "E2E-U1", other.OwnerUserID)

	var sub struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, "/internal/users/E2E-U1/subscription", &sub))
	assert.Equal(t, "active", sub.Data.Status)
}

func TestE2E_SchedulerExpiresEndedSubscriptions(t *testing.T) {
	client := newClient()
	_, err := client.Ingest(context.Background(), verifyclient.Notification{
		CounterpartyPhone:    "72223344",
		TransactionReference: "E2E-TX-2",
		Amount:               5000,
	})
	require.NoError(t, err)

	resp, err := client.Verify(context.Background(), verifyclient.Request{UserID: "E2E-U3", PlanID: "plan-monthly", TransactionID: "E2E-TX-2"})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Message)

	require.NoError(t, env.db.Exec(
		`UPDATE subscriptions SET end_date = ? WHERE user_id = ?`,
		time.Now().UTC().Add(-time.Hour), "E2E-U3",
	).Error)

	require.NoError(t, env.scheduler.RunOnce(context.Background()))
	assert.Equal(t, http.StatusNotFound, getJSON(t, "/internal/users/E2E-U3/subscription", nil))

	// The same transaction cannot buy a second period.
	again, err := client.Verify(context.Background(), verifyclient.Request{UserID: "E2E-U3", PlanID: "plan-monthly", TransactionID: "E2E-TX-2"})
	require.NoError(t, err)
	assert.True(t, again.AlreadyVerified)
	require.NotNil(t, again.Subscription)
	assert.Equal(t, "expired", again.Subscription.Status)
	assert.Contains(t, again.Message, "ended")
	assert.Equal(t, http.StatusNotFound, getJSON(t, "/internal/users/E2E-U3/subscription", nil))

	_, err = client.Verify(context.Background(), verifyclient.Request{UserID: "E2E-U3", PlanID: "plan-yearly", TransactionID: "E2E-TX-2"})
	var apiErr *verifyclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "plan_mismatch", apiErr.Type)
}

func TestE2E_VerifyRejectsMalformedNumber(t *testing.T) {
	_, err := newClient().Verify(context.Background(), verifyclient.Request{UserID: "E2E-U4", SenderNumber: "12ab"})
	var apiErr *verifyclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}
