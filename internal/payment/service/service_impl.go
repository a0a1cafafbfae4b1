package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/muanapay/internal/clock"
	obsmetrics "github.com/smallbiznis/muanapay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/muanapay/internal/payment/domain"
	"github.com/smallbiznis/muanapay/internal/phone"
	"github.com/smallbiznis/muanapay/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// Fingerprint identifies a notification by its sender and message body so
// replays of the same SMS collapse onto one row.
func Fingerprint(sender, message, reference string) string {
	input := strings.TrimSpace(sender) + "|" + strings.TrimSpace(message)
	if strings.TrimSpace(message) == "" {
		input = "ref|" + strings.TrimSpace(reference)
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func (s *Service) Ingest(ctx context.Context, req paymentdomain.IngestRequest) (*paymentdomain.IngestResult, error) {
	notification, err := s.buildNotification(req)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Insert(ctx, s.db, notification)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	if !created {
		existing, err := s.repo.FindByFingerprint(ctx, s.db, notification.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("load duplicate notification: %w", err)
		}
		if existing == nil {
			return nil, paymentdomain.ErrNotificationNotFound
		}
		s.obsMetrics.RecordNotificationIngested(ctx, "duplicate")
		s.log.Debug("duplicate notification ignored", zap.String("notification_id", existing.ID.String()))
		return &paymentdomain.IngestResult{Notification: *existing, Created: false}, nil
	}

	s.obsMetrics.RecordNotificationIngested(ctx, "created")
	s.log.Info("notification ingested",
		zap.String("notification_id", notification.ID.String()),
		zap.String("status", string(notification.Status)),
	)
	return &paymentdomain.IngestResult{Notification: *notification, Created: true}, nil
}

func (s *Service) buildNotification(req paymentdomain.IngestRequest) (*paymentdomain.PaymentNotification, error) {
	message := strings.TrimSpace(req.Message)
	reference := strings.TrimSpace(req.TransactionReference)
	rawPhone := strings.TrimSpace(req.CounterpartyPhone)
	if message == "" && reference == "" {
		return nil, paymentdomain.ErrInvalidNotification
	}
	if req.Amount < 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	status := paymentdomain.StatusPending
	if raw := strings.ToLower(strings.TrimSpace(req.Status)); raw != "" {
		status = paymentdomain.NotificationStatus(raw)
		if !status.Claimable() {
			return nil, paymentdomain.ErrInvalidStatus
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = paymentdomain.DefaultCurrency
	}

	now := s.clock.Now()
	ts := now
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = req.Timestamp.UTC()
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if rawPhone != "" {
		metadata["raw_phone"] = rawPhone
	}
	metadata["ingested_at"] = now.Format(time.RFC3339)

	return &paymentdomain.PaymentNotification{
		ID:                   s.genID.Generate(),
		Fingerprint:          Fingerprint(req.Sender, message, reference),
		TransactionReference: optionalString(reference),
		Sender:               optionalString(strings.TrimSpace(req.Sender)),
		CounterpartyPhone:    optionalString(phone.Digits(rawPhone)),
		Message:              optionalString(message),
		Amount:               req.Amount,
		Currency:             currency,
		Status:               status,
		Timestamp:            ts,
		Metadata:             metadata,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*paymentdomain.PaymentNotification, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, paymentdomain.ErrNotificationNotFound
	}
	item, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, paymentdomain.ErrNotificationNotFound
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListRequest) (paymentdomain.ListResponse, error) {
	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	limit := page.Limit()
	filter := paymentdomain.ListFilter{Limit: limit + 1}

	if raw := strings.ToLower(strings.TrimSpace(req.Status)); raw != "" {
		status := paymentdomain.NotificationStatus(raw)
		if !status.Claimable() && status != paymentdomain.StatusVerified {
			return paymentdomain.ListResponse{}, paymentdomain.ErrInvalidStatus
		}
		filter.Status = &status
	}

	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return paymentdomain.ListResponse{}, paymentdomain.ErrInvalidPageToken
	}
	if cursor != nil {
		before, err := time.Parse(time.RFC3339Nano, cursor.Timestamp)
		if err != nil {
			return paymentdomain.ListResponse{}, paymentdomain.ErrInvalidPageToken
		}
		beforeID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return paymentdomain.ListResponse{}, paymentdomain.ErrInvalidPageToken
		}
		filter.Before = &before
		filter.BeforeID = beforeID
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return paymentdomain.ListResponse{}, err
	}

	items, info, err := pagination.Trim(items, limit, func(n paymentdomain.PaymentNotification) pagination.Cursor {
		return pagination.Cursor{ID: n.ID.String(), Timestamp: n.Timestamp.UTC().Format(time.RFC3339Nano)}
	})
	if err != nil {
		return paymentdomain.ListResponse{}, err
	}
	if items == nil {
		items = []paymentdomain.PaymentNotification{}
	}

	return paymentdomain.ListResponse{
		Notifications: items,
		NextPageToken: info.NextPageToken,
		HasMore:       info.HasMore,
	}, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
