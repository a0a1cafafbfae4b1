package migration

import (
	paymentdomain "github.com/smallbiznis/muanapay/internal/payment/domain"
	plandomain "github.com/smallbiznis/muanapay/internal/plan/domain"
	profiledomain "github.com/smallbiznis/muanapay/internal/profile/domain"
	subscriptiondomain "github.com/smallbiznis/muanapay/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs the SQL migrations on postgres and falls back to AutoMigrate on
// the other dialects, which the embedded SQL does not target.
func Apply(conn *gorm.DB, log *zap.Logger) error {
	if conn.Dialector.Name() != "postgres" {
		log.Info("auto-migrating schema", zap.String("dialect", conn.Dialector.Name()))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	status, err := RunMigrations(sqlDB)
	if err != nil {
		return err
	}
	log.Info("schema migrated",
		zap.Uint("version", status.Version),
		zap.Bool("applied", status.Applied),
	)
	return nil
}

func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&plandomain.Plan{},
		&profiledomain.Profile{},
		&paymentdomain.PaymentNotification{},
		&subscriptiondomain.Subscription{},
	)
}
