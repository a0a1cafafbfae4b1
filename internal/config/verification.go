package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	SelectorMostRecent      = "most_recent"
	SelectorAmountProximity = "amount_proximity"
)

// VerificationPolicy holds the tunables that operators change without a deploy.
type VerificationPolicy struct {
	Selector string     `mapstructure:"selector"`
	Risk     RiskPolicy `mapstructure:"risk"`
}

// RiskPolicy feeds the advisory risk heuristic.
type RiskPolicy struct {
	Currencies         []string      `mapstructure:"currencies"`
	MinReferenceLength int           `mapstructure:"minReferenceLength"`
	LowAmount          int64         `mapstructure:"lowAmount"`
	HighAmount         int64         `mapstructure:"highAmount"`
	VeryHighAmount     int64         `mapstructure:"veryHighAmount"`
	MaxAge             time.Duration `mapstructure:"maxAge"`
}

func DefaultVerificationPolicy() VerificationPolicy {
	return VerificationPolicy{
		Selector: SelectorMostRecent,
		Risk: RiskPolicy{
			Currencies:         []string{"XOF", "FCFA", "USD"},
			MinReferenceLength: 6,
			LowAmount:          100,
			HighAmount:         500_000,
			VeryHighAmount:     1_000_000,
			MaxAge:             24 * time.Hour,
		},
	}
}

type VerificationPolicyHolder struct {
	current atomic.Value // holds VerificationPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy VerificationPolicy) *VerificationPolicyHolder {
	holder := &VerificationPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewVerificationPolicyHolder(log *zap.Logger) (*VerificationPolicyHolder, error) {
	log = log.Named("config.verification")
	v := viper.New()

	v.SetConfigName("verification")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/muanapay/config")
	v.AddConfigPath("/etc/muanapay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MUANAPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultVerificationPolicy()
	v.SetDefault("verification.selector", defaults.Selector)
	v.SetDefault("verification.risk.currencies", defaults.Risk.Currencies)
	v.SetDefault("verification.risk.minReferenceLength", defaults.Risk.MinReferenceLength)
	v.SetDefault("verification.risk.lowAmount", defaults.Risk.LowAmount)
	v.SetDefault("verification.risk.highAmount", defaults.Risk.HighAmount)
	v.SetDefault("verification.risk.veryHighAmount", defaults.Risk.VeryHighAmount)
	v.SetDefault("verification.risk.maxAge", defaults.Risk.MaxAge)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var policy VerificationPolicy
	if err := v.UnmarshalKey("verification", &policy); err != nil {
		return nil, err
	}
	if err := validateVerificationPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated VerificationPolicy
		if err := v.UnmarshalKey("verification", &updated); err != nil {
			log.Warn("verification policy reload failed", zap.Error(err))
			return
		}
		if err := validateVerificationPolicy(updated); err != nil {
			log.Warn("invalid verification policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("verification policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *VerificationPolicyHolder) Get() VerificationPolicy {
	if h == nil {
		return DefaultVerificationPolicy()
	}
	return h.current.Load().(VerificationPolicy)
}

func validateVerificationPolicy(policy VerificationPolicy) error {
	switch policy.Selector {
	case SelectorMostRecent, SelectorAmountProximity:
	default:
		return errors.New("verification.selector must be most_recent or amount_proximity")
	}
	if len(policy.Risk.Currencies) == 0 {
		return errors.New("verification.risk.currencies cannot be empty")
	}
	if policy.Risk.HighAmount > policy.Risk.VeryHighAmount {
		return errors.New("verification.risk.highAmount must not exceed veryHighAmount")
	}
	if policy.Risk.MaxAge <= 0 {
		return errors.New("verification.risk.maxAge must be positive")
	}
	return nil
}
