package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/folio/internal/invoice/format"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InvoicingConfig holds tunables read from invoicing.yml.
type InvoicingConfig struct {
	// DepositRetryAttempts bounds optimistic-lock retries in ApplyDeposit.
	DepositRetryAttempts int `mapstructure:"depositRetryAttempts"`
	// BuildLockTTL is the lifetime of the per-booking build lock.
	BuildLockTTL time.Duration `mapstructure:"buildLockTTL"`
	// TopItemsLimit is used when a ranking request does not set a limit.
	TopItemsLimit int `mapstructure:"topItemsLimit"`
	// MoneyScale is the number of decimal places money amounts are rounded to.
	MoneyScale int32 `mapstructure:"moneyScale"`
	// InvoiceNumberTemplate renders invoice numbers, e.g. "INV-{YYYY}{MM}{DD}-{SEQ6}".
	InvoiceNumberTemplate string `mapstructure:"invoiceNumberTemplate"`
}

func DefaultInvoicingConfig() InvoicingConfig {
	return InvoicingConfig{
		DepositRetryAttempts: 5,
		BuildLockTTL:         30 * time.Second,
		TopItemsLimit:        10,
		MoneyScale:           2,

		InvoiceNumberTemplate: "INV-{YYYY}{MM}{DD}-{SEQ6}",
	}
}

type InvoicingConfigHolder struct {
	current atomic.Value // holds InvoicingConfig
}

// NewStaticInvoicingConfigHolder returns a holder that never reloads.
func NewStaticInvoicingConfigHolder(cfg InvoicingConfig) *InvoicingConfigHolder {
	holder := &InvoicingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewInvoicingConfigHolder(log *zap.Logger) (*InvoicingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("invoicing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/folio")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultInvoicingConfig()
	v.SetDefault("invoicing.depositRetryAttempts", defaults.DepositRetryAttempts)
	v.SetDefault("invoicing.buildLockTTL", defaults.BuildLockTTL)
	v.SetDefault("invoicing.topItemsLimit", defaults.TopItemsLimit)
	v.SetDefault("invoicing.moneyScale", defaults.MoneyScale)
	v.SetDefault("invoicing.invoiceNumberTemplate", defaults.InvoiceNumberTemplate)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg InvoicingConfig
	if err := v.UnmarshalKey("invoicing", &cfg); err != nil {
		return nil, err
	}
	if err := validateInvoicingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticInvoicingConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	log = log.Named("config.invoicing")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated InvoicingConfig
		if err := v.UnmarshalKey("invoicing", &updated); err != nil {
			log.Warn("invoicing config reload failed", zap.Error(err))
			return
		}
		if err := validateInvoicingConfig(updated); err != nil {
			log.Warn("invalid invoicing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("invoicing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// Get returns the current config. A nil holder yields the defaults.
func (h *InvoicingConfigHolder) Get() InvoicingConfig {
	if h == nil {
		return DefaultInvoicingConfig()
	}
	cfg, ok := h.current.Load().(InvoicingConfig)
	if !ok {
		return DefaultInvoicingConfig()
	}
	return cfg
}

func validateInvoicingConfig(cfg InvoicingConfig) error {
	if cfg.DepositRetryAttempts < 1 {
		return errors.New("invoicing.depositRetryAttempts must be at least 1")
	}
	if cfg.BuildLockTTL <= 0 {
		return errors.New("invoicing.buildLockTTL must be positive")
	}
	if cfg.TopItemsLimit < 1 {
		return errors.New("invoicing.topItemsLimit must be at least 1")
	}
	if cfg.MoneyScale < 0 || cfg.MoneyScale > 4 {
		return errors.New("invoicing.moneyScale must be between 0 and 4")
	}
	if err := format.ValidateTemplate(cfg.InvoiceNumberTemplate); err != nil {
		return fmt.Errorf("invoicing.invoiceNumberTemplate: %w", err)
	}
	return nil
}
