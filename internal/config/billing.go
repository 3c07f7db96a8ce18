package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PriceRow is one allowed daily quantity with its price and bottle deposit,
// all money in minor units.
type PriceRow struct {
	Quantity int   `mapstructure:"quantity"`
	Price    int64 `mapstructure:"price"`
	Deposit  int64 `mapstructure:"deposit"`
}

// BillingConfig holds the tunables of the billing engine.
type BillingConfig struct {
	Timezone             string     `mapstructure:"timezone"`
	Currency             string     `mapstructure:"currency"`
	PriceTable           []PriceRow `mapstructure:"priceTable"`
	LargeBottleUnit      int        `mapstructure:"largeBottleUnit"`
	SmallBottleUnit      int        `mapstructure:"smallBottleUnit"`
	DepositInterval      int        `mapstructure:"depositInterval"`
	PenaltyThresholdDays int        `mapstructure:"penaltyThresholdDays"`
	LargeBottleFine      int64      `mapstructure:"largeBottleFine"`
	SmallBottleFine      int64      `mapstructure:"smallBottleFine"`
	GracePeriodEndDay    int        `mapstructure:"gracePeriodEndDay"`

	loc *time.Location
}

func DefaultBillingConfig() BillingConfig {
	rows := make([]PriceRow, 0, 6)
	for qty := 500; qty <= 3000; qty += 500 {
		large := qty / 1000
		small := 0
		if qty%1000 >= 250 {
			small = 1
		}
		rows = append(rows, PriceRow{
			Quantity: qty,
			Price:    int64(qty/500) * 5500,
			Deposit:  int64(large)*5000 + int64(small)*2500,
		})
	}
	return BillingConfig{
		Timezone:             "Asia/Kolkata",
		Currency:             "INR",
		PriceTable:           rows,
		LargeBottleUnit:      1000,
		SmallBottleUnit:      500,
		DepositInterval:      30,
		PenaltyThresholdDays: 7,
		LargeBottleFine:      5000,
		SmallBottleFine:      2500,
		GracePeriodEndDay:    5,
	}
}

// Location returns the business timezone. Falls back to UTC when the
// configured zone cannot be loaded.
func (c BillingConfig) Location() *time.Location {
	if c.loc != nil {
		return c.loc
	}
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

var billingConfigPaths = []string{
	"/var/lib/milkrun/config",
	"/etc/milkrun",
	".",
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	return LoadBillingConfigHolder(log, billingConfigPaths...)
}

// LoadBillingConfigHolder reads billing.yml from the first matching path and
// watches it for changes. Missing files fall back to DefaultBillingConfig.
func LoadBillingConfigHolder(log *zap.Logger, paths ...string) (*BillingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing.config")

	v := viper.New()
	v.SetConfigName("billing")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("MILKRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setBillingDefaults(v, DefaultBillingConfig())

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeBillingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeBillingConfig(v)
			if err != nil {
				log.Warn("billing config reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("billing config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) (*BillingConfigHolder, error) {
	holder := &BillingConfigHolder{}
	if err := holder.Set(cfg); err != nil {
		return nil, err
	}
	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// Set validates and swaps the active config.
func (h *BillingConfigHolder) Set(cfg BillingConfig) error {
	normalized, err := normalizeBillingConfig(cfg)
	if err != nil {
		return err
	}
	h.current.Store(normalized)
	return nil
}

func setBillingDefaults(v *viper.Viper, defaults BillingConfig) {
	v.SetDefault("billing.timezone", defaults.Timezone)
	v.SetDefault("billing.currency", defaults.Currency)
	v.SetDefault("billing.priceTable", defaults.PriceTable)
	v.SetDefault("billing.largeBottleUnit", defaults.LargeBottleUnit)
	v.SetDefault("billing.smallBottleUnit", defaults.SmallBottleUnit)
	v.SetDefault("billing.depositInterval", defaults.DepositInterval)
	v.SetDefault("billing.penaltyThresholdDays", defaults.PenaltyThresholdDays)
	v.SetDefault("billing.largeBottleFine", defaults.LargeBottleFine)
	v.SetDefault("billing.smallBottleFine", defaults.SmallBottleFine)
	v.SetDefault("billing.gracePeriodEndDay", defaults.GracePeriodEndDay)
}

// decodeBillingConfig overlays the file's billing keys on the defaults.
// Viper hands back the file's billing map without the nested defaults, so
// every key the file omits keeps its default value here. A price table is
// replaced as a whole, never merged row by row.
func decodeBillingConfig(v *viper.Viper) (BillingConfig, error) {
	defaults := DefaultBillingConfig()
	cfg := defaults
	cfg.PriceTable = nil
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return BillingConfig{}, err
	}
	if len(cfg.PriceTable) == 0 {
		cfg.PriceTable = defaults.PriceTable
	}
	return normalizeBillingConfig(cfg)
}

func normalizeBillingConfig(cfg BillingConfig) (BillingConfig, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone))
	if err != nil {
		return BillingConfig{}, fmt.Errorf("billing.timezone: %w", err)
	}
	cfg.loc = loc
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))

	rows := append([]PriceRow(nil), cfg.PriceTable...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Quantity < rows[j].Quantity })
	cfg.PriceTable = rows

	if err := validateBillingConfig(cfg); err != nil {
		return BillingConfig{}, err
	}
	return cfg, nil
}

func validateBillingConfig(cfg BillingConfig) error {
	if len(cfg.PriceTable) == 0 {
		return errors.New("billing.priceTable cannot be empty")
	}
	if cfg.SmallBottleUnit <= 0 || cfg.LargeBottleUnit <= cfg.SmallBottleUnit {
		return errors.New("billing bottle units must satisfy 0 < smallBottleUnit < largeBottleUnit")
	}
	prev := 0
	for _, row := range cfg.PriceTable {
		if row.Quantity <= prev {
			return fmt.Errorf("billing.priceTable quantity %d is duplicated or not positive", row.Quantity)
		}
		if row.Quantity%cfg.SmallBottleUnit != 0 {
			return fmt.Errorf("billing.priceTable quantity %d is not a multiple of %d", row.Quantity, cfg.SmallBottleUnit)
		}
		if row.Price <= 0 || row.Deposit < 0 {
			return fmt.Errorf("billing.priceTable quantity %d has invalid amounts", row.Quantity)
		}
		prev = row.Quantity
	}
	if cfg.DepositInterval <= 0 {
		return errors.New("billing.depositInterval must be positive")
	}
	if cfg.PenaltyThresholdDays <= 0 {
		return errors.New("billing.penaltyThresholdDays must be positive")
	}
	if cfg.LargeBottleFine < 0 || cfg.SmallBottleFine < 0 {
		return errors.New("billing bottle fines cannot be negative")
	}
	if cfg.GracePeriodEndDay < 1 || cfg.GracePeriodEndDay > 28 {
		return errors.New("billing.gracePeriodEndDay must be between 1 and 28")
	}
	return nil
}
