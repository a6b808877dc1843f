package config

import (
	"errors"
	"io/fs"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InsightTuning holds the runtime-adjustable knobs of the insight engine.
type InsightTuning struct {
	DefaultPageSize   int           `mapstructure:"defaultPageSize"`
	PageSizeHardCap   int           `mapstructure:"pageSizeHardCap"`
	MaxOffset         int           `mapstructure:"maxOffset"`
	RiskSynonymSearch bool          `mapstructure:"riskSynonymSearch"`
	RefreshInterval   time.Duration `mapstructure:"refreshInterval"`
	RetentionPeriod   time.Duration `mapstructure:"retentionPeriod"`
	RetentionBatch    int           `mapstructure:"retentionBatch"`
}

func DefaultInsightTuning() InsightTuning {
	return InsightTuning{
		DefaultPageSize:   10,
		PageSizeHardCap:   100,
		MaxOffset:         100_000,
		RiskSynonymSearch: false,
		RefreshInterval:   5 * time.Minute,
		RetentionPeriod:   0,
		RetentionBatch:    200,
	}
}

type InsightTuningHolder struct {
	current atomic.Value // holds InsightTuning
}

// NewStaticInsightTuningHolder returns a holder that never reloads.
func NewStaticInsightTuningHolder(t InsightTuning) *InsightTuningHolder {
	holder := &InsightTuningHolder{}
	holder.current.Store(t)
	return holder
}

// NewInsightTuningHolder reads insights.yml and keeps watching it. A missing
// file falls back to defaults; an invalid reload is logged and ignored.
func NewInsightTuningHolder(cfg Config, log *zap.Logger) (*InsightTuningHolder, error) {
	log = log.Named("config.insights")
	v := viper.New()

	if path := cfg.Insight.TuningConfigPath; path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("insights")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/insightdesk")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("INSIGHTDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultInsightTuning()
	v.SetDefault("insights.defaultPageSize", defaults.DefaultPageSize)
	v.SetDefault("insights.pageSizeHardCap", defaults.PageSizeHardCap)
	v.SetDefault("insights.maxOffset", defaults.MaxOffset)
	v.SetDefault("insights.riskSynonymSearch", defaults.RiskSynonymSearch)
	v.SetDefault("insights.refreshInterval", defaults.RefreshInterval)
	v.SetDefault("insights.retentionPeriod", defaults.RetentionPeriod)
	v.SetDefault("insights.retentionBatch", defaults.RetentionBatch)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		watch = false
	}

	tuning, err := decodeInsightTuning(v)
	if err != nil {
		return nil, err
	}

	holder := &InsightTuningHolder{}
	holder.current.Store(tuning)

	if watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeInsightTuning(v)
			if err != nil {
				log.Warn("invalid config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *InsightTuningHolder) Get() InsightTuning {
	return h.current.Load().(InsightTuning)
}

// decodeInsightTuning layers the file over the defaults. viper does not merge
// key defaults into a map the file supplies, so keys absent from a partial
// insights section keep their default value here.
func decodeInsightTuning(v *viper.Viper) (InsightTuning, error) {
	tuning := DefaultInsightTuning()
	if err := v.UnmarshalKey("insights", &tuning); err != nil {
		return InsightTuning{}, err
	}
	if err := validateInsightTuning(tuning); err != nil {
		return InsightTuning{}, err
	}
	return tuning, nil
}

func validateInsightTuning(t InsightTuning) error {
	if t.PageSizeHardCap <= 0 {
		return errors.New("insights.pageSizeHardCap must be positive")
	}
	if t.DefaultPageSize <= 0 || t.DefaultPageSize > t.PageSizeHardCap {
		return errors.New("insights.defaultPageSize must be within (0, pageSizeHardCap]")
	}
	if t.MaxOffset < 0 {
		return errors.New("insights.maxOffset cannot be negative")
	}
	if t.RefreshInterval < 0 || t.RetentionPeriod < 0 {
		return errors.New("insights durations cannot be negative")
	}
	return nil
}
