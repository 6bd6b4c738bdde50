// Package config собирает конфигурацию риск-ядра из переменных окружения
// и вспомогательного YAML-файла (time_regimes, feature_flags), по образцу
// плоского env-загрузчика арбитражного бота, но с typed RiskConfig вместо
// набора разрозненных BotConfig-полей.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// Config - вся конфигурация процесса.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Broker       BrokerConfig
	Feed         FeedConfig
	Risk         RiskConfig
	Logging      LoggingConfig
	Regimes      map[string]models.RegimeWindow
	FeatureFlags FeatureFlags
	PaperTrading PaperTradingConfig
}

// ServerConfig - настройки admin HTTP-сервера.
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - подключение к хранилищу трекеров.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// RedisConfig - подключение к warm-cache / daily-limits / edge-failure store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// BrokerConfig - параметры подключения к внешнему BrokerGateway.
type BrokerConfig struct {
	AccessToken string
	QuoteTimeout  time.Duration
	OrderTimeout  time.Duration
}

// FeedConfig - адрес потокового апстрима для MarketFeedHub.
type FeedConfig struct {
	WSURL string
}

// LoggingConfig - настройки логирования.
type LoggingConfig struct {
	Level       string
	Format      string
	Development bool
}

// FeatureFlags - переключатели поведения, не связанные напрямую с порогами.
type FeatureFlags struct {
	EnableDemandDrivenServices   bool
	EnableUnderlyingAwareExits   bool
	EnablePeakDrawdownActivation bool
}

// PaperTradingConfig - параметры симулированной торговли.
type PaperTradingConfig struct {
	Enabled                 bool
	RealtimeIntervalSeconds int
}

// PeakDrawdownTier - одна ступень таблицы: при peak_profit_pct в
// диапазоне [From, To) допустимый откат равен DrawdownPct.
type PeakDrawdownTier struct {
	FromPct      float64
	ToPct        float64 // 0 означает "без верхней границы"
	DrawdownPct  float64
}

// DrawdownForPeak возвращает порог отката для данного значения peak,
// либо 0, если peak не попадает ни в одну ступень (правило не включается).
func (c RiskConfig) DrawdownForPeak(peakPct float64) float64 {
	for _, tier := range c.PeakDrawdownTiers {
		if peakPct >= tier.FromPct && (tier.ToPct == 0 || peakPct < tier.ToPct) {
			return tier.DrawdownPct
		}
	}
	return 0
}

func defaultPeakDrawdownTiers() []PeakDrawdownTier {
	return []PeakDrawdownTier{
		{FromPct: 5, ToPct: 10, DrawdownPct: 3},
		{FromPct: 10, ToPct: 20, DrawdownPct: 4},
		{FromPct: 20, ToPct: 0, DrawdownPct: 5},
	}
}

// EdgeFailureDetectorConfig - пороги трёх независимых брейкеров 
type EdgeFailureDetectorConfig struct {
	Enabled                      bool
	RollingWindowSize            int
	RollingWindowThresholdRupees decimal.Decimal
	MaxConsecutiveSLs            int
	PauseDurationMinutes         int
	SessionBasedPause            bool
	S3MaxConsecutiveSLs          int
	S4StartTime                  string
}

// RiskConfig - объединённый, иммутабельный набор порогов риск-движка.
// Канонические ключи risk.* переопределяют устаревшие алиасы
// position_sizing.* при загрузке (см. normalizeLegacyAliases).
type RiskConfig struct {
	SLPct    float64
	TPPct    float64
	ExitDropPct float64

	TimeExitHHMM      string
	MarketCloseHHMM   string
	MinProfitRupees   decimal.Decimal

	SecureProfitThresholdRupees decimal.Decimal
	SecureProfitDrawdownPct     float64

	PeakDrawdownPct       float64
	ActivationProfitPct   float64
	ActivationSLOffsetPct float64
	PeakDrawdownTiers     []PeakDrawdownTier

	UnderlyingTrendScoreThreshold   float64
	UnderlyingATRCollapseMultiplier float64

	LoopIntervalIdle   time.Duration
	LoopIntervalActive time.Duration

	MaxDailyProfit        decimal.Decimal
	MaxDailyLossPct       float64
	MaxGlobalDailyLossPct float64
	ProfitThresholdRupees decimal.Decimal

	EdgeFailureDetector EdgeFailureDetectorConfig

	HardEntryCutoffHHMM string

	MaxSameSide         int
	PyramidMinProfitWindow time.Duration
	CooldownSec         int
}

// Load загружает Config из переменных окружения и, если он существует,
// из YAML-файла regimesPath (time_regimes + feature_flags). Отсутствие
// YAML-файла не является ошибкой - используются дефолтные режимы.
func Load(regimesPath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8090),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "riskcore"),
			User:     getEnv("DB_USER", "riskcore"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Broker: BrokerConfig{
			AccessToken:  getEnv("BROKER_ACCESS_TOKEN", ""),
			QuoteTimeout: getEnvAsDuration("BROKER_QUOTE_TIMEOUT", 3*time.Second),
			OrderTimeout: getEnvAsDuration("BROKER_ORDER_TIMEOUT", 5*time.Second),
		},
		Feed: FeedConfig{
			WSURL: getEnv("FEED_WS_URL", ""),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Development: getEnvAsBool("LOG_DEV", false),
		},
		Risk: RiskConfig{
			SLPct:       getEnvAsFloatAlias([]string{"RISK_SL_PCT", "STOP_LOSS_PCT"}, 2.0),
			TPPct:       getEnvAsFloatAlias([]string{"RISK_TP_PCT", "TAKE_PROFIT_PCT"}, 5.0),
			ExitDropPct: getEnvAsFloat("RISK_EXIT_DROP_PCT", 20.0),

			TimeExitHHMM:    getEnv("RISK_TIME_EXIT_HHMM", "15:15"),
			MarketCloseHHMM: getEnv("RISK_MARKET_CLOSE_HHMM", "15:30"),
			MinProfitRupees: getEnvAsDecimal("RISK_MIN_PROFIT_RUPEES", decimal.Zero),

			SecureProfitThresholdRupees: getEnvAsDecimal("RISK_SECURE_PROFIT_THRESHOLD_RUPEES", decimal.NewFromInt(1000)),
			SecureProfitDrawdownPct:     getEnvAsFloat("RISK_SECURE_PROFIT_DRAWDOWN_PCT", 10.0),

			PeakDrawdownPct:       getEnvAsFloat("RISK_PEAK_DRAWDOWN_PCT", 0),
			ActivationProfitPct:   getEnvAsFloat("RISK_ACTIVATION_PROFIT_PCT", 0),
			ActivationSLOffsetPct: getEnvAsFloat("RISK_ACTIVATION_SL_OFFSET_PCT", 0),
			PeakDrawdownTiers:     defaultPeakDrawdownTiers(),

			UnderlyingTrendScoreThreshold:   getEnvAsFloat("RISK_UNDERLYING_TREND_SCORE_THRESHOLD", 0),
			UnderlyingATRCollapseMultiplier: getEnvAsFloat("RISK_UNDERLYING_ATR_COLLAPSE_MULTIPLIER", 0),

			LoopIntervalIdle:   getEnvAsDuration("RISK_LOOP_INTERVAL_IDLE", 5*time.Second),
			LoopIntervalActive: getEnvAsDuration("RISK_LOOP_INTERVAL_ACTIVE", 500*time.Millisecond),

			MaxDailyProfit:        getEnvAsDecimal("RISK_MAX_DAILY_PROFIT", decimal.NewFromInt(20000)),
			MaxDailyLossPct:       getEnvAsFloat("RISK_MAX_DAILY_LOSS_PCT", 0),
			MaxGlobalDailyLossPct: getEnvAsFloat("RISK_MAX_GLOBAL_DAILY_LOSS_PCT", 0),
			ProfitThresholdRupees: getEnvAsDecimal("RISK_PROFIT_THRESHOLD_RUPEES", decimal.NewFromInt(20000)),

			EdgeFailureDetector: EdgeFailureDetectorConfig{
				Enabled:                      getEnvAsBool("RISK_EFD_ENABLED", true),
				RollingWindowSize:            getEnvAsInt("RISK_EFD_ROLLING_WINDOW_SIZE", 5),
				RollingWindowThresholdRupees: getEnvAsDecimal("RISK_EFD_ROLLING_WINDOW_THRESHOLD_RUPEES", decimal.NewFromInt(-2000)),
				MaxConsecutiveSLs:            getEnvAsInt("RISK_EFD_MAX_CONSECUTIVE_SLS", 3),
				PauseDurationMinutes:         getEnvAsInt("RISK_EFD_PAUSE_DURATION_MINUTES", 30),
				SessionBasedPause:            getEnvAsBool("RISK_EFD_SESSION_BASED_PAUSE", true),
				S3MaxConsecutiveSLs:          getEnvAsInt("RISK_EFD_S3_MAX_CONSECUTIVE_SLS", 2),
				S4StartTime:                  getEnv("RISK_EFD_S4_START_TIME", "14:00"),
			},

			HardEntryCutoffHHMM: getEnv("RISK_HARD_ENTRY_CUTOFF_HHMM", "15:00"),

			MaxSameSide:            getEnvAsInt("RISK_MAX_SAME_SIDE", 1),
			PyramidMinProfitWindow: getEnvAsDuration("RISK_PYRAMID_MIN_PROFIT_WINDOW", 5*time.Minute),
			CooldownSec:            getEnvAsInt("RISK_COOLDOWN_SEC", 30),
		},
		FeatureFlags: FeatureFlags{
			EnableDemandDrivenServices:   getEnvAsBool("FF_ENABLE_DEMAND_DRIVEN_SERVICES", false),
			EnableUnderlyingAwareExits:   getEnvAsBool("FF_ENABLE_UNDERLYING_AWARE_EXITS", false),
			EnablePeakDrawdownActivation: getEnvAsBool("FF_ENABLE_PEAK_DRAWDOWN_ACTIVATION", false),
		},
		PaperTrading: PaperTradingConfig{
			Enabled:                 getEnvAsBool("PAPER_TRADING_ENABLED", true),
			RealtimeIntervalSeconds: getEnvAsInt("PAPER_TRADING_REALTIME_INTERVAL_SECONDS", 5),
		},
	}

	normalizeLegacyAliases(&cfg.Risk)

	regimes, err := loadRegimes(regimesPath)
	if err != nil {
		return nil, fmt.Errorf("load time regimes: %w", err)
	}
	cfg.Regimes = regimes

	return cfg, nil
}

// normalizeLegacyAliases переносит значения устаревших алиасов
// (position_sizing.*) в канонические поля risk.*, если канонический ключ
// не был задан явно. Здесь оставлено как документирующая функция: в
// текущей версии getEnvAsFloatAlias уже разрешает алиасы на чтении, поэтому
// normalizeLegacyAliases не переписывает ничего - это явная точка
// расширения, когда добавится следующий устаревший ключ.
func normalizeLegacyAliases(r *RiskConfig) {}

type regimesFile struct {
	TimeRegimes map[string]struct {
		Start         string  `yaml:"start"`
		End           string  `yaml:"end"`
		SLMultiplier  float64 `yaml:"sl_multiplier"`
		TPMultiplier  float64 `yaml:"tp_multiplier"`
		AllowEntries  bool    `yaml:"allow_entries"`
		AllowTrailing bool    `yaml:"allow_trailing"`
		AllowRunners  bool    `yaml:"allow_runners"`
		MinADX        float64 `yaml:"min_adx"`
		MaxTPRupees   float64 `yaml:"max_tp_rupees"`
	} `yaml:"time_regimes"`
}

func loadRegimes(path string) (map[string]models.RegimeWindow, error) {
	out := defaultRegimes()
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	var parsed regimesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse regimes yaml: %w", err)
	}
	for name, r := range parsed.TimeRegimes {
		out[name] = models.RegimeWindow{
			Name:          models.RegimeName(name),
			Start:         r.Start,
			End:           r.End,
			SLMultiplier:  r.SLMultiplier,
			TPMultiplier:  r.TPMultiplier,
			AllowEntries:  r.AllowEntries,
			AllowTrailing: r.AllowTrailing,
			AllowRunners:  r.AllowRunners,
			MinADX:        r.MinADX,
			MaxTPRupees:   r.MaxTPRupees,
		}
	}
	return out, nil
}

// defaultRegimes задаёт разумные дефолты на случай отсутствия YAML-файла -
// NSE-сессия 09:15-15:30 IST, разбитая на шесть фаз.
func defaultRegimes() map[string]models.RegimeWindow {
	return map[string]models.RegimeWindow{
		string(models.RegimePreMarket): {
			Name: models.RegimePreMarket, Start: "09:00", End: "09:15",
			AllowEntries: false, AllowTrailing: false,
		},
		string(models.RegimeOpenExpansion): {
			Name: models.RegimeOpenExpansion, Start: "09:15", End: "09:45",
			SLMultiplier: 1.2, TPMultiplier: 1.2, AllowEntries: true, AllowTrailing: true, AllowRunners: true,
		},
		string(models.RegimeTrendContinuation): {
			Name: models.RegimeTrendContinuation, Start: "09:45", End: "13:00",
			SLMultiplier: 1.0, TPMultiplier: 1.0, AllowEntries: true, AllowTrailing: true, AllowRunners: true,
		},
		string(models.RegimeChopDecay): {
			Name: models.RegimeChopDecay, Start: "13:00", End: "14:15",
			SLMultiplier: 0.8, TPMultiplier: 0.8, AllowEntries: true, AllowTrailing: true, AllowRunners: false,
		},
		string(models.RegimeCloseGamma): {
			Name: models.RegimeCloseGamma, Start: "14:15", End: "15:30",
			SLMultiplier: 0.6, TPMultiplier: 0.6, AllowEntries: true, AllowTrailing: true, AllowRunners: false,
		},
		string(models.RegimePostMarket): {
			Name: models.RegimePostMarket, Start: "15:30", End: "09:00",
			AllowEntries: false, AllowTrailing: false,
		},
	}
}

// Вспомогательные функции для чтения переменных окружения.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloatAlias читает первый заданный ключ из keys - используется,
// чтобы канонический risk.* ключ имел приоритет над устаревшим алиасом
// (например RISK_SL_PCT над STOP_LOSS_PCT) без дублирования вызовов.
func getEnvAsFloatAlias(keys []string, defaultValue float64) float64 {
	for _, key := range keys {
		if valueStr := os.Getenv(key); valueStr != "" {
			if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
				return value
			}
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
