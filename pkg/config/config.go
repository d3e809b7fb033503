package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	// Bridge (EA protocol server)
	BridgeAddr       string
	ReadTimeout      time.Duration
	HeartbeatTimeout time.Duration
	QueueSize        int
	MaxFrameBytes    int

	// Admin API
	AdminPort     string
	JWTSecret     string
	AdminUser     string
	AdminPassword string // plain text or bcrypt hash (prefix $2)

	// Signals
	Symbols       []string
	MagicNumber   int
	SignalComment string

	// Risk budget
	AccountBalance   float64
	RiskLevel        string // "conservative", "moderate", "aggressive"
	MaxRiskPerTrade  float64
	MaxPortfolioRisk float64
	MinLotSize       float64

	// Validation
	TimeframesPath string
	MinConfidence  float64
	MinConsensus   float64
	SimulationMode bool

	// Analytics
	SortinoTarget  float64
	PeriodsPerYear float64
	ReturnWindow   int

	// Predictor worker
	EnablePredictor   bool
	PredictorAddr     string
	PredictorInterval time.Duration

	// Reconciliation
	ReconcileInterval time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		BridgeAddr:       getEnv("BRIDGE_ADDR", ":9090"),
		ReadTimeout:      getEnvDuration("BRIDGE_READ_TIMEOUT", 30*time.Second),
		HeartbeatTimeout: getEnvDuration("BRIDGE_HEARTBEAT_TIMEOUT", 90*time.Second),
		QueueSize:        getEnvInt("SIGNAL_QUEUE_SIZE", 100),
		MaxFrameBytes:    getEnvInt("MAX_FRAME_BYTES", 1<<20),

		AdminPort:     getEnv("ADMIN_PORT", "8080"),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret"),
		AdminUser:     getEnv("ADMIN_USER", "admin"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		Symbols:       splitAndTrim(getEnv("SYMBOLS", "EURUSD,GBPUSD,USDJPY,XAUUSD")),
		MagicNumber:   getEnvInt("MAGIC_NUMBER", 123456),
		SignalComment: getEnv("SIGNAL_COMMENT", "GenX"),

		AccountBalance:   getEnvFloat("ACCOUNT_BALANCE", 10000.0),
		RiskLevel:        strings.ToLower(getEnv("RISK_LEVEL", "moderate")),
		MaxRiskPerTrade:  getEnvFloat("MAX_RISK_PER_TRADE", 0.02),
		MaxPortfolioRisk: getEnvFloat("MAX_PORTFOLIO_RISK", 0.10),
		MinLotSize:       getEnvFloat("MIN_LOT_SIZE", 0.01),

		TimeframesPath: getEnv("TIMEFRAMES_PATH", "timeframes.yaml"),
		MinConfidence:  getEnvFloat("MIN_CONFIDENCE", 0.60),
		MinConsensus:   getEnvFloat("MIN_CONSENSUS", 0.30),
		SimulationMode: getEnv("SIMULATION_MODE", "false") == "true",

		SortinoTarget:  getEnvFloat("SORTINO_TARGET", 0.0),
		PeriodsPerYear: getEnvFloat("PERIODS_PER_YEAR", 252),
		ReturnWindow:   getEnvInt("RETURN_WINDOW", 256),

		EnablePredictor:   getEnv("ENABLE_PREDICTOR", "false") == "true",
		PredictorAddr:     getEnv("PREDICTOR_ADDR", "localhost:50051"),
		PredictorInterval: getEnvDuration("PREDICTOR_INTERVAL", time.Minute),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),

		DBPath: getEnv("DB_PATH", "./data/genx.db"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
