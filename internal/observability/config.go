package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/milkrun/internal/config"
)

// Config holds observability settings resolved from the app config and OTEL_* env.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	NodeID int64

	LogLevel  string
	LogFormat string

	// LogSQL logs every statement at debug; otherwise only failed and slow ones.
	LogSQL          bool
	SlowQuery       time.Duration
	LedgerSlowQuery time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "milkrun"
	}
	otlpProtocol := strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	if tracesProtocol := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); tracesProtocol != "" {
		otlpProtocol = strings.ToLower(tracesProtocol)
	}
	endpoint := getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(getenv("DEPLOYMENT_ENV", cfg.Environment)),
		Version:              strings.TrimSpace(getenv("SERVICE_VERSION", cfg.AppVersion)),
		NodeID:               cfg.NodeID,
		LogLevel:             strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(getenv("LOG_FORMAT", "json")),
		LogSQL:               getenvBool("LOG_SQL", false),
		SlowQuery:            getenvMillis("DB_SLOW_QUERY_MS", 250),
		LedgerSlowQuery:      getenvMillis("DB_LEDGER_SLOW_QUERY_MS", 100),
		OtelEnabled:          getenvBool("OTEL_ENABLED", strings.TrimSpace(endpoint) != ""),
		OtelExporterEndpoint: strings.TrimSpace(endpoint),
		OtelExporterProtocol: otlpProtocol,
		OtelSamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

// Debug reports whether verbose logging should be on.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvMillis(key string, def int) time.Duration {
	ms, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || ms < 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}
