package config

import (
	"os"
	"strings"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string
	HTTPPort     string
	PostgresDSN  string
	KafkaBrokers []string
	PolicyPath   string

	MigrateOnStart bool

	EnableGovernanceLedgerProjection bool
	EnableFractionPollConsumer       bool
	EnableCustodyLedgerProjection    bool
}

func Load() (Config, error) {
	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "agora"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	return Config{
		ServiceName:  service,
		HTTPPort:     port,
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		KafkaBrokers: brokers,
		PolicyPath:   strings.TrimSpace(os.Getenv("GOVERNANCE_POLICY_PATH")),

		MigrateOnStart: envBool("MIGRATE_ON_START", false),

		EnableGovernanceLedgerProjection: envBool("ENABLE_GOVERNANCE_LEDGER_PROJECTION", true),
		EnableFractionPollConsumer:       envBool("ENABLE_FRACTION_POLL_CONSUMER", true),
		EnableCustodyLedgerProjection:    envBool("ENABLE_CUSTODY_LEDGER_PROJECTION", true),
	}, nil
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
