package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/crossfield/ssobroker/pkg/storage"
	"github.com/crossfield/ssobroker/pkg/storage/postgres"
	"github.com/crossfield/ssobroker/pkg/storage/sqlite"
)

// storageFlags selects the backend a command operates on. Flags win over the
// SSOB_* environment so one-off runs against another database stay easy.
type storageFlags struct {
	storageType string
	postgresURL string
	sqlitePath  string
	logLevel    string
}

func addStorageFlags(fs *flag.FlagSet) *storageFlags {
	sf := &storageFlags{}
	fs.StringVar(&sf.storageType, "storage-type", getEnv("SSOB_STORAGE_TYPE", "sqlite"), "Storage backend (postgres, sqlite)")
	fs.StringVar(&sf.postgresURL, "postgres-url", getEnv("SSOB_POSTGRES_URL", ""), "PostgreSQL connection URL")
	fs.StringVar(&sf.sqlitePath, "sqlite-path", getEnv("SSOB_SQLITE_PATH", "ssobroker.db"), "SQLite database path")
	fs.StringVar(&sf.logLevel, "log-level", getEnv("SSOB_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	return sf
}

func (sf *storageFlags) open() (storage.Store, error) {
	switch sf.storageType {
	case "postgres":
		if sf.postgresURL == "" {
			return nil, fmt.Errorf("postgres URL is required for postgres storage")
		}
		cfg := storage.DefaultConfig()
		cfg.Type = "postgres"
		cfg.PostgresURL = sf.postgresURL
		return postgres.NewStore(cfg)
	case "sqlite":
		return sqlite.NewStore(sf.sqlitePath)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (must be postgres or sqlite)", sf.storageType)
	}
}

func (sf *storageFlags) logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(sf.logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
