package server

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies schema migrations from a source like "file://migrations".
// An already-current schema is not an error.
func Migrate(dir, dsn, direction string, steps int) error {
	if dir == "" {
		dir = "file://migrations"
	}
	if dsn == "" {
		dsn = fallbackDSN()
	}

	m, err := migrate.New(dir, dsn)
	if err != nil {
		return err
	}

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// fallbackDSN assembles a connection string from the environment for callers
// without a loaded config, mirroring the FINSIGHT_STORAGE_POSTGRES_* keys
// viper binds.
func fallbackDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := envDefault("FINSIGHT_STORAGE_POSTGRES_HOST", "localhost")
	port := envDefault("FINSIGHT_STORAGE_POSTGRES_PORT", "5432")
	user := os.Getenv("FINSIGHT_STORAGE_POSTGRES_USER")
	pass := os.Getenv("FINSIGHT_STORAGE_POSTGRES_PASSWORD")
	db := os.Getenv("FINSIGHT_STORAGE_POSTGRES_DBNAME")
	ssl := envDefault("FINSIGHT_STORAGE_POSTGRES_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
