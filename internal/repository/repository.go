package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Credentials selects the dialect. Path is the sqlite file (or ":memory:"); the
// network fields are used for postgres.
type Credentials struct {
	Driver            string `koanf:"driver"`
	Host              string `koanf:"host"`
	Port              int    `koanf:"port"`
	User              string `koanf:"user"`
	Password          string `koanf:"password"`
	DBName            string `koanf:"dbname"`
	Path              string `koanf:"path"`
	MigrationsDirPath string `koanf:"migrations_dir"`
}

func (c *Credentials) dsn() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName)
}

// Repository stores capture incidents and the outbox of events relayed to kafka.
type Repository struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

type RepoInterface interface {
	Close() error
	Ping(ctx context.Context) error
	RunMigrations(*Credentials) error
}

func NewRepository(cred *Credentials, logger *zap.Logger) (*Repository, error) {
	driver := cred.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	cred.Driver = driver

	db, err := sql.Open(driver, cred.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	if driver == DriverSQLite {
		// a second connection to ":memory:" would see an empty database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(10)
	}
	logger.Info("connected to database", zap.String("driver", driver))
	return &Repository{db: db, driver: driver, logger: logger}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	var (
		driver database.Driver
		err    error
	)
	if r.driver == DriverSQLite {
		driver, err = migratesqlite.WithInstance(r.db, &migratesqlite.Config{})
	} else {
		driver, err = postgres.WithInstance(r.db, &postgres.Config{
			MigrationsTable: "checkout_gateway_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		r.driver,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// rebind rewrites $N placeholders for sqlite. Arguments are always passed in
// placeholder order.
func (r *Repository) rebind(query string) string {
	if r.driver != DriverSQLite {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if _, err := strconv.Atoi(query[i+1 : j]); err != nil {
			b.WriteByte(query[i])
			continue
		}
		b.WriteByte('?')
		i = j - 1
	}
	return b.String()
}
