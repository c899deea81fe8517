package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	host     string
	user     string
	password string
	port     string
	dbname   string
	sslmode  string
}

func (c Config) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.user, c.password, c.host, c.port, c.dbname, c.sslmode)
}

func NewConfig(host, user, password, port, dbname, sslmode string) Config {
	return Config{
		host:     host,
		user:     user,
		password: password,
		port:     port,
		dbname:   dbname,
		sslmode:  sslmode,
	}
}

func LoadConfiguration(ctx context.Context) Config {
	return Config{
		host:     env.GetVariableOrDefault(ctx, "POSTGRES_HOST", ""),
		user:     env.GetVariableOrDefault(ctx, "POSTGRES_USER", ""),
		password: env.GetVariableOrDefault(ctx, "POSTGRES_PASSWORD", ""),
		port:     env.GetVariableOrDefault(ctx, "POSTGRES_PORT", "5432"),
		dbname:   env.GetVariableOrDefault(ctx, "POSTGRES_DBNAME", "diwise"),
		sslmode:  env.GetVariableOrDefault(ctx, "POSTGRES_SSLMODE", "disable"),
	}
}

var (
	ErrNoRows              = errors.New("no rows in result set")
	ErrQueryRow            = errors.New("could not execute query")
	ErrStoreFailed         = errors.New("could not store data")
	ErrAlreadyExist        = errors.New("already exists")
	ErrAlreadyAcknowledged = errors.New("already acknowledged")
)

type Storage struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, config Config) (*pgxpool.Pool, error) {
	p, err := pgxpool.New(ctx, config.ConnStr())
	if err != nil {
		return nil, err
	}

	err = p.Ping(ctx)
	if err != nil {
		return nil, err
	}

	return p, nil
}

func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

func New(ctx context.Context, config Config) (*Storage, error) {
	pool, err := NewPool(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Storage{pool: pool}, nil
}

func (s *Storage) Initialize(ctx context.Context) error {
	return s.createTables(ctx)
}

func (s *Storage) createTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS devices (
			device_id	TEXT 	NOT NULL,
			status		TEXT	NOT NULL DEFAULT 'online',
			data 		JSONB	NOT NULL,
			location 	POINT 	NULL,
			tenant		TEXT 	NOT NULL,
			last_seen	timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_on  timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			modified_on	timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT pkey_devices_unique PRIMARY KEY (device_id)
		);

		CREATE TABLE IF NOT EXISTS readings (
			reading_id	TEXT 	NOT NULL,
			device_id	TEXT 	NULL,
			source		TEXT	NOT NULL,
			ts			timestamp with time zone NOT NULL,
			score		NUMERIC NOT NULL,
			status		TEXT	NOT NULL,
			acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
			data 		JSONB	NOT NULL,
			location 	POINT 	NULL,
			tenant		TEXT 	NOT NULL,
			created_on  timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT pkey_readings_unique PRIMARY KEY (reading_id)
		);

		CREATE INDEX IF NOT EXISTS readings_device_ts_idx ON readings (device_id, ts);
		CREATE INDEX IF NOT EXISTS readings_source_ts_idx ON readings (source, ts);
		CREATE INDEX IF NOT EXISTS devices_status_idx ON devices (status, last_seen);
	`)
	if err != nil {
		return err
	}

	return nil
}

func (s *Storage) Close() {
	s.pool.Close()
}
