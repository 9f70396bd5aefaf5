package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	badgerdb "github.com/arkade-os/cat721-send/internal/infrastructure/db/badger"
	pgdb "github.com/arkade-os/cat721-send/internal/infrastructure/db/postgres"
	sqlitedb "github.com/arkade-os/cat721-send/internal/infrastructure/db/sqlite"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed sqlite/migration/*
var migrations embed.FS

//go:embed postgres/migration/*
var pgMigration embed.FS

var (
	batchStoreTypes = map[string]func(...interface{}) (domain.BatchRepository, error){
		"badger":   badgerdb.NewBatchRepository,
		"sqlite":   sqlitedb.NewBatchRepository,
		"postgres": pgdb.NewBatchRepository,
	}
	transferStoreTypes = map[string]func(...interface{}) (domain.TransferRepository, error){
		"badger":   badgerdb.NewTransferRepository,
		"sqlite":   sqlitedb.NewTransferRepository,
		"postgres": pgdb.NewTransferRepository,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

type service struct {
	batchStore    domain.BatchRepository
	transferStore domain.TransferRepository
}

// NewService opens the batch journal. Badger expects [baseDir, logger] (an
// empty dir keeps the journal in memory), sqlite [baseDir] and postgres
// [dsn, autoCreate].
func NewService(config ServiceConfig) (ports.RepoManager, error) {
	newBatchStore, ok := batchStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	newTransferStore := transferStoreTypes[config.DataStoreType]

	storeConfig := config.DataStoreConfig
	if config.DataStoreType != "badger" {
		var db *sql.DB
		var err error
		if config.DataStoreType == "postgres" {
			db, err = openPostgres(storeConfig)
		} else {
			db, err = openSqlite(storeConfig)
		}
		if err != nil {
			return nil, err
		}
		storeConfig = []interface{}{db}
	}

	batchStore, err := newBatchStore(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch store: %s", err)
	}
	transferStore, err := newTransferStore(storeConfig...)
	if err != nil {
		batchStore.Close()
		return nil, fmt.Errorf("failed to open transfer store: %s", err)
	}

	return &service{batchStore, transferStore}, nil
}

func openPostgres(config []interface{}) (*sql.DB, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid data store config for postgres")
	}
	dsn, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid DSN for postgres")
	}
	autoCreate, ok := config[1].(bool)
	if !ok {
		return nil, fmt.Errorf("invalid autocreate flag for postgres")
	}

	db, err := pgdb.OpenDb(dsn, autoCreate)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %s", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to init postgres migration driver: %s", err)
	}
	if err := runMigrations(pgMigration, "postgres/migration", "postgres", driver); err != nil {
		return nil, err
	}
	return db, nil
}

func openSqlite(config []interface{}) (*sql.DB, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid data store config for sqlite")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}

	db, err := sqlitedb.OpenDb(filepath.Join(baseDir, sqliteDbFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %s", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to init sqlite migration driver: %s", err)
	}
	if err := runMigrations(migrations, "sqlite/migration", "cat721db", driver); err != nil {
		return nil, err
	}
	return db, nil
}

func (s *service) Batches() domain.BatchRepository {
	return s.batchStore
}

func (s *service) Transfers() domain.TransferRepository {
	return s.transferStore
}

func (s *service) Close() {
	s.batchStore.Close()
	s.transferStore.Close()
}

func runMigrations(fs embed.FS, dir, dbName string, driver database.Driver) error {
	src, err := iofs.New(fs, dir)
	if err != nil {
		return fmt.Errorf("failed to embed migrations: %s", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %s", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %s", err)
	}
	log.Debugf("%s journal schema is up to date", dbName)
	return nil
}
