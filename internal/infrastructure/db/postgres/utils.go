package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const driverName = "postgres"

// OpenDb opens the db at dsn and checks it is reachable. With autoCreate set,
// a missing database is created first.
func OpenDb(dsn string, autoCreate bool) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = db.PingContext(ctx)
	if isMissingDb(err) && autoCreate {
		log.Info("postgres database does not exist, creating it...")
		if err = createDb(ctx, dsn); err == nil {
			err = db.PingContext(ctx)
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to establish connection with db: %v", err)
	}

	return db, nil
}

// isMissingDb reports a 3D000 invalid_catalog_name error.
func isMissingDb(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "3D000"
}

// createDb connects to the server's default db and creates the one named in
// the dsn path. Only URL-style dsns are supported.
func createDb(ctx context.Context, dsn string) error {
	rootDsn, dbName, err := splitDsn(dsn)
	if err != nil {
		return err
	}

	rootDb, err := sql.Open(driverName, rootDsn)
	if err != nil {
		return err
	}
	defer rootDb.Close()

	query := "CREATE DATABASE " + pq.QuoteIdentifier(dbName)
	log.Debugf("executing query '%s'", query)
	_, err = rootDb.ExecContext(ctx, query)
	return err
}

func splitDsn(dsn string) (string, string, error) {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return "", "", fmt.Errorf("cannot auto-create database unless the dsn is in url format")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", err
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return "", "", fmt.Errorf("cannot auto-create database with empty name")
	}
	u.Path = ""
	return u.String(), dbName, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func checkDb(config []interface{}, name string) (*sql.DB, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open %s repository: expected *sql.DB but got %T", name, config[0],
		)
	}
	return db, nil
}
