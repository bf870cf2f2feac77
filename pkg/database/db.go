// Package database is the MySQL access layer. Expected schema:
//
//	CREATE TABLE categories (
//	  id BIGINT AUTO_INCREMENT PRIMARY KEY,
//	  name VARCHAR(255) NOT NULL UNIQUE,
//	  description TEXT NULL
//	);
//
//	CREATE TABLE review_histories (
//	  id BIGINT AUTO_INCREMENT PRIMARY KEY,
//	  review_id VARCHAR(64) NOT NULL,
//	  text TEXT NULL,
//	  stars INT NOT NULL,
//	  tone VARCHAR(32) NULL,
//	  sentiment VARCHAR(32) NULL,
//	  category_id BIGINT NOT NULL,
//	  created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
//	  updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
//	  KEY idx_review_key (review_id, created_at),
//	  KEY idx_category (category_id, created_at),
//	  CONSTRAINT fk_review_category FOREIGN KEY (category_id) REFERENCES categories(id)
//	);
//
//	CREATE TABLE access_logs (
//	  id BIGINT AUTO_INCREMENT PRIMARY KEY,
//	  text TEXT NOT NULL,
//	  created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
//	);
//
// review_histories rows are immutable after insert except for tone,
// sentiment and updated_at, which the enrichment worker populates.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"review-analytics/pkg/config"
	errs "review-analytics/pkg/errors"

	_ "github.com/go-sql-driver/mysql"
)

const (
	readTimeoutDefault  = 8 * time.Second
	writeTimeoutDefault = 6 * time.Second
)

type DB struct {
	conn         *sql.DB
	stmts        map[string]*sql.Stmt
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New opens a connection pool with default settings.
func New(databaseURL string) (*DB, error) {
	return open(databaseURL, 25, 10, 10*time.Minute, 5*time.Minute, readTimeoutDefault, writeTimeoutDefault)
}

// NewWithConfig opens a connection pool using configured pool limits and
// statement timeouts.
func NewWithConfig(databaseURL string, cfg *config.Config) (*DB, error) {
	rt := cfg.DBReadTimeout
	if rt == 0 {
		rt = readTimeoutDefault
	}
	wt := cfg.DBWriteTimeout
	if wt == 0 {
		wt = writeTimeoutDefault
	}
	return open(databaseURL,
		cfg.DBMaxOpenConns,
		cfg.DBMaxIdleConns,
		time.Duration(cfg.DBConnMaxLifetime)*time.Minute,
		time.Duration(cfg.DBConnMaxIdleTime)*time.Minute,
		rt, wt)
}

func open(databaseURL string, maxOpen, maxIdle int, maxLifetime, maxIdleTime, readTO, writeTO time.Duration) (*DB, error) {
	conn, err := sql.Open("mysql", databaseURL)
	if err != nil {
		return nil, err
	}

	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(maxLifetime)
	conn.SetConnMaxIdleTime(maxIdleTime)

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{
		conn:         conn,
		stmts:        make(map[string]*sql.Stmt),
		readTimeout:  readTO,
		writeTimeout: writeTO,
	}

	if err := db.prepareStatements(); err != nil {
		return nil, errs.NewDB("database.open", "failed to prepare statements", err)
	}

	return db, nil
}

// prepareStatements prepares the hot-path statements. The enrichment update
// runs once per processed job and the audit insert once per log job, so both
// are worth preparing up front.
func (db *DB) prepareStatements() error {
	statements := map[string]string{
		"updateReviewAnalysis": `UPDATE review_histories
		                         SET tone = ?, sentiment = ?, updated_at = NOW(6)
		                         WHERE id = ?`,
		"insertAccessLog": `INSERT INTO access_logs (text, created_at) VALUES (?, NOW(6))`,
		"categoryExists":  `SELECT 1 FROM categories WHERE id = ? LIMIT 1`,
	}

	for name, query := range statements {
		stmt, err := db.conn.Prepare(query)
		if err != nil {
			return errs.NewDB("database.prepareStatements", fmt.Sprintf("failed to prepare statement %s", name), err)
		}
		db.stmts[name] = stmt
	}

	return nil
}

// Close closes the database connection and prepared statements.
func (db *DB) Close() error {
	for _, stmt := range db.stmts {
		stmt.Close()
	}
	return db.conn.Close()
}

// Conn exposes the raw pool for health checks.
func (db *DB) Conn() *sql.DB { return db.conn }

// PingCtx verifies connectivity.
func (db *DB) PingCtx(ctx context.Context) error {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()
	return db.conn.PingContext(ctx)
}

// withReadTimeout creates a context with the standard read timeout.
func (db *DB) withReadTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, db.readTimeout)
}

// withWriteTimeout creates a context with the standard write timeout.
func (db *DB) withWriteTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, db.writeTimeout)
}
