package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/shrek82/oql/config"
	"github.com/shrek82/oql/dialect"
	"github.com/shrek82/oql/logger"
	"github.com/shrek82/oql/model"
	"github.com/shrek82/oql/pool"
)

// Options defines the configuration for the DB connection pool.
type Options struct {
	pool.Options

	Logger  logger.Logger
	Auditor any              // written to created_by and updated_by
	Clock   func() time.Time // audit and soft-delete timestamps
}

// DB is the main entry point for the ORM.
// It manages the database connection pool and runs OQL statements.
type DB struct {
	*session

	pool     pool.Pool
	dialect  dialect.Dialect
	logger   logger.Logger
	validate *validator.Validate
	auditor  any
	now      func() time.Time

	mu          sync.RWMutex
	middlewares []QueryMiddleware
}

// Open initializes a new DB instance with the given driver and DSN.
func Open(driver, dsn string, opts *Options) (*DB, error) {
	if _, ok := dialect.Get(driver); !ok {
		return nil, fmt.Errorf("unknown dialect %s", driver)
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &Error{Kind: ErrConnectionFailed, Err: err}
	}
	db, err := OpenDB(driver, sqlDB, opts)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := db.pool.PingContext(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, &Error{Kind: ErrConnectionFailed, Err: err}
	}
	return db, nil
}

// OpenDB wraps an existing *sql.DB opened for driver.
func OpenDB(driver string, sqlDB *sql.DB, opts *Options) (*DB, error) {
	d, ok := dialect.Get(driver)
	if !ok {
		return nil, fmt.Errorf("unknown dialect %s", driver)
	}
	if opts == nil {
		opts = &Options{}
	}
	db := &DB{
		pool:     pool.NewStdPool(sqlDB, opts.Options),
		dialect:  d,
		logger:   opts.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		auditor:  opts.Auditor,
		now:      opts.Clock,
	}
	if db.logger == nil {
		db.logger = logger.NewStdLogger()
	}
	db.session = &session{db: db, conn: db.pool}
	return db, nil
}

// OpenConfig opens the datasource described by c with its logger settings.
func OpenConfig(c *config.Config) (*DB, error) {
	dsn, err := c.DataSource.ConnString()
	if err != nil {
		return nil, err
	}
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &Options{
		Options: pool.Options{
			MaxOpenConns:    c.DataSource.MaxOpenConns,
			MaxIdleConns:    c.DataSource.MaxIdleConns,
			ConnMaxLifetime: c.DataSource.ConnMaxLifetime,
			ConnMaxIdleTime: c.DataSource.ConnMaxIdleTime,
		},
		Logger: logger.New(
			logger.WithLevel(level),
			logger.WithFormat(logger.LogFormat(c.Log.Format)),
			logger.WithColor(c.Log.Color),
		),
	}
	if c.Auditor != "" {
		opts.Auditor = c.Auditor
	}
	return Open(c.DataSource.Driver, dsn, opts)
}

// Close shuts the middlewares down in reverse order and closes the pool.
func (db *DB) Close() error {
	db.mu.Lock()
	mws := db.middlewares
	db.middlewares = nil
	db.mu.Unlock()

	var errs []error
	for i := len(mws) - 1; i >= 0; i-- {
		if err := mws[i].Shutdown(); err != nil {
			errs = append(errs, errors.WithMessage(err, mws[i].Name()))
		}
	}
	if err := db.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// SetLogger sets a custom logger for the DB.
func (db *DB) SetLogger(l logger.Logger) {
	db.logger = l
}

// Logger returns the statement logger.
func (db *DB) Logger() logger.Logger { return db.logger }

// Dialect returns the dialect of the driver the DB was opened with.
func (db *DB) Dialect() dialect.Dialect { return db.dialect }

// Stats returns the pool statistics.
func (db *DB) Stats() sql.DBStats { return db.pool.Stats() }

// Use initializes and appends middlewares; the first one added runs
// outermost.
func (db *DB) Use(mws ...QueryMiddleware) error {
	for _, m := range mws {
		if err := m.Init(db); err != nil {
			return errors.WithMessagef(err, "init %s", m.Name())
		}
		db.logger.Info("middleware %s enabled", m.Name())
	}
	db.mu.Lock()
	db.middlewares = append(append([]QueryMiddleware(nil), db.middlewares...), mws...)
	db.mu.Unlock()
	return nil
}

func (db *DB) validateEntity(ctx context.Context, entity any) error {
	err := db.validate.StructCtx(ctx, entity)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return errors.Wrap(ErrInvalidModel, invalid.Error())
	}
	return &Error{Kind: ErrValidation, Err: err}
}

// logSQL logs the SQL execution if a logger is set.
func (db *DB) logSQL(sql string, duration time.Duration, args ...any) {
	if db.logger != nil {
		db.logger.SQL(sql, duration, args...)
	}
}

// Begin starts a transaction the caller commits or rolls back.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	start := time.Now()
	sqlTx, err := db.pool.BeginTx(ctx, nil)
	db.logSQL("BEGIN", time.Since(start))
	if err != nil {
		return nil, Classify(err)
	}
	return newTx(db, sqlTx), nil
}

// Transaction executes a function within a database transaction. The
// transaction is rolled back when fn returns an error or panics.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}

// AutoMigrate creates the table for the given entities if it doesn't exist.
func (db *DB) AutoMigrate(values ...any) error {
	ctx := context.Background()
	for _, value := range values {
		s, err := model.Parse(value)
		if err != nil {
			return errors.Wrap(ErrInvalidModel, err.Error())
		}

		sqlStr, args := db.dialect.HasTableSQL(s.Table)
		var count int
		if err := db.pool.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
			return Classify(err)
		}
		if count > 0 {
			continue
		}

		createSQL := dialect.CreateTableSQL(db.dialect, s)
		start := time.Now()
		_, err = db.pool.ExecContext(ctx, createSQL)
		db.logSQL(createSQL, time.Since(start))
		if err != nil {
			return Classify(err)
		}
	}
	return nil
}
