// Package sql implements meta.Store on postgres and sqlite. The schema is created and upgraded
// with embedded goose migrations.
package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/bsv-blockchain/blockvault/util"
	"github.com/bsv-blockchain/blockvault/util/usql"
	"github.com/ordishs/gocore"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

var (
	stat = gocore.NewStat("meta")

	// goose keeps its configuration in globals
	gooseMu sync.Mutex
)

type SQL struct {
	db     *usql.DB
	engine util.SQLEngine
	logger ulogger.Logger
}

func New(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (*SQL, error) {
	logger = logger.New("meta")

	db, err := util.InitSQLDB(logger, storeURL, tSettings)
	if err != nil {
		return nil, errors.NewStorageError("failed to init sql db", err)
	}

	engine := util.EngineOf(storeURL)

	if err = migrate(context.Background(), logger, db, engine); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQL{
		db:     db,
		engine: engine,
		logger: logger,
	}, nil
}

// NewFromDB wraps an already migrated database.
func NewFromDB(logger ulogger.Logger, db *usql.DB, engine util.SQLEngine) *SQL {
	return &SQL{
		db:     db,
		engine: engine,
		logger: logger,
	}
}

func (s *SQL) GetDB() *usql.DB {
	return s.db
}

func (s *SQL) GetDBEngine() util.SQLEngine {
	return s.engine
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) Health(ctx context.Context, _ bool) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return http.StatusServiceUnavailable, "Database connection error", errors.NewStorageUnavailableError("failed to ping %s", s.engine, err)
	}

	return http.StatusOK, "OK", nil
}

func migrate(ctx context.Context, logger ulogger.Logger, db *usql.DB, engine util.SQLEngine) error {
	var (
		dialect string
		dir     string
	)

	switch engine {
	case util.Postgres:
		dialect, dir = "postgres", "migrations/postgres"
	case util.Sqlite, util.SqliteMemory:
		dialect, dir = "sqlite3", "migrations/sqlite"
	default:
		return errors.NewConfigurationError("unknown database engine: %s", engine)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{logger: logger})

	if err := goose.SetDialect(dialect); err != nil {
		return errors.NewConfigurationError("unsupported goose dialect %s", dialect, err)
	}

	if err := goose.UpContext(ctx, db.DB, dir); err != nil {
		return errors.NewStorageError("failed to migrate %s schema", engine, err)
	}

	return nil
}

// gooseLogger sends migration progress to the debug log.
type gooseLogger struct {
	logger ulogger.Logger
}

func (g *gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Debugf("[Meta][Migrate] "+strings.TrimSuffix(format, "\n"), v...)
}

func (g *gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Fatalf("[Meta][Migrate] "+strings.TrimSuffix(format, "\n"), v...)
}

func notFound(err error, format string, params ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError(format, params...)
	}

	return errors.NewStorageError(fmt.Sprintf(format, params...), err)
}
