package track

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is a Sink that records each run and its accepted trajectory
// rows into SQLite. Each run gets a fresh UUID so multiple retracks of the
// same input can coexist in one database.
type SQLiteStore struct {
	db    *sql.DB
	runID string
}

// NewSQLiteStore opens (creating if needed) the database at path, applies
// any pending schema migrations, and registers a new run.
func NewSQLiteStore(path string, cfg Config) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open track database: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	runID := uuid.New().String()
	_, err = db.Exec(
		`INSERT INTO track_runs (run_id, dt, assignment, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		runID, cfg.DT, string(cfg.Assignment), time.Now().UnixNano(),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}

	return &SQLiteStore{db: db, runID: runID}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	// Note: not closing m here because it would close the underlying DB
	// connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// RunID returns the UUID assigned to this run.
func (s *SQLiteStore) RunID() string {
	return s.runID
}

// WriteTrajectory inserts one row per record inside a single transaction.
// Missing observations are stored as NULL.
func (s *SQLiteStore) WriteTrajectory(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin trajectory insert: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO track_records (
			run_id, obj_id, frame,
			pos_x, pos_y, vel_x, vel_y,
			p00, p11, p22, p33,
			obs_x, obs_y, pos_x_pix, pos_y_pix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare trajectory insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var obsX, obsY sql.NullFloat64
		if r.Obs != nil {
			obsX = sql.NullFloat64{Float64: r.Obs.X, Valid: true}
			obsY = sql.NullFloat64{Float64: r.Obs.Y, Valid: true}
		}
		_, err := stmt.Exec(
			s.runID, r.ObjID, r.Frame,
			r.State[0], r.State[1], r.State[2], r.State[3],
			r.CovDiag[0], r.CovDiag[1], r.CovDiag[2], r.CovDiag[3],
			obsX, obsY, r.PixelX, r.PixelY,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert record for object %d frame %d: %w", r.ObjID, r.Frame, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trajectory insert: %w", err)
	}
	return nil
}

// Close stamps the run as finished and closes the database.
func (s *SQLiteStore) Close() error {
	_, err := s.db.Exec(
		`UPDATE track_runs SET finished_unix_nanos = ? WHERE run_id = ?`,
		time.Now().UnixNano(), s.runID,
	)
	if closeErr := s.db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("close track store: %w", err)
	}
	return nil
}
