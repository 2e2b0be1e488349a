package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"

	"olhovivo/config"
	"olhovivo/models"
)

const reportColumns = `seq, id, name, phone, description, latitude, longitude, accuracy,
	photo_url, photo_key, status, consent, created_at`

// Database handles all database operations
type Database struct {
	db *sql.DB
}

// NewDatabase creates a new database connection, retrying the first ping
// with exponential backoff while the server comes up.
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	backoff := time.Second
	for attempt := 1; ; attempt++ {
		if err = db.Ping(); err == nil {
			break
		}
		if attempt == 6 {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log.Warnf("database ping failed (attempt %d), retrying in %v: %v", attempt, backoff, err)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}

	log.Infof("Database connected successfully to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
	return &Database{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// EnsureSchema creates the report tables if they do not exist
func (d *Database) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			seq INT NOT NULL AUTO_INCREMENT,
			id CHAR(26) NOT NULL,
			name VARCHAR(255) NOT NULL,
			phone VARCHAR(64) NOT NULL,
			description TEXT NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			accuracy DOUBLE NULL,
			photo_url VARCHAR(1024) NOT NULL,
			photo_key VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'pending',
			consent BOOL NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			PRIMARY KEY (seq),
			UNIQUE INDEX id_unique (id),
			INDEX created_at_index (created_at),
			INDEX latlon_index (latitude, longitude)
		)`,
		`CREATE TABLE IF NOT EXISTS reports_geometry (
			seq INT NOT NULL,
			geom GEOMETRY NOT NULL SRID 4326,
			PRIMARY KEY (seq),
			SPATIAL INDEX(geom)
		)`,
	}
	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// CreateReport stores a report and its geometry in one transaction
func (d *Database) CreateReport(ctx context.Context, r *models.Report) error {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT
	  INTO reports (id, name, phone, description, latitude, longitude, accuracy,
	    photo_url, photo_key, status, consent, created_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Phone, r.Description, r.Latitude, r.Longitude, r.Accuracy,
		r.PhotoURL, r.PhotoKey, r.Status, r.Consent, r.CreatedAt)
	logResult("createReport", result, err, true)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read report seq: %w", err)
	}

	result, err = tx.ExecContext(ctx, `INSERT
	  INTO reports_geometry (seq, geom)
	  VALUES (?, ST_SRID(POINT(?, ?), 4326))`,
		seq, r.Longitude, r.Latitude)
	logResult("createReportGeometry", result, err, true)
	if err != nil {
		return fmt.Errorf("failed to insert report geometry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	r.Seq = int(seq)
	return nil
}

// ListReports returns every report, newest first
func (d *Database) ListReports(ctx context.Context) ([]models.Report, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+reportColumns+`
		FROM reports
		ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	return scanReports(rows)
}

// ListReportsInViewPort returns reports inside a rectangle grown by half
// its size on every side, newest first
func (d *Database) ListReportsInViewPort(ctx context.Context, vp models.ViewPort) ([]models.Report, error) {
	latSize := vp.LatMax - vp.LatMin
	lonSize := vp.LonMax - vp.LonMin
	vp.LatMin -= latSize / 2
	vp.LatMax += latSize / 2
	vp.LonMin -= lonSize / 2
	vp.LonMax += lonSize / 2

	rows, err := d.db.QueryContext(ctx, `SELECT `+reportColumns+`
		FROM reports
		WHERE latitude > ? AND longitude > ?
			AND latitude <= ? AND longitude <= ?
		ORDER BY created_at DESC, seq DESC`,
		vp.LatMin, vp.LonMin, vp.LatMax, vp.LonMax)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports in viewport: %w", err)
	}
	return scanReports(rows)
}

// GetReport returns a single report by id, or nil if it does not exist
func (d *Database) GetReport(ctx context.Context, id string) (*models.Report, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	reports, err := scanReports(rows)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return &reports[0], nil
}

func scanReports(rows *sql.Rows) ([]models.Report, error) {
	defer rows.Close()

	reports := make([]models.Report, 0, 100)
	for rows.Next() {
		var (
			r        models.Report
			accuracy sql.NullFloat64
		)
		if err := rows.Scan(&r.Seq, &r.ID, &r.Name, &r.Phone, &r.Description,
			&r.Latitude, &r.Longitude, &accuracy, &r.PhotoURL, &r.PhotoKey,
			&r.Status, &r.Consent, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		if accuracy.Valid {
			a := accuracy.Float64
			r.Accuracy = &a
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	return reports, nil
}
