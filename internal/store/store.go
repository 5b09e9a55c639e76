package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/cartpilot/config"
	"github.com/mohammad-safakhou/cartpilot/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store is the Postgres order journal.
type Store struct {
	DB *sql.DB
}

// ErrOutcomeExists is returned when an outcome for the run was already journaled.
var ErrOutcomeExists = errors.New("order outcome already recorded")

// DefaultListLimit caps ListOutcomes when no limit is given.
const DefaultListLimit = 50

var (
	metricsOnce    sync.Once
	outcomeCounter otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	outcomeCounter, metricsInitErr = meter.Int64Counter("orders_journaled_total")
}

// New opens the journal described by cfg.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("postgres not configured (storage.postgres.url or host/dbname)")
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// SaveOutcome appends the outcome of a finished run. Outcomes are immutable:
// a second write for the same run returns ErrOutcomeExists.
func (s *Store) SaveOutcome(ctx context.Context, o models.OrderOutcome) error {
	if strings.TrimSpace(o.RunID) == "" {
		return fmt.Errorf("run_id required")
	}
	if o.Status == "" {
		return fmt.Errorf("status required")
	}
	var (
		chosenIndex                   interface{}
		chosenTitle, chosenLink, resp interface{}
	)
	if o.Chosen != nil {
		chosenIndex = o.Chosen.Index
		chosenTitle = o.Chosen.Candidate.Title
		chosenLink = o.Chosen.Candidate.Link
		resp = nullableString(o.Chosen.Response)
	}
	var shot interface{}
	if len(o.Screenshot) > 0 {
		shot = o.Screenshot
	}

	res, err := s.DB.ExecContext(ctx, `
INSERT INTO orders (run_id, user_id, status, prompt, query, chosen_index, chosen_title, chosen_link, chosen_response,
                    failed_stage, reason, recoveries, screenshot, screenshot_mime, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (run_id) DO NOTHING
`, o.RunID, nullableString(o.UserID), string(o.Status), o.Prompt, nullableString(o.Query), chosenIndex, chosenTitle, chosenLink, resp,
		nullableString(string(o.FailedStage)), nullableString(o.Reason), o.Recoveries, shot, nullableString(o.ScreenshotMIME),
		o.StartedAt.UTC(), o.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrOutcomeExists
	}

	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr == nil && outcomeCounter != nil {
		outcomeCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", string(o.Status))))
	}
	return nil
}

const outcomeColumns = `run_id, COALESCE(user_id,''), status, prompt, COALESCE(query,''),
       chosen_index, COALESCE(chosen_title,''), COALESCE(chosen_link,''), COALESCE(chosen_response,''),
       COALESCE(failed_stage,''), COALESCE(reason,''), recoveries, COALESCE(screenshot_mime,''),
       started_at, finished_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOutcome(row scanner) (models.OrderOutcome, error) {
	var (
		o                   models.OrderOutcome
		status, stage       string
		index               sql.NullInt64
		title, link, answer string
	)
	if err := row.Scan(&o.RunID, &o.UserID, &status, &o.Prompt, &o.Query,
		&index, &title, &link, &answer,
		&stage, &o.Reason, &o.Recoveries, &o.ScreenshotMIME,
		&o.StartedAt, &o.FinishedAt); err != nil {
		return models.OrderOutcome{}, err
	}
	o.Status = models.OrderStatus(status)
	o.FailedStage = models.Stage(stage)
	if index.Valid {
		o.Chosen = &models.ChosenItem{
			Index:     int(index.Int64),
			Candidate: models.Candidate{Title: title, Link: link},
			Response:  answer,
		}
	}
	return o, nil
}

// GetOutcome returns the journaled outcome of a run without its screenshot.
func (s *Store) GetOutcome(ctx context.Context, runID string) (models.OrderOutcome, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+outcomeColumns+`
FROM orders
WHERE run_id=$1
`, runID)
	o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.OrderOutcome{}, models.ErrOrderNotFound
	}
	return o, err
}

// ListOutcomes returns the newest outcomes first. An empty userID lists every user.
func (s *Store) ListOutcomes(ctx context.Context, userID string, limit int) ([]models.OrderOutcome, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+outcomeColumns+`
FROM orders
WHERE ($1 = '' OR user_id = $1)
ORDER BY finished_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OrderOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetScreenshot returns the confirmation artifact of a run.
func (s *Store) GetScreenshot(ctx context.Context, runID string) (models.Artifact, error) {
	var a models.Artifact
	var mime sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT screenshot, screenshot_mime FROM orders WHERE run_id=$1`, runID).Scan(&a.Data, &mime)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Artifact{}, models.ErrOrderNotFound
	}
	if err != nil {
		return models.Artifact{}, err
	}
	a.MIME = mime.String
	return a, nil
}

// PruneBefore deletes outcomes finished before cutoff and reports how many went.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM orders WHERE finished_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
