package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"cvrp/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir executes every *.sql file in dir in name order. Migrations must
// be idempotent.
func (p *Postgres) MigrateDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

const runColumns = `id, owner, engine, status, digest, places, feasible, route, trips, cost, stats, error, created_at, completed_at`

func (p *Postgres) CreateRun(ctx context.Context, run model.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, args...)
	return err
}

func (p *Postgres) UpdateRun(ctx context.Context, run model.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE runs SET owner=$2, engine=$3, status=$4, digest=$5, places=$6, feasible=$7,
        route=$8, trips=$9, cost=$10, stats=$11, error=$12, created_at=$13, completed_at=$14 WHERE id=$1`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (model.Run, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=$1`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, owner, cursor string, limit int) ([]model.Run, string, error) {
	limit = clampLimit(limit)
	rows, err := p.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
        WHERE ($1 = '' OR owner = $1) AND id > $2 ORDER BY id LIMIT $3`, owner, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.Run, error) {
	var (
		r                  model.Run
		route, trips, stat []byte
		errText            sql.NullString
		completed          sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Owner, &r.Engine, &r.Status, &r.Digest, &r.Places, &r.Feasible,
		&route, &trips, &r.Cost, &stat, &errText, &r.CreatedAt, &completed); err != nil {
		return model.Run{}, err
	}
	if err := decodeRunJSON(&r, route, trips, stat); err != nil {
		return model.Run{}, err
	}
	r.Error = errText.String
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return r, nil
}

func runArgs(r model.Run) ([]any, error) {
	route, trips, stats, err := encodeRunJSON(r)
	if err != nil {
		return nil, err
	}
	var completed any
	if r.CompletedAt != nil {
		completed = *r.CompletedAt
	}
	return []any{r.ID, r.Owner, r.Engine, r.Status, r.Digest, r.Places, r.Feasible,
		route, trips, r.Cost, stats, nullIfEmpty(r.Error), r.CreatedAt, completed}, nil
}

// encodeRunJSON renders the jsonb columns of a run.
func encodeRunJSON(r model.Run) (route, trips, stats []byte, err error) {
	if r.Route == nil {
		r.Route = []int{}
	}
	if route, err = json.Marshal(r.Route); err != nil {
		return nil, nil, nil, err
	}
	if r.Trips != nil {
		if trips, err = json.Marshal(r.Trips); err != nil {
			return nil, nil, nil, err
		}
	}
	if r.Stats != nil {
		if stats, err = json.Marshal(r.Stats); err != nil {
			return nil, nil, nil, err
		}
	}
	return route, trips, stats, nil
}

func decodeRunJSON(r *model.Run, route, trips, stats []byte) error {
	r.Route = []int{}
	if len(route) > 0 {
		if err := json.Unmarshal(route, &r.Route); err != nil {
			return fmt.Errorf("decode route: %w", err)
		}
	}
	if len(trips) > 0 {
		if err := json.Unmarshal(trips, &r.Trips); err != nil {
			return fmt.Errorf("decode trips: %w", err)
		}
	}
	if len(stats) > 0 {
		r.Stats = &model.RunStats{}
		if err := json.Unmarshal(stats, r.Stats); err != nil {
			return fmt.Errorf("decode stats: %w", err)
		}
	}
	return nil
}

func (p *Postgres) EnqueueCallback(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error) {
	id := mustV7().String()
	dk := computeDedupKey(payload)
	var got string
	err := p.db.QueryRowContext(ctx, `INSERT INTO callback_deliveries (id, run_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (url, dedup_key) DO UPDATE SET url = EXCLUDED.url
        RETURNING id`, id, runID, eventType, url, nullIfEmpty(secret), payload, dk).Scan(&got)
	if err != nil {
		return "", err
	}
	return got, nil
}

const deliveryColumns = `id, run_id, event_type, url, COALESCE(secret,''), payload, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0)`

func (p *Postgres) FetchDueCallbacks(ctx context.Context, limit int) ([]CallbackDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+` FROM callback_deliveries
        WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanDeliveries(rows)
}

func (p *Postgres) ListCallbacks(ctx context.Context, runID string) ([]CallbackDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+` FROM callback_deliveries WHERE run_id=$1 ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	return scanDeliveries(rows)
}

func scanDeliveries(rows *sql.Rows) ([]CallbackDelivery, error) {
	defer rows.Close()
	out := []CallbackDelivery{}
	for rows.Next() {
		var d CallbackDelivery
		if err := rows.Scan(&d.ID, &d.RunID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status,
			&d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkCallback(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE callback_deliveries SET attempts=attempts+1, status='delivered', last_error=NULL,
            delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.db.ExecContext(ctx, `UPDATE callback_deliveries SET attempts=attempts+1, status='retry', last_error=$2,
        next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailCallback(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE callback_deliveries SET attempts=attempts+1, status='failed', last_error=$2,
        updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
