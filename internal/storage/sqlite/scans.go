package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ultrafaint/internal/likelihood"
	"github.com/banshee-data/ultrafaint/internal/search"
)

// ScanRun is the header row of a persisted scan.
type ScanRun struct {
	RunID      string          `json:"run_id"`
	Label      string          `json:"label"`
	ConfigJSON json.RawMessage `json:"config_json,omitempty"`
	Complete   bool            `json:"complete"`
	Points     int             `json:"points"`
	Failed     int             `json:"failed"`
	CreatedAt  int64           `json:"created_at"`
}

// ScanStore persists scan results.
type ScanStore struct {
	db *sql.DB
}

// NewScanStore creates a ScanStore on db.
func NewScanStore(db *sql.DB) *ScanStore {
	return &ScanStore{db: db}
}

// nullable stores non-finite values as NULL.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// unbounded reads NULL back as +Inf, the only non-finite value a richness
// error or upper bound carries.
func unbounded(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.Inf(1)
	}
	return v.Float64
}

func orZero(v sql.NullFloat64) float64 {
	if !v.Valid {
		return 0
	}
	return v.Float64
}

// Save writes run and every point and failure of res in one transaction.
// An empty RunID is filled with a new UUID.
func (s *ScanStore) Save(ctx context.Context, run *ScanRun, res *search.ScanResult) error {
	if run == nil || res == nil {
		return fmt.Errorf("scan run and result are required")
	}
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	run.Complete = res.Complete
	run.Points = len(res.Points)
	run.Failed = len(res.Failed)

	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var cfg interface{}
		if len(run.ConfigJSON) > 0 {
			cfg = string(run.ConfigJSON)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scan_runs (run_id, label, config_json, complete, n_points, n_failed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Label, cfg, run.Complete, run.Points, run.Failed, run.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert scan run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO scan_points (
				run_id, seq, coarse_pixel, pixel, lon, lat,
				distance_modulus, age, metallicity,
				ts, log_like, richness, richness_raw, richness_err,
				gradient, curvature, fraction, n_signal, stellar_mass, flags,
				richness_lower, richness_upper, upper_limit, error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, p := range res.Points {
			r := p.Result
			var msg interface{}
			if p.Err != nil {
				msg = p.Err.Error()
			}
			if _, err := stmt.ExecContext(ctx,
				run.RunID, i, p.Coarse, p.Pixel, p.Lon, p.Lat,
				p.Iso.DistanceModulus, p.Iso.Age, p.Iso.Z,
				nullable(r.TS), nullable(r.LogLike), nullable(r.Richness), nullable(r.RichnessRaw), nullable(r.RichnessErr),
				nullable(r.Gradient), nullable(r.Curvature), nullable(r.Fraction), nullable(r.NSignal), nullable(r.StellarMass), int(r.Flags),
				nullable(p.Lower), nullable(p.Upper), nullable(p.UpperLimit), msg,
			); err != nil {
				return fmt.Errorf("failed to insert scan point %d: %w", i, err)
			}
		}

		coarse := make([]int, 0, len(res.Failed))
		for pix := range res.Failed {
			coarse = append(coarse, pix)
		}
		sort.Ints(coarse)
		for _, pix := range coarse {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO scan_failures (run_id, coarse_pixel, error) VALUES (?, ?, ?)`,
				run.RunID, pix, res.Failed[pix].Error(),
			); err != nil {
				return fmt.Errorf("failed to insert scan failure: %w", err)
			}
		}
		return tx.Commit()
	})
}

// Get returns the header of one run.
func (s *ScanStore) Get(ctx context.Context, runID string) (*ScanRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, label, config_json, complete, n_points, n_failed, created_at
		FROM scan_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan %s: %w", runID, ErrNotFound)
	}
	return run, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*ScanRun, error) {
	var run ScanRun
	var cfg sql.NullString
	if err := row.Scan(&run.RunID, &run.Label, &cfg, &run.Complete, &run.Points, &run.Failed, &run.CreatedAt); err != nil {
		return nil, err
	}
	if cfg.Valid {
		run.ConfigJSON = json.RawMessage(cfg.String)
	}
	return &run, nil
}

// List returns all runs, newest first.
func (s *ScanStore) List(ctx context.Context) ([]*ScanRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, label, config_json, complete, n_points, n_failed, created_at
		FROM scan_runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ScanRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Load rebuilds the scan result of a run. Point errors come back as plain
// error values carrying the stored message.
func (s *ScanStore) Load(ctx context.Context, runID string) (*search.ScanResult, error) {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	res := &search.ScanResult{Complete: run.Complete, Failed: map[int]error{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT coarse_pixel, pixel, lon, lat, distance_modulus, age, metallicity,
			ts, log_like, richness, richness_raw, richness_err,
			gradient, curvature, fraction, n_signal, stellar_mass, flags,
			richness_lower, richness_upper, upper_limit, error
		FROM scan_points WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res.Points = make([]search.GridPoint, 0, run.Points)
	for rows.Next() {
		var p search.GridPoint
		var ts, ll, rich, raw, rerr, grad, curv, frac, nsig, mass, lo, hi, ul sql.NullFloat64
		var flags int
		var msg sql.NullString
		if err := rows.Scan(&p.Coarse, &p.Pixel, &p.Lon, &p.Lat,
			&p.Iso.DistanceModulus, &p.Iso.Age, &p.Iso.Z,
			&ts, &ll, &rich, &raw, &rerr, &grad, &curv, &frac, &nsig, &mass, &flags,
			&lo, &hi, &ul, &msg,
		); err != nil {
			return nil, err
		}
		p.Result = likelihood.Result{
			TS:          orZero(ts),
			LogLike:     orZero(ll),
			Richness:    orZero(rich),
			RichnessRaw: orZero(raw),
			RichnessErr: unbounded(rerr),
			Gradient:    orZero(grad),
			Curvature:   orZero(curv),
			Fraction:    orZero(frac),
			NSignal:     orZero(nsig),
			StellarMass: orZero(mass),
			Flags:       likelihood.Flags(flags),
		}
		p.Lower, p.Upper, p.UpperLimit = orZero(lo), unbounded(hi), unbounded(ul)
		if msg.Valid {
			p.Err = errors.New(msg.String)
		}
		res.Points = append(res.Points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fails, err := s.db.QueryContext(ctx,
		`SELECT coarse_pixel, error FROM scan_failures WHERE run_id = ? ORDER BY coarse_pixel`, runID)
	if err != nil {
		return nil, err
	}
	defer fails.Close()
	for fails.Next() {
		var pix int
		var msg string
		if err := fails.Scan(&pix, &msg); err != nil {
			return nil, err
		}
		res.Failed[pix] = errors.New(msg)
	}
	return res, fails.Err()
}

// Delete removes a run with its points and failures.
func (s *ScanStore) Delete(ctx context.Context, runID string) error {
	return retryOnBusy(func() error {
		out, err := s.db.ExecContext(ctx, `DELETE FROM scan_runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		if n, _ := out.RowsAffected(); n == 0 {
			return fmt.Errorf("scan %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}
