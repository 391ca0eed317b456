package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ultrafaint/internal/search"
)

// ChainRun is the header row of a persisted sampler chain.
type ChainRun struct {
	RunID      string    `json:"run_id"`
	ScanRunID  string    `json:"scan_run_id,omitempty"` // scan the chain was started from, if any
	Label      string    `json:"label"`
	Names      []string  `json:"names"`
	Walkers    int       `json:"walkers"`
	Steps      int       `json:"steps"`
	Complete   bool      `json:"complete"`
	Acceptance []float64 `json:"acceptance"`
	CreatedAt  int64     `json:"created_at"`
}

// ChainStore persists ensemble sampler chains.
type ChainStore struct {
	db *sql.DB
}

// NewChainStore creates a ChainStore on db.
func NewChainStore(db *sql.DB) *ChainStore {
	return &ChainStore{db: db}
}

// Save writes the chain header and all samples in one transaction. The
// run's chain fields are overwritten from chain; an empty RunID gets a UUID.
func (s *ChainStore) Save(ctx context.Context, run *ChainRun, chain *search.Chain) error {
	if run == nil || chain == nil {
		return fmt.Errorf("chain run and chain are required")
	}
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	run.Names = append([]string(nil), chain.Names...)
	run.Walkers = chain.Walkers
	run.Steps = chain.Steps
	run.Complete = chain.Complete
	run.Acceptance = append([]float64(nil), chain.Acceptance...)

	names, err := json.Marshal(run.Names)
	if err != nil {
		return err
	}
	acc, err := json.Marshal(run.Acceptance)
	if err != nil {
		return err
	}
	var scanID interface{}
	if run.ScanRunID != "" {
		scanID = run.ScanRunID
	}

	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chain_runs (run_id, scan_run_id, label, names_json, walkers, steps, complete, acceptance_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, scanID, run.Label, string(names), run.Walkers, run.Steps, run.Complete, string(acc), run.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert chain run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chain_samples (run_id, step, walker, params_json, log_prob)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, smp := range chain.Samples {
			params, err := json.Marshal(smp.Params)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, run.RunID, smp.Step, smp.Walker, string(params), smp.LogProb); err != nil {
				return fmt.Errorf("failed to insert sample %d/%d: %w", smp.Step, smp.Walker, err)
			}
		}
		return tx.Commit()
	})
}

// Get returns the header of one chain.
func (s *ChainStore) Get(ctx context.Context, runID string) (*ChainRun, error) {
	var run ChainRun
	var scanID sql.NullString
	var names, acc string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, scan_run_id, label, names_json, walkers, steps, complete, acceptance_json, created_at
		FROM chain_runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &scanID, &run.Label, &names, &run.Walkers, &run.Steps, &run.Complete, &acc, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chain %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	run.ScanRunID = scanID.String
	if err := json.Unmarshal([]byte(names), &run.Names); err != nil {
		return nil, fmt.Errorf("chain %s names: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(acc), &run.Acceptance); err != nil {
		return nil, fmt.Errorf("chain %s acceptance: %w", runID, err)
	}
	return &run, nil
}

// Load rebuilds a chain with its samples in step-major order.
func (s *ChainStore) Load(ctx context.Context, runID string) (*search.Chain, error) {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	chain := &search.Chain{
		Names:      run.Names,
		Walkers:    run.Walkers,
		Steps:      run.Steps,
		Acceptance: run.Acceptance,
		Complete:   run.Complete,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, walker, params_json, log_prob
		FROM chain_samples WHERE run_id = ? ORDER BY step, walker`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chain.Samples = make([]search.Sample, 0, run.Walkers*run.Steps)
	for rows.Next() {
		var smp search.Sample
		var params string
		if err := rows.Scan(&smp.Step, &smp.Walker, &params, &smp.LogProb); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &smp.Params); err != nil {
			return nil, fmt.Errorf("chain %s sample %d/%d: %w", runID, smp.Step, smp.Walker, err)
		}
		chain.Samples = append(chain.Samples, smp)
	}
	return chain, rows.Err()
}

// ListByScan returns the chains started from one scan, newest first.
func (s *ChainStore) ListByScan(ctx context.Context, scanRunID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM chain_runs WHERE scan_run_id = ? ORDER BY created_at DESC, run_id`, scanRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a chain and its samples.
func (s *ChainStore) Delete(ctx context.Context, runID string) error {
	return retryOnBusy(func() error {
		out, err := s.db.ExecContext(ctx, `DELETE FROM chain_runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		if n, _ := out.RowsAffected(); n == 0 {
			return fmt.Errorf("chain %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}
