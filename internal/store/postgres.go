package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/crowd-engine/internal/model"
)

// Schema creates the ledger tables. Money is stored as NUMERIC for exact
// decimal precision.
const Schema = `
CREATE TABLE IF NOT EXISTS round_results (
	round_id       TEXT PRIMARY KEY,
	question       TEXT        NOT NULL,
	options        TEXT[]      NOT NULL,
	winning_option TEXT        NOT NULL,
	pot            NUMERIC     NOT NULL,
	winning_stake  NUMERIC     NOT NULL,
	burned         NUMERIC     NOT NULL,
	resolved_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS round_payouts (
	round_id TEXT    NOT NULL REFERENCES round_results (round_id),
	identity TEXT    NOT NULL,
	amount   NUMERIC NOT NULL,
	PRIMARY KEY (round_id, identity)
);
CREATE TABLE IF NOT EXISTS action_outcomes (
	action_id      TEXT PRIMARY KEY,
	text           TEXT        NOT NULL,
	proposer_id    TEXT        NOT NULL,
	yes_votes      INTEGER     NOT NULL,
	no_votes       INTEGER     NOT NULL,
	required_votes INTEGER     NOT NULL,
	status         TEXT        NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	closed_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS round_results_resolved_at ON round_results (resolved_at DESC);
CREATE INDEX IF NOT EXISTS action_outcomes_closed_at ON action_outcomes (closed_at DESC);
`

// PostgresStore implements Ledger using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed ledger.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the ledger tables if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordRound(ctx context.Context, r *model.RoundResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("record round %s: %w", r.RoundID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO round_results (round_id, question, options, winning_option, pot, winning_stake, burned, resolved_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		r.RoundID, r.Question, r.Options, r.WinningOption,
		r.Pot.String(), r.WinningStake.String(), r.Burned.String(),
		r.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("record round %s: %w", r.RoundID, err)
	}

	batch := &pgx.Batch{}
	for identity, amount := range r.Payouts {
		batch.Queue(
			`INSERT INTO round_payouts (round_id, identity, amount) VALUES ($1, $2, $3::NUMERIC)`,
			r.RoundID, identity, amount.String(),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("record payouts %s: %w", r.RoundID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) RecentRounds(ctx context.Context, limit int) ([]model.RoundResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT round_id, question, options, winning_option,
		        pot::TEXT, winning_stake::TEXT, burned::TEXT, resolved_at
		 FROM round_results ORDER BY resolved_at DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.RoundResult
	index := make(map[string]int)
	for rows.Next() {
		var r model.RoundResult
		var pot, winning, burned string
		if err := rows.Scan(&r.RoundID, &r.Question, &r.Options, &r.WinningOption,
			&pot, &winning, &burned, &r.ResolvedAt); err != nil {
			return nil, err
		}
		r.Pot, _ = decimal.NewFromString(pot)
		r.WinningStake, _ = decimal.NewFromString(winning)
		r.Burned, _ = decimal.NewFromString(burned)
		r.Payouts = make(map[string]decimal.Decimal)
		index[r.RoundID] = len(results)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return results, nil
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.RoundID)
	}
	payoutRows, err := s.pool.Query(ctx,
		`SELECT round_id, identity, amount::TEXT FROM round_payouts WHERE round_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer payoutRows.Close()

	for payoutRows.Next() {
		var roundID, identity, amountS string
		if err := payoutRows.Scan(&roundID, &identity, &amountS); err != nil {
			return nil, err
		}
		amount, _ := decimal.NewFromString(amountS)
		results[index[roundID]].Payouts[identity] = amount
	}
	return results, payoutRows.Err()
}

func (s *PostgresStore) RecordAction(ctx context.Context, o *model.ActionOutcome) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO action_outcomes (action_id, text, proposer_id, yes_votes, no_votes, required_votes, status, started_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ActionID, o.Text, o.ProposerID,
		o.YesVotes, o.NoVotes, o.RequiredVotes,
		string(o.Status), o.StartedAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("record action %s: %w", o.ActionID, err)
	}
	return nil
}

func (s *PostgresStore) RecentActions(ctx context.Context, limit int) ([]model.ActionOutcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT action_id, text, proposer_id, yes_votes, no_votes, required_votes, status, started_at, closed_at
		 FROM action_outcomes ORDER BY closed_at DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanActionOutcomes(rows)
}

// pgxRows is the subset of pgx.Rows used by the scan helpers.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanActionOutcomes(rows pgxRows) ([]model.ActionOutcome, error) {
	var outcomes []model.ActionOutcome
	for rows.Next() {
		var o model.ActionOutcome
		var status string
		if err := rows.Scan(&o.ActionID, &o.Text, &o.ProposerID,
			&o.YesVotes, &o.NoVotes, &o.RequiredVotes,
			&status, &o.StartedAt, &o.ClosedAt); err != nil {
			return nil, err
		}
		o.Status = model.ActionStatus(status)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
