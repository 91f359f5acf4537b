package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/sumeval/pkg/errs"
	"github.com/codeready-toolchain/sumeval/pkg/models"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting every query
// method run either standalone or inside Transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlStore implements Store against database/sql with a dialect-specific
// placeholder style. Both the Postgres and SQLite backends share this
// implementation; only connection setup and migration differ (see
// postgres.go / sqlite.go).
type sqlStore struct {
	db      *sql.DB
	dialect string // "postgres" or "sqlite"
	log     *slog.Logger
}

// placeholder renders the i-th (1-based) bind parameter for this dialect.
func (s *sqlStore) placeholder(i int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// ctxKey is the key under which Transaction stashes the active *sql.Tx.
type ctxKey struct{}

func (s *sqlStore) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(ctxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *sqlStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, alreadyInTx := ctx.Value(ctxKey{}).(*sql.Tx); alreadyInTx {
		// database/sql has no true nested transactions; a Transaction call
		// made from inside another one joins the outer transaction instead
		// of committing independently.
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", errs.ErrStorage, err)
	}
	txCtx := context.WithValue(ctx, ctxKey{}, tx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", errs.ErrStorage, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func newID() string { return uuid.NewString() }

// --- Runs -------------------------------------------------------------

func (s *sqlStore) CreateRun(ctx context.Context, configBlob, codebaseInfo []byte, name string) (*models.Run, error) {
	run := &models.Run{
		ID:           newID(),
		Name:         name,
		ConfigBlob:   configBlob,
		CodebaseInfo: codebaseInfo,
		Status:       models.RunStatusPending,
	}
	q := fmt.Sprintf(`INSERT INTO runs (id, name, description, config_blob, codebase_info_blob, status)
		VALUES (%s, %s, '', %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5))
	if _, err := s.conn(ctx).ExecContext(ctx, q, run.ID, run.Name, run.ConfigBlob, run.CodebaseInfo, run.Status); err != nil {
		return nil, fmt.Errorf("%w: create run: %v", errs.ErrStorage, err)
	}
	return s.GetRun(ctx, run.ID)
}

func (s *sqlStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	q := fmt.Sprintf(`SELECT id, name, config_blob, codebase_info_blob, status, current_phase,
		started_at, completed_at, paused_at, error, created_at, updated_at
		FROM runs WHERE id = %s`, s.placeholder(1))
	row := s.conn(ctx).QueryRowContext(ctx, q, id)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*models.Run, error) {
	var r models.Run
	var phase sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &r.ConfigBlob, &r.CodebaseInfo, &r.Status, &phase,
		&r.StartedAt, &r.CompletedAt, &r.PausedAt, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: run not found", errs.ErrStorage)
		}
		return nil, fmt.Errorf("%w: scan run: %v", errs.ErrStorage, err)
	}
	if phase.Valid {
		p := models.Phase(phase.String)
		r.CurrentPhase = &p
	}
	return &r, nil
}

func (s *sqlStore) ListRuns(ctx context.Context, status *models.RunStatus) ([]*models.Run, error) {
	q := `SELECT id, name, config_blob, codebase_info_blob, status, current_phase,
		started_at, completed_at, paused_at, error, created_at, updated_at FROM runs`
	var args []any
	if status != nil {
		q += fmt.Sprintf(" WHERE status = %s", s.placeholder(1))
		args = append(args, *status)
	}
	q += " ORDER BY created_at DESC"
	rows, err := s.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		var r models.Run
		var phase sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.ConfigBlob, &r.CodebaseInfo, &r.Status, &phase,
			&r.StartedAt, &r.CompletedAt, &r.PausedAt, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan run row: %v", errs.ErrStorage, err)
		}
		if phase.Valid {
			p := models.Phase(phase.String)
			r.CurrentPhase = &p
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteRun(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM runs WHERE id = %s`, s.placeholder(1))
	if _, err := s.conn(ctx).ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("%w: delete run: %v", errs.ErrStorage, err)
	}
	return nil
}

func (s *sqlStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, phase *models.Phase, errMsg string) error {
	var phaseVal any
	if phase != nil {
		phaseVal = string(*phase)
	}
	q := fmt.Sprintf(`UPDATE runs SET status = %s, current_phase = %s, error = %s, updated_at = %s
		WHERE id = %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.nowExpr(4), s.placeholder(5))
	args := []any{status, phaseVal, errMsg}
	if s.dialect == "postgres" {
		args = append(args, id)
	} else {
		args = append(args, nowValue(), id)
	}
	if _, err := s.conn(ctx).ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("%w: update run status: %v", errs.ErrStorage, err)
	}
	return nil
}

// nowExpr renders the positional slot for updated_at: Postgres uses now(),
// SQLite binds an explicit timestamp value at the given placeholder index.
func (s *sqlStore) nowExpr(sqliteIdx int) string {
	if s.dialect == "postgres" {
		return "now()"
	}
	return s.placeholder(sqliteIdx)
}

func nowValue() string { return now().UTC().Format("2006-01-02T15:04:05.999999999Z07:00") }

// --- Code units ---------------------------------------------------------

func (s *sqlStore) InsertCodeUnits(ctx context.Context, runID string, units []*models.CodeUnit) error {
	if len(units) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		for _, u := range units {
			if u.ID == "" {
				u.ID = newID()
			}
			u.RunID = runID
			metaBlob, err := json.Marshal(u.Metadata)
			if err != nil {
				return fmt.Errorf("%w: marshal code unit metadata: %v", errs.ErrStorage, err)
			}
			relBlob, err := json.Marshal(u.Relationships)
			if err != nil {
				return fmt.Errorf("%w: marshal code unit relationships: %v", errs.ErrStorage, err)
			}
			q := fmt.Sprintf(`INSERT INTO code_units (id, run_id, path, name, type, language, content, metadata_blob, relationships_blob)
				VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
				s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
				s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9))
			if _, err := s.conn(ctx).ExecContext(ctx, q, u.ID, u.RunID, u.Path, u.Name, u.Type, u.Language, u.Content, metaBlob, relBlob); err != nil {
				return fmt.Errorf("%w: insert code unit: %v", errs.ErrStorage, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) GetCodeUnits(ctx context.Context, runID string) ([]*models.CodeUnit, error) {
	q := fmt.Sprintf(`SELECT id, run_id, path, name, type, language, content, metadata_blob, relationships_blob
		FROM code_units WHERE run_id = %s ORDER BY path, name`, s.placeholder(1))
	rows, err := s.conn(ctx).QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: get code units: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.CodeUnit
	for rows.Next() {
		var u models.CodeUnit
		var metaBlob, relBlob []byte
		if err := rows.Scan(&u.ID, &u.RunID, &u.Path, &u.Name, &u.Type, &u.Language, &u.Content, &metaBlob, &relBlob); err != nil {
			return nil, fmt.Errorf("%w: scan code unit: %v", errs.ErrStorage, err)
		}
		if len(metaBlob) > 0 {
			if err := json.Unmarshal(metaBlob, &u.Metadata); err != nil {
				return nil, &errs.CorruptedDataError{Table: "code_units", RowID: u.ID, Err: err}
			}
		}
		if len(relBlob) > 0 {
			if err := json.Unmarshal(relBlob, &u.Relationships); err != nil {
				return nil, &errs.CorruptedDataError{Table: "code_units", RowID: u.ID, Err: err}
			}
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountCodeUnits(ctx context.Context, runID string) (int, error) {
	q := fmt.Sprintf(`SELECT count(*) FROM code_units WHERE run_id = %s`, s.placeholder(1))
	var n int
	if err := s.conn(ctx).QueryRowContext(ctx, q, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count code units: %v", errs.ErrStorage, err)
	}
	return n, nil
}

// --- Summaries ------------------------------------------------------------

func (s *sqlStore) InsertSummaries(ctx context.Context, runID string, summaries []*models.GeneratedSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		for _, sum := range summaries {
			if sum.ID == "" {
				sum.ID = newID()
			}
			sum.RunID = runID
			metaBlob, err := json.Marshal(sum.Metadata)
			if err != nil {
				return fmt.Errorf("%w: marshal summary metadata: %v", errs.ErrStorage, err)
			}
			if err := s.upsertSummary(ctx, sum, metaBlob); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertSummary implements the replace-on-(run,code_unit,model) conflict
// policy spec.md §4.1 requires. Dialect-specific upsert syntax differs
// (ON CONFLICT is shared by Postgres and SQLite since 3.24).
func (s *sqlStore) upsertSummary(ctx context.Context, sum *models.GeneratedSummary, metaBlob []byte) error {
	q := fmt.Sprintf(`INSERT INTO generated_summaries (id, run_id, code_unit_id, model_id, text, metadata_blob)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT (run_id, code_unit_id, model_id) DO UPDATE SET text = excluded.text, metadata_blob = excluded.metadata_blob`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6))
	_, err := s.conn(ctx).ExecContext(ctx, q, sum.ID, sum.RunID, sum.CodeUnitID, sum.ModelID, sum.Text, metaBlob)
	if err != nil {
		return fmt.Errorf("%w: upsert summary: %v", errs.ErrStorage, err)
	}
	return nil
}

func (s *sqlStore) UpdateSummary(ctx context.Context, runID, summaryID string, text *string, metadata *models.GenerationMetadata) error {
	sets := []string{}
	args := []any{}
	idx := 1
	if text != nil {
		sets = append(sets, fmt.Sprintf("text = %s", s.placeholder(idx)))
		args = append(args, *text)
		idx++
	}
	if metadata != nil {
		metaBlob, err := json.Marshal(*metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal summary metadata: %v", errs.ErrStorage, err)
		}
		sets = append(sets, fmt.Sprintf("metadata_blob = %s", s.placeholder(idx)))
		args = append(args, metaBlob)
		idx++
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, summaryID, runID)
	q := fmt.Sprintf(`UPDATE generated_summaries SET %s WHERE id = %s AND run_id = %s`,
		strings.Join(sets, ", "), s.placeholder(idx), s.placeholder(idx+1))
	if _, err := s.conn(ctx).ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("%w: update summary: %v", errs.ErrStorage, err)
	}
	return nil
}

func (s *sqlStore) GetSummaries(ctx context.Context, runID string, modelID *string) ([]*models.GeneratedSummary, error) {
	q := `SELECT id, run_id, code_unit_id, model_id, text, metadata_blob FROM generated_summaries WHERE run_id = ` + s.placeholder(1)
	args := []any{runID}
	if modelID != nil {
		q += fmt.Sprintf(" AND model_id = %s", s.placeholder(2))
		args = append(args, *modelID)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: get summaries: %v", errs.ErrStorage, err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (s *sqlStore) GetSummary(ctx context.Context, runID, summaryID string) (*models.GeneratedSummary, error) {
	q := fmt.Sprintf(`SELECT id, run_id, code_unit_id, model_id, text, metadata_blob
		FROM generated_summaries WHERE run_id = %s AND id = %s`, s.placeholder(1), s.placeholder(2))
	rows, err := s.conn(ctx).QueryContext(ctx, q, runID, summaryID)
	if err != nil {
		return nil, fmt.Errorf("%w: get summary: %v", errs.ErrStorage, err)
	}
	defer rows.Close()
	out, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: summary not found", errs.ErrStorage)
	}
	return out[0], nil
}

func scanSummaries(rows *sql.Rows) ([]*models.GeneratedSummary, error) {
	var out []*models.GeneratedSummary
	for rows.Next() {
		var sum models.GeneratedSummary
		var metaBlob []byte
		if err := rows.Scan(&sum.ID, &sum.RunID, &sum.CodeUnitID, &sum.ModelID, &sum.Text, &metaBlob); err != nil {
			return nil, fmt.Errorf("%w: scan summary: %v", errs.ErrStorage, err)
		}
		if len(metaBlob) > 0 {
			if err := json.Unmarshal(metaBlob, &sum.Metadata); err != nil {
				return nil, &errs.CorruptedDataError{Table: "generated_summaries", RowID: sum.ID, Err: err}
			}
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// --- Evaluation results -----------------------------------------------

func (s *sqlStore) InsertEvaluationResult(ctx context.Context, runID string, result *models.EvaluationResult) error {
	if result.ID == "" {
		result.ID = newID()
	}
	result.RunID = runID
	q := fmt.Sprintf(`INSERT INTO evaluation_results (id, run_id, summary_id, kind, payload_blob)
		VALUES (%s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5))
	if _, err := s.conn(ctx).ExecContext(ctx, q, result.ID, result.RunID, result.SummaryID, result.Kind, result.Payload); err != nil {
		return fmt.Errorf("%w: insert evaluation result: %v", errs.ErrStorage, err)
	}
	return nil
}

func (s *sqlStore) GetEvaluationResults(ctx context.Context, runID string, kind *models.EvaluationKind) ([]*models.EvaluationResult, error) {
	q := `SELECT id, run_id, summary_id, kind, payload_blob, evaluated_at FROM evaluation_results WHERE run_id = ` + s.placeholder(1)
	args := []any{runID}
	if kind != nil {
		q += fmt.Sprintf(" AND kind = %s", s.placeholder(2))
		args = append(args, *kind)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: get evaluation results: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.EvaluationResult
	for rows.Next() {
		var r models.EvaluationResult
		if err := rows.Scan(&r.ID, &r.RunID, &r.SummaryID, &r.Kind, &r.Payload, &r.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan evaluation result: %v", errs.ErrStorage, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Pairwise results ---------------------------------------------------

func (s *sqlStore) InsertPairwiseResults(ctx context.Context, runID string, rows []*models.PairwiseResult) error {
	if len(rows) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		for _, r := range rows {
			if r.ID == "" {
				r.ID = newID()
			}
			r.RunID = runID
			criteriaBlob, err := json.Marshal(r.CriteriaBreakdown)
			if err != nil {
				return fmt.Errorf("%w: marshal criteria breakdown: %v", errs.ErrStorage, err)
			}
			q := fmt.Sprintf(`INSERT INTO pairwise_results
				(id, run_id, model_a, model_b, code_unit_id, judge_model, winner, confidence, position_swapped, reasoning, criteria_blob, cost)
				VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
				s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6),
				s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10), s.placeholder(11), s.placeholder(12))
			if _, err := s.conn(ctx).ExecContext(ctx, q, r.ID, r.RunID, r.ModelA, r.ModelB, r.CodeUnitID, r.JudgeModel,
				r.Winner, r.Confidence, r.PositionSwapped, r.Reasoning, criteriaBlob, r.Cost); err != nil {
				return fmt.Errorf("%w: insert pairwise result: %v", errs.ErrStorage, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) GetPairwiseResults(ctx context.Context, runID string) ([]*models.PairwiseResult, error) {
	q := fmt.Sprintf(`SELECT id, run_id, model_a, model_b, code_unit_id, judge_model, winner, confidence,
		position_swapped, reasoning, criteria_blob, cost FROM pairwise_results WHERE run_id = %s`, s.placeholder(1))
	rows, err := s.conn(ctx).QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: get pairwise results: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.PairwiseResult
	for rows.Next() {
		var r models.PairwiseResult
		var criteriaBlob []byte
		if err := rows.Scan(&r.ID, &r.RunID, &r.ModelA, &r.ModelB, &r.CodeUnitID, &r.JudgeModel, &r.Winner, &r.Confidence,
			&r.PositionSwapped, &r.Reasoning, &criteriaBlob, &r.Cost); err != nil {
			return nil, fmt.Errorf("%w: scan pairwise result: %v", errs.ErrStorage, err)
		}
		if len(criteriaBlob) > 0 {
			if err := json.Unmarshal(criteriaBlob, &r.CriteriaBreakdown); err != nil {
				return nil, &errs.CorruptedDataError{Table: "pairwise_results", RowID: r.ID, Err: err}
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Queries & distractors ----------------------------------------------

func (s *sqlStore) InsertQueries(ctx context.Context, runID string, queries []*models.GeneratedQuery) error {
	if len(queries) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		for _, q := range queries {
			if q.ID == "" {
				q.ID = newID()
			}
			q.RunID = runID
			stmt := fmt.Sprintf(`INSERT INTO generated_queries (id, run_id, code_unit_id, type, text, should_find)
				VALUES (%s, %s, %s, %s, %s, %s)`,
				s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6))
			if _, err := s.conn(ctx).ExecContext(ctx, stmt, q.ID, q.RunID, q.CodeUnitID, q.Type, q.Text, q.ShouldFind); err != nil {
				return fmt.Errorf("%w: insert query: %v", errs.ErrStorage, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) GetQueries(ctx context.Context, runID string) ([]*models.GeneratedQuery, error) {
	q := fmt.Sprintf(`SELECT id, run_id, code_unit_id, type, text, should_find FROM generated_queries WHERE run_id = %s`, s.placeholder(1))
	rows, err := s.conn(ctx).QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: get queries: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.GeneratedQuery
	for rows.Next() {
		var g models.GeneratedQuery
		if err := rows.Scan(&g.ID, &g.RunID, &g.CodeUnitID, &g.Type, &g.Text, &g.ShouldFind); err != nil {
			return nil, fmt.Errorf("%w: scan query: %v", errs.ErrStorage, err)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *sqlStore) InsertDistractorSets(ctx context.Context, runID string, sets []*models.DistractorSet) error {
	if len(sets) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		for _, set := range sets {
			if set.ID == "" {
				set.ID = newID()
			}
			set.RunID = runID
			idsBlob, err := json.Marshal(set.DistractorIDs)
			if err != nil {
				return fmt.Errorf("%w: marshal distractor ids: %v", errs.ErrStorage, err)
			}
			stmt := fmt.Sprintf(`INSERT INTO distractor_sets (id, run_id, target_code_unit_id, distractor_ids_blob, difficulty)
				VALUES (%s, %s, %s, %s, %s)`,
				s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5))
			if _, err := s.conn(ctx).ExecContext(ctx, stmt, set.ID, set.RunID, set.TargetCodeUnitID, idsBlob, set.Difficulty); err != nil {
				return fmt.Errorf("%w: insert distractor set: %v", errs.ErrStorage, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) GetDistractorSets(ctx context.Context, runID string) ([]*models.DistractorSet, error) {
	q := fmt.Sprintf(`SELECT id, run_id, target_code_unit_id, distractor_ids_blob, difficulty
		FROM distractor_sets WHERE run_id = %s`, s.placeholder(1))
	rows, err := s.conn(ctx).QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: get distractor sets: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.DistractorSet
	for rows.Next() {
		var d models.DistractorSet
		var idsBlob []byte
		if err := rows.Scan(&d.ID, &d.RunID, &d.TargetCodeUnitID, &idsBlob, &d.Difficulty); err != nil {
			return nil, fmt.Errorf("%w: scan distractor set: %v", errs.ErrStorage, err)
		}
		if len(idsBlob) > 0 {
			if err := json.Unmarshal(idsBlob, &d.DistractorIDs); err != nil {
				return nil, &errs.CorruptedDataError{Table: "distractor_sets", RowID: d.ID, Err: err}
			}
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// --- Aggregated scores --------------------------------------------------

func (s *sqlStore) SaveAggregatedScores(ctx context.Context, runID, modelID string, scoresBlob []byte) error {
	q := fmt.Sprintf(`INSERT INTO aggregated_scores (id, run_id, model_id, scores_blob)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT (run_id, model_id) DO UPDATE SET scores_blob = excluded.scores_blob`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
	if _, err := s.conn(ctx).ExecContext(ctx, q, newID(), runID, modelID, scoresBlob); err != nil {
		return fmt.Errorf("%w: save aggregated scores: %v", errs.ErrStorage, err)
	}
	return nil
}

func (s *sqlStore) GetAggregatedScores(ctx context.Context, runID string) ([]*models.AggregatedScores, error) {
	q := fmt.Sprintf(`SELECT run_id, model_id, scores_blob FROM aggregated_scores WHERE run_id = %s`, s.placeholder(1))
	rows, err := s.conn(ctx).QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: get aggregated scores: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.AggregatedScores
	for rows.Next() {
		var a models.AggregatedScores
		if err := rows.Scan(&a.RunID, &a.ModelID, &a.ScoresBlob); err != nil {
			return nil, fmt.Errorf("%w: scan aggregated scores: %v", errs.ErrStorage, err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- Phase progress -------------------------------------------------------

func (s *sqlStore) StartPhase(ctx context.Context, runID string, phase models.Phase, total int) error {
	var q string
	if s.dialect == "postgres" {
		q = fmt.Sprintf(`INSERT INTO phase_progress (run_id, phase, started_at, items_total, items_completed)
			VALUES (%s, %s, now(), %s, 0)
			ON CONFLICT (run_id, phase) DO UPDATE SET started_at = now(), items_total = excluded.items_total,
				items_completed = 0, completed_at = NULL, last_processed_id = '', error = ''`,
			s.placeholder(1), s.placeholder(2), s.placeholder(3))
		_, err := s.conn(ctx).ExecContext(ctx, q, runID, phase, total)
		if err != nil {
			return fmt.Errorf("%w: start phase: %v", errs.ErrStorage, err)
		}
		return s.setCurrentPhase(ctx, runID, phase)
	}
	q = fmt.Sprintf(`INSERT INTO phase_progress (run_id, phase, started_at, items_total, items_completed)
		VALUES (%s, %s, %s, %s, 0)
		ON CONFLICT (run_id, phase) DO UPDATE SET started_at = excluded.started_at, items_total = excluded.items_total,
			items_completed = 0, completed_at = NULL, last_processed_id = '', error = ''`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
	if _, err := s.conn(ctx).ExecContext(ctx, q, runID, phase, nowValue(), total); err != nil {
		return fmt.Errorf("%w: start phase: %v", errs.ErrStorage, err)
	}
	return s.setCurrentPhase(ctx, runID, phase)
}

func (s *sqlStore) setCurrentPhase(ctx context.Context, runID string, phase models.Phase) error {
	q := fmt.Sprintf(`UPDATE runs SET current_phase = %s WHERE id = %s`, s.placeholder(1), s.placeholder(2))
	_, err := s.conn(ctx).ExecContext(ctx, q, string(phase), runID)
	return err
}

func (s *sqlStore) UpdatePhaseProgress(ctx context.Context, runID string, phase models.Phase, completed int, lastProcessedID string) error {
	q := fmt.Sprintf(`UPDATE phase_progress SET items_completed = %s, last_processed_id = %s
		WHERE run_id = %s AND phase = %s AND items_completed < %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5))
	if _, err := s.conn(ctx).ExecContext(ctx, q, completed, lastProcessedID, runID, phase, completed); err != nil {
		return fmt.Errorf("%w: update phase progress: %v", errs.ErrStorage, err)
	}
	return nil
}

// CompletePhase marks a phase's progress row as finished. The
// completed-equals-total-or-skipReason invariant (spec.md §4.2) is enforced
// by the state machine before this is called; the Store layer only records
// the fact.
func (s *sqlStore) CompletePhase(ctx context.Context, runID string, phase models.Phase) error {
	var q string
	var err error
	if s.dialect == "postgres" {
		q = fmt.Sprintf(`UPDATE phase_progress SET completed_at = now() WHERE run_id = %s AND phase = %s`,
			s.placeholder(1), s.placeholder(2))
		_, err = s.conn(ctx).ExecContext(ctx, q, runID, phase)
	} else {
		q = fmt.Sprintf(`UPDATE phase_progress SET completed_at = %s WHERE run_id = %s AND phase = %s`,
			s.placeholder(1), s.placeholder(2), s.placeholder(3))
		_, err = s.conn(ctx).ExecContext(ctx, q, nowValue(), runID, phase)
	}
	if err != nil {
		return fmt.Errorf("%w: complete phase: %v", errs.ErrStorage, err)
	}
	return nil
}

func (s *sqlStore) GetPhaseProgress(ctx context.Context, runID string, phase models.Phase) (*models.PhaseProgress, error) {
	q := fmt.Sprintf(`SELECT run_id, phase, items_total, items_completed, last_processed_id, started_at, completed_at, error
		FROM phase_progress WHERE run_id = %s AND phase = %s`, s.placeholder(1), s.placeholder(2))
	row := s.conn(ctx).QueryRowContext(ctx, q, runID, phase)
	var p models.PhaseProgress
	if err := row.Scan(&p.RunID, &p.Phase, &p.Total, &p.Completed, &p.LastProcessedID, &p.StartedAt, &p.CompletedAt, &p.Error); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get phase progress: %v", errs.ErrStorage, err)
	}
	return &p, nil
}
