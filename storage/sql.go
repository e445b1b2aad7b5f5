package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/utils"
)

// sqlStore implements Storage over database/sql. The SQLite and Postgres
// drivers share it; only placeholder style differs, handled by rebind.
type sqlStore struct {
	db       *sql.DB
	postgres bool
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	flow_name TEXT NOT NULL,
	event TEXT,
	vars TEXT,
	status TEXT NOT NULL,
	started_at BIGINT NOT NULL,
	ended_at BIGINT
);
CREATE TABLE IF NOT EXISTS steps (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	step_name TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at BIGINT NOT NULL,
	ended_at BIGINT,
	outputs TEXT,
	error TEXT
);
CREATE TABLE IF NOT EXISTS paused_runs (
	token TEXT PRIMARY KEY,
	state TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS waits (
	token TEXT PRIMARY KEY,
	wake_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS flows (
	name TEXT PRIMARY KEY,
	content TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS flow_versions (
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	PRIMARY KEY (name, version)
);
CREATE TABLE IF NOT EXISTS deployed_flows (
	name TEXT PRIMARY KEY,
	version TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_run ON steps (run_id);
CREATE INDEX IF NOT EXISTS idx_runs_flow ON runs (flow_name, started_at);
CREATE INDEX IF NOT EXISTS idx_waits_wake ON waits (wake_at);
`

func newSQLStore(db *sql.DB, postgres bool) (*sqlStore, error) {
	s := &sqlStore{db: db, postgres: postgres}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Storage("init schema: %v", err)
		}
	}
	return s, nil
}

// rebind converts ? placeholders to $n for Postgres.
func (s *sqlStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalJSON(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}

func (s *sqlStore) CreateRun(ctx context.Context, run *model.Run) error {
	event, err := marshalJSON(run.Event)
	if err != nil {
		return errors.Storage("marshal run event: %v", err)
	}
	vars, err := marshalJSON(run.Vars)
	if err != nil {
		return errors.Storage("marshal run vars: %v", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO runs (id, flow_name, event, vars, status, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.FlowName, event, vars, string(run.Status), run.StartedAt, run.EndedAt)
	if err != nil {
		return errors.Storage("create run: %v", err)
	}
	return nil
}

func (s *sqlStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status model.RunStatus, endedAt *int64) error {
	res, err := s.exec(ctx,
		`UPDATE runs SET status = ?, ended_at = COALESCE(?, ended_at) WHERE id = ?`,
		string(status), endedAt, id.String())
	if err != nil {
		return errors.Storage("update run status: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Storage("run %s not found", id)
	}
	return nil
}

func (s *sqlStore) scanRun(row interface{ Scan(...any) error }) (*model.Run, error) {
	var run model.Run
	var id string
	var event, vars sql.NullString
	var endedAt sql.NullInt64
	if err := row.Scan(&id, &run.FlowName, &event, &vars, &run.Status, &run.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	run.ID = parsed
	if err := unmarshalJSON(event, &run.Event); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(vars, &run.Vars); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Int64
	}
	return &run, nil
}

const runColumns = `id, flow_name, event, vars, status, started_at, ended_at`

func (s *sqlStore) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	run, err := s.scanRun(s.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id.String()))
	if err == sql.ErrNoRows {
		return nil, errors.Storage("run %s not found", id)
	}
	if err != nil {
		return nil, errors.Storage("get run: %v", err)
	}
	steps, err := s.GetSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	run.Outputs = outputsFromSteps(steps)
	return run, nil
}

func (s *sqlStore) ListRuns(ctx context.Context) ([]*model.Run, error) {
	rows, err := s.query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, errors.Storage("list runs: %v", err)
	}
	defer rows.Close()
	var out []*model.Run
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, errors.Storage("scan run: %v", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetLatestRun(ctx context.Context, flowName string) (*model.Run, error) {
	run, err := s.scanRun(s.queryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE flow_name = ? ORDER BY started_at DESC LIMIT 1`, flowName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Storage("get latest run: %v", err)
	}
	steps, err := s.GetSteps(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	run.Outputs = outputsFromSteps(steps)
	return run, nil
}

func (s *sqlStore) CreateStep(ctx context.Context, step *model.StepExecution) error {
	outputs, err := marshalJSON(step.Outputs)
	if err != nil {
		return errors.Storage("marshal step outputs: %v", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO steps (id, run_id, step_name, status, started_at, ended_at, outputs, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID.String(), step.RunID.String(), step.StepName, string(step.Status),
		step.StartedAt, step.EndedAt, outputs, nullString(step.Error))
	if err != nil {
		return errors.Storage("create step: %v", err)
	}
	return nil
}

func (s *sqlStore) UpdateStep(ctx context.Context, step *model.StepExecution) error {
	outputs, err := marshalJSON(step.Outputs)
	if err != nil {
		return errors.Storage("marshal step outputs: %v", err)
	}
	res, err := s.exec(ctx,
		`UPDATE steps SET status = ?, ended_at = ?, outputs = ?, error = ? WHERE id = ?`,
		string(step.Status), step.EndedAt, outputs, nullString(step.Error), step.ID.String())
	if err != nil {
		return errors.Storage("update step: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Storage("step %s not found", step.ID)
	}
	return nil
}

func (s *sqlStore) GetSteps(ctx context.Context, runID uuid.UUID) ([]*model.StepExecution, error) {
	rows, err := s.query(ctx,
		`SELECT id, run_id, step_name, status, started_at, ended_at, outputs, error FROM steps WHERE run_id = ? ORDER BY started_at, id`,
		runID.String())
	if err != nil {
		return nil, errors.Storage("get steps: %v", err)
	}
	defer rows.Close()
	var out []*model.StepExecution
	for rows.Next() {
		var step model.StepExecution
		var id, rid string
		var outputs, stepErr sql.NullString
		var endedAt sql.NullInt64
		if err := rows.Scan(&id, &rid, &step.StepName, &step.Status, &step.StartedAt, &endedAt, &outputs, &stepErr); err != nil {
			return nil, errors.Storage("scan step: %v", err)
		}
		if step.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Storage("parse step id: %v", err)
		}
		if step.RunID, err = uuid.Parse(rid); err != nil {
			return nil, errors.Storage("parse step run id: %v", err)
		}
		if endedAt.Valid {
			step.EndedAt = &endedAt.Int64
		}
		if err := unmarshalJSON(outputs, &step.Outputs); err != nil {
			return nil, errors.Storage("unmarshal step outputs: %v", err)
		}
		step.Error = stepErr.String
		out = append(out, &step)
	}
	return out, rows.Err()
}

func (s *sqlStore) SavePausedRun(ctx context.Context, paused *model.PausedRun) error {
	raw, err := json.Marshal(paused)
	if err != nil {
		return errors.Storage("marshal paused run: %v", err)
	}
	_, err = s.exec(ctx, upsert("paused_runs", "token", "state", s.postgres), paused.Token, string(raw))
	if err != nil {
		return errors.Storage("save paused run: %v", err)
	}
	return nil
}

func (s *sqlStore) LoadPausedRun(ctx context.Context, token string) (*model.PausedRun, error) {
	var raw string
	err := s.queryRow(ctx, `SELECT state FROM paused_runs WHERE token = ?`, token).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Storage("load paused run: %v", err)
	}
	var paused model.PausedRun
	if err := json.Unmarshal([]byte(raw), &paused); err != nil {
		return nil, errors.Storage("unmarshal paused run: %v", err)
	}
	return &paused, nil
}

func (s *sqlStore) ClaimPausedRun(ctx context.Context, token string) (*model.PausedRun, error) {
	var raw string
	err := s.queryRow(ctx, `DELETE FROM paused_runs WHERE token = ? RETURNING state`, token).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Storage("claim paused run: %v", err)
	}
	if _, err := s.exec(ctx, `DELETE FROM waits WHERE token = ?`, token); err != nil {
		return nil, errors.Storage("claim paused run: clear wait: %v", err)
	}
	var paused model.PausedRun
	if err := json.Unmarshal([]byte(raw), &paused); err != nil {
		return nil, errors.Storage("unmarshal paused run: %v", err)
	}
	return &paused, nil
}

func (s *sqlStore) DeletePausedRun(ctx context.Context, token string) error {
	if _, err := s.exec(ctx, `DELETE FROM paused_runs WHERE token = ?`, token); err != nil {
		return errors.Storage("delete paused run: %v", err)
	}
	return nil
}

func (s *sqlStore) ListPausedRuns(ctx context.Context) ([]*model.PausedRun, error) {
	rows, err := s.query(ctx, `SELECT state FROM paused_runs ORDER BY token`)
	if err != nil {
		return nil, errors.Storage("list paused runs: %v", err)
	}
	defer rows.Close()
	var out []*model.PausedRun
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Storage("scan paused run: %v", err)
		}
		var paused model.PausedRun
		if err := json.Unmarshal([]byte(raw), &paused); err != nil {
			return nil, errors.Storage("unmarshal paused run: %v", err)
		}
		out = append(out, &paused)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveWait(ctx context.Context, token string, wakeAt int64) error {
	if _, err := s.exec(ctx, upsert("waits", "token", "wake_at", s.postgres), token, wakeAt); err != nil {
		return errors.Storage("save wait: %v", err)
	}
	return nil
}

func (s *sqlStore) ListWaitsDue(ctx context.Context, now int64) ([]string, error) {
	rows, err := s.query(ctx, `SELECT token FROM waits WHERE wake_at <= ? ORDER BY wake_at, token`, now)
	if err != nil {
		return nil, errors.Storage("list waits: %v", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, errors.Storage("scan wait: %v", err)
		}
		out = append(out, token)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteWait(ctx context.Context, token string) error {
	if _, err := s.exec(ctx, `DELETE FROM waits WHERE token = ?`, token); err != nil {
		return errors.Storage("delete wait: %v", err)
	}
	return nil
}

func (s *sqlStore) SaveFlow(ctx context.Context, name string, content []byte) error {
	if _, err := s.exec(ctx, upsert("flows", "name", "content", s.postgres), name, string(content)); err != nil {
		return errors.Storage("save flow: %v", err)
	}
	return nil
}

func (s *sqlStore) LoadFlow(ctx context.Context, name string) ([]byte, error) {
	var content string
	err := s.queryRow(ctx, `SELECT content FROM flows WHERE name = ?`, name).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, errors.Storage("flow %s not found", name)
	}
	if err != nil {
		return nil, errors.Storage("load flow: %v", err)
	}
	return []byte(content), nil
}

func (s *sqlStore) ListFlows(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT name FROM flows ORDER BY name`)
	if err != nil {
		return nil, errors.Storage("list flows: %v", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Storage("scan flow name: %v", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveFlowVersion(ctx context.Context, v *model.FlowVersion) error {
	createdAt := v.CreatedAt
	if createdAt == 0 {
		createdAt = utils.NowMillis()
	}
	var query string
	if s.postgres {
		query = `INSERT INTO flow_versions (name, version, content, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (name, version) DO UPDATE SET content = EXCLUDED.content, created_at = EXCLUDED.created_at`
	} else {
		query = `INSERT OR REPLACE INTO flow_versions (name, version, content, created_at) VALUES (?, ?, ?, ?)`
	}
	if _, err := s.exec(ctx, query, v.Name, v.Version, string(v.Content), createdAt); err != nil {
		return errors.Storage("save flow version: %v", err)
	}
	return nil
}

func (s *sqlStore) ListFlowVersions(ctx context.Context, name string) ([]*model.FlowVersion, error) {
	rows, err := s.query(ctx,
		`SELECT name, version, content, created_at FROM flow_versions WHERE name = ? ORDER BY created_at, version`, name)
	if err != nil {
		return nil, errors.Storage("list flow versions: %v", err)
	}
	defer rows.Close()
	var out []*model.FlowVersion
	for rows.Next() {
		var v model.FlowVersion
		var content string
		if err := rows.Scan(&v.Name, &v.Version, &content, &v.CreatedAt); err != nil {
			return nil, errors.Storage("scan flow version: %v", err)
		}
		v.Content = []byte(content)
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *sqlStore) SetDeployedVersion(ctx context.Context, name, version string) error {
	var exists int
	err := s.queryRow(ctx, `SELECT 1 FROM flow_versions WHERE name = ? AND version = ?`, name, version).Scan(&exists)
	if err == sql.ErrNoRows {
		return errors.Storage("flow %s has no version %s", name, version)
	}
	if err != nil {
		return errors.Storage("set deployed version: %v", err)
	}
	if _, err := s.exec(ctx, upsert("deployed_flows", "name", "version", s.postgres), name, version); err != nil {
		return errors.Storage("set deployed version: %v", err)
	}
	return nil
}

func (s *sqlStore) GetDeployed(ctx context.Context, name string) ([]byte, error) {
	var content string
	err := s.queryRow(ctx,
		`SELECT fv.content FROM deployed_flows d JOIN flow_versions fv ON fv.name = d.name AND fv.version = d.version WHERE d.name = ?`,
		name).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, errors.Storage("flow %s has no deployed version", name)
	}
	if err != nil {
		return nil, errors.Storage("get deployed: %v", err)
	}
	return []byte(content), nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

// upsert builds a two-column insert-or-replace keyed on the first column.
func upsert(table, key, value string, postgres bool) string {
	if postgres {
		return fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES (?, ?) ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s`,
			table, key, value, key, value, value)
	}
	return fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s, %s) VALUES (?, ?)`, table, key, value)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
