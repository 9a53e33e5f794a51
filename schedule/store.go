package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

// Store persists schedule rows. It is the authoritative record; the live
// engine is rebuilt from it at startup.
type Store struct {
	db      *sql.DB
	timeNow func() time.Time
}

// NewStore creates a schedule store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, timeNow: time.Now}
}

const jobColumns = `id, name, created_by, required_permission, source, bot_id,
	plugin_name, target_type, target_identifier, trigger_type, trigger_config,
	job_kwargs, is_enabled, is_one_off, last_run_at, last_run_status,
	consecutive_failures, execution_options, create_time`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var name, createdBy, botID, lastRunAt, lastRunStatus, execOptions sql.NullString
	var triggerConfig, jobKwargs, createTime string
	var enabled, oneOff int

	err := row.Scan(&j.ID, &name, &createdBy, &j.RequiredPermission, &j.Source,
		&botID, &j.PluginName, &j.TargetType, &j.TargetIdentifier,
		&j.TriggerType, &triggerConfig, &jobKwargs, &enabled, &oneOff,
		&lastRunAt, &lastRunStatus, &j.ConsecutiveFailures, &execOptions,
		&createTime)
	if err != nil {
		return nil, err
	}

	j.Name = name.String
	j.CreatedBy = createdBy.String
	j.BotID = botID.String
	j.IsEnabled = enabled != 0
	j.IsOneOff = oneOff != 0
	j.LastRunStatus = lastRunStatus.String

	if err := json.Unmarshal([]byte(triggerConfig), &j.TriggerConfig); err != nil {
		return nil, errors.Wrap(err, "decode trigger_config")
	}
	if err := json.Unmarshal([]byte(jobKwargs), &j.JobKwargs); err != nil {
		return nil, errors.Wrap(err, "decode job_kwargs")
	}
	if execOptions.Valid && execOptions.String != "" {
		j.ExecutionOptions = &ExecutionOptions{}
		if err := json.Unmarshal([]byte(execOptions.String), j.ExecutionOptions); err != nil {
			return nil, errors.Wrap(err, "decode execution_options")
		}
	}
	if lastRunAt.Valid && lastRunAt.String != "" {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return nil, errors.Wrap(err, "parse last_run_at")
		}
		j.LastRunAt = &t
	}
	j.CreateTime, err = time.Parse(time.RFC3339, createTime)
	if err != nil {
		return nil, errors.Wrap(err, "parse create_time")
	}
	return &j, nil
}

func encodeJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encode json column")
	}
	return string(raw), nil
}

// Get returns one row by id; ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "schedule %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get schedule %d", id)
	}
	return j, nil
}

// Upsert inserts or updates by the natural key (plugin_name, target_type,
// target_identifier, bot_id) and returns the persisted row. Run bookkeeping
// fields survive an update.
func (s *Store) Upsert(ctx context.Context, j *Job) (*Job, error) {
	triggerConfig, err := encodeJSON(j.TriggerConfig, "{}")
	if err != nil {
		return nil, err
	}
	jobKwargs, err := encodeJSON(j.JobKwargs, "{}")
	if err != nil {
		return nil, err
	}
	var execOptions any
	if j.ExecutionOptions != nil {
		encoded, err := encodeJSON(j.ExecutionOptions, "")
		if err != nil {
			return nil, err
		}
		execOptions = encoded
	}

	if j.Source == "" {
		j.Source = SourceUser
	}
	if j.RequiredPermission == 0 {
		j.RequiredPermission = 5
	}
	enabled, oneOff := 0, 0
	if j.IsEnabled {
		enabled = 1
	}
	if j.IsOneOff {
		oneOff = 1
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_jobs (name, created_by, required_permission, source,
			bot_id, plugin_name, target_type, target_identifier, trigger_type,
			trigger_config, job_kwargs, is_enabled, is_one_off,
			execution_options, create_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (plugin_name, target_type, target_identifier, COALESCE(bot_id, ''))
		DO UPDATE SET
			name = excluded.name,
			created_by = excluded.created_by,
			required_permission = excluded.required_permission,
			source = excluded.source,
			trigger_type = excluded.trigger_type,
			trigger_config = excluded.trigger_config,
			job_kwargs = excluded.job_kwargs,
			is_enabled = excluded.is_enabled,
			is_one_off = excluded.is_one_off,
			execution_options = excluded.execution_options
		RETURNING `+jobColumns,
		nullable(j.Name), nullable(j.CreatedBy), j.RequiredPermission, j.Source,
		nullable(j.BotID), j.PluginName, j.TargetType, j.TargetIdentifier,
		j.TriggerType, triggerConfig, jobKwargs, enabled, oneOff,
		execOptions, s.timeNow().UTC().Format(time.RFC3339))

	saved, err := scanJob(row)
	if err != nil {
		return nil, errors.Wrapf(err, "upsert schedule for %s", j.PluginName)
	}
	return saved, nil
}

// SetEnabled flips is_enabled.
func (s *Store) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET is_enabled = ? WHERE id = ?`, v, id)
	if err != nil {
		return errors.Wrapf(err, "set enabled for schedule %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "schedule %d", id)
	}
	return nil
}

// UpdateFields writes a partial update for trigger and kwargs columns.
func (s *Store) UpdateFields(ctx context.Context, j *Job) error {
	triggerConfig, err := encodeJSON(j.TriggerConfig, "{}")
	if err != nil {
		return err
	}
	jobKwargs, err := encodeJSON(j.JobKwargs, "{}")
	if err != nil {
		return err
	}
	var execOptions any
	if j.ExecutionOptions != nil {
		encoded, err := encodeJSON(j.ExecutionOptions, "")
		if err != nil {
			return err
		}
		execOptions = encoded
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET trigger_type = ?, trigger_config = ?,
			job_kwargs = ?, execution_options = ?
		WHERE id = ?`,
		j.TriggerType, triggerConfig, jobKwargs, execOptions, j.ID)
	if err != nil {
		return errors.Wrapf(err, "update schedule %d", j.ID)
	}
	return nil
}

// RecordRun writes the outcome of one invocation. Failures accumulate;
// a success zeroes the streak.
func (s *Store) RecordRun(ctx context.Context, id int64, status string, at time.Time) error {
	var err error
	if status == StatusSuccess {
		_, err = s.db.ExecContext(ctx, `
			UPDATE scheduled_jobs SET last_run_at = ?, last_run_status = ?,
				consecutive_failures = 0
			WHERE id = ?`,
			at.UTC().Format(time.RFC3339), status, id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE scheduled_jobs SET last_run_at = ?, last_run_status = ?,
				consecutive_failures = consecutive_failures + 1
			WHERE id = ?`,
			at.UTC().Format(time.RFC3339), status, id)
	}
	if err != nil {
		return errors.Wrapf(err, "record run for schedule %d", id)
	}
	return nil
}

// Delete removes the row.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete schedule %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "schedule %d", id)
	}
	return nil
}

// Enabled returns every is_enabled row, oldest first. Startup restores the
// live engine from this set.
func (s *Store) Enabled(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE is_enabled = 1 ORDER BY id`)
}

// Filter narrows bulk queries. Zero-valued fields do not constrain.
type Filter struct {
	ID               int64
	IDs              []int64
	PluginName       string
	TargetType       string
	TargetIdentifier string
	TargetIDs        []string
	BotID            string
}

// Query returns rows matching the filter, oldest first. Page is 1-based;
// pageSize 0 disables paging.
func (s *Store) Query(ctx context.Context, f Filter, page, pageSize int) ([]*Job, error) {
	var conds []string
	var args []any
	if f.ID != 0 {
		conds = append(conds, "id = ?")
		args = append(args, f.ID)
	}
	if len(f.IDs) > 0 {
		conds = append(conds, "id IN (?"+strings.Repeat(", ?", len(f.IDs)-1)+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.PluginName != "" {
		conds = append(conds, "plugin_name = ?")
		args = append(args, f.PluginName)
	}
	if f.TargetType != "" {
		conds = append(conds, "target_type = ?")
		args = append(args, f.TargetType)
	}
	if f.TargetIdentifier != "" {
		conds = append(conds, "target_identifier = ?")
		args = append(args, f.TargetIdentifier)
	}
	if len(f.TargetIDs) > 0 {
		conds = append(conds, "target_identifier IN (?"+strings.Repeat(", ?", len(f.TargetIDs)-1)+")")
		for _, id := range f.TargetIDs {
			args = append(args, id)
		}
	}
	if f.BotID != "" {
		conds = append(conds, "bot_id = ?")
		args = append(args, f.BotID)
	}

	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, pageSize, (page-1)*pageSize)
	}
	return s.queryJobs(ctx, query, args...)
}

// FindByNaturalKey returns the row matching the upsert key, or ErrNotFound.
func (s *Store) FindByNaturalKey(ctx context.Context, pluginName, targetType, targetIdentifier, botID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE plugin_name = ? AND target_type = ? AND target_identifier = ?
			AND COALESCE(bot_id, '') = ?`,
		pluginName, targetType, targetIdentifier, botID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "schedule for %s", pluginName)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find schedule for %s", pluginName)
	}
	return j, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query schedules")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan schedule")
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
