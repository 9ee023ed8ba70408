package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const taskColumns = `id, workbasket_id, classification_key, name, note, owner, state, is_read, created, claimed, completed, modified, version,
	custom_1, custom_2, custom_3, custom_4, custom_5, custom_6, custom_7, custom_8`

func scanTask(row *sql.Row) (Task, error) {
	var t Task
	var owner sql.NullString
	err := row.Scan(
		&t.ID, &t.WorkbasketID, &t.ClassificationKey, &t.Name, &t.Note,
		&owner, &t.State, &t.Read, &t.Created, &t.Claimed, &t.Completed,
		&t.Modified, &t.Version,
		&t.Custom[0], &t.Custom[1], &t.Custom[2], &t.Custom[3],
		&t.Custom[4], &t.Custom[5], &t.Custom[6], &t.Custom[7],
	)
	if err != nil {
		return Task{}, err
	}
	t.Owner = owner.String
	return t, nil
}

// InsertTask persists a freshly built task at version 1.
func (s *PostgresStore) InsertTask(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21)
	`, t.ID, t.WorkbasketID, t.ClassificationKey, t.Name, t.Note, t.Owner,
		t.State, t.Read, t.Created, t.Claimed, t.Completed, t.Modified, t.Version,
		t.Custom[0], t.Custom[1], t.Custom[2], t.Custom[3],
		t.Custom[4], t.Custom[5], t.Custom[6], t.Custom[7])
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID)
	return scanTask(row)
}

// UpdateTaskIfVersion writes the task's mutable fields conditioned on the
// version the caller read, bumping the version by one. It reports false
// when a concurrent writer got there first (zero rows matched).
func (s *PostgresStore) UpdateTaskIfVersion(ctx context.Context, t Task) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET owner=NULLIF($2, ''), state=$3, is_read=$4, claimed=$5, completed=$6, modified=$7, version=version+1
		WHERE id=$1 AND version=$8
	`, t.ID, t.Owner, t.State, t.Read, t.Claimed, t.Completed, t.Modified, t.Version)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update task rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteTaskIfVersion removes the task conditioned on the version the
// caller read; false means a concurrent writer changed it first.
func (s *PostgresStore) DeleteTaskIfVersion(ctx context.Context, taskID string, version int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1 AND version=$2`, taskID, version)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete task rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) QueryTaskSummaries(ctx context.Context, q TaskQuery) ([]TaskSummary, int, error) {
	if len(q.WorkbasketIDs) == 0 {
		return []TaskSummary{}, 0, nil
	}

	where, args := buildTaskWhere(q)

	var total int
	countSQL := `SELECT COUNT(*) FROM tasks t WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	querySQL := `
		SELECT t.id, t.name, t.workbasket_id, w.key, w.domain, t.classification_key,
			COALESCE(t.owner, ''), t.state, t.created, t.modified
		FROM tasks t
		JOIN workbaskets w ON w.id = t.workbasket_id
		WHERE ` + where + `
		` + orderBy(TaskSortColumns, q.SortBy, q.SortDesc, "t.id") + `
		` + pageClause(q.Offset, q.Limit, &args)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	items := make([]TaskSummary, 0)
	for rows.Next() {
		var item TaskSummary
		if err := rows.Scan(
			&item.ID, &item.Name, &item.WorkbasketID, &item.WorkbasketKey,
			&item.Domain, &item.ClassificationKey, &item.Owner, &item.State,
			&item.Created, &item.Modified,
		); err != nil {
			return nil, 0, fmt.Errorf("scan task summary: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate task summaries: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) GetWorkbasket(ctx context.Context, workbasketID string) (Workbasket, error) {
	var item Workbasket
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key, domain, name, COALESCE(owner, ''), created, modified
		FROM workbaskets
		WHERE id=$1
	`, workbasketID).Scan(&item.ID, &item.Key, &item.Domain, &item.Name, &item.Owner, &item.Created, &item.Modified)
	if err != nil {
		return Workbasket{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetWorkbasketByKeyDomain(ctx context.Context, key, domain string) (Workbasket, error) {
	var item Workbasket
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key, domain, name, COALESCE(owner, ''), created, modified
		FROM workbaskets
		WHERE key=$1 AND domain=$2
	`, key, domain).Scan(&item.ID, &item.Key, &item.Domain, &item.Name, &item.Owner, &item.Created, &item.Modified)
	if err != nil {
		return Workbasket{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListWorkbasketsByIDs(ctx context.Context, workbasketIDs []string) ([]Workbasket, error) {
	if len(workbasketIDs) == 0 {
		return []Workbasket{}, nil
	}
	var args []any
	querySQL := `
		SELECT id, key, domain, name, COALESCE(owner, ''), created, modified
		FROM workbaskets
		WHERE ` + inClause("id", workbasketIDs, &args) + `
		ORDER BY key ASC, domain ASC`

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("list workbaskets: %w", err)
	}
	defer rows.Close()

	items := make([]Workbasket, 0)
	for rows.Next() {
		var item Workbasket
		if err := rows.Scan(&item.ID, &item.Key, &item.Domain, &item.Name, &item.Owner, &item.Created, &item.Modified); err != nil {
			return nil, fmt.Errorf("scan workbasket: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workbaskets: %w", err)
	}
	return items, nil
}

// ListAccessItemsByAccessIDs returns every access-control entry whose
// holder matches one of the given ids (the principal's user id and group
// ids).
func (s *PostgresStore) ListAccessItemsByAccessIDs(ctx context.Context, accessIDs []string) ([]WorkbasketAccessItem, error) {
	if len(accessIDs) == 0 {
		return []WorkbasketAccessItem{}, nil
	}
	var args []any
	querySQL := `
		SELECT id, workbasket_id, access_id, permissions
		FROM workbasket_access_items
		WHERE ` + inClause("access_id", accessIDs, &args) + `
		ORDER BY workbasket_id ASC, access_id ASC`

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("list access items: %w", err)
	}
	defer rows.Close()

	items := make([]WorkbasketAccessItem, 0)
	for rows.Next() {
		var item WorkbasketAccessItem
		var permissions string
		if err := rows.Scan(&item.ID, &item.WorkbasketID, &item.AccessID, &permissions); err != nil {
			return nil, fmt.Errorf("scan access item: %w", err)
		}
		if permissions != "" {
			item.Permissions = strings.Split(permissions, ",")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access items: %w", err)
	}
	return items, nil
}

const classificationColumns = `id, key, domain, category, type, name, created, modified,
	custom_1, custom_2, custom_3, custom_4, custom_5, custom_6, custom_7, custom_8`

func (s *PostgresStore) GetClassification(ctx context.Context, classificationID string) (Classification, error) {
	var c Classification
	err := s.db.QueryRowContext(ctx, `SELECT `+classificationColumns+` FROM classifications WHERE id=$1`, classificationID).Scan(
		&c.ID, &c.Key, &c.Domain, &c.Category, &c.Type, &c.Name, &c.Created, &c.Modified,
		&c.Custom[0], &c.Custom[1], &c.Custom[2], &c.Custom[3],
		&c.Custom[4], &c.Custom[5], &c.Custom[6], &c.Custom[7],
	)
	if err != nil {
		return Classification{}, err
	}
	return c, nil
}

func (s *PostgresStore) GetClassificationByKeyDomain(ctx context.Context, key, domain string) (Classification, error) {
	var c Classification
	err := s.db.QueryRowContext(ctx, `SELECT `+classificationColumns+` FROM classifications WHERE key=$1 AND domain=$2`, key, domain).Scan(
		&c.ID, &c.Key, &c.Domain, &c.Category, &c.Type, &c.Name, &c.Created, &c.Modified,
		&c.Custom[0], &c.Custom[1], &c.Custom[2], &c.Custom[3],
		&c.Custom[4], &c.Custom[5], &c.Custom[6], &c.Custom[7],
	)
	if err != nil {
		return Classification{}, err
	}
	return c, nil
}

func (s *PostgresStore) QueryClassificationSummaries(ctx context.Context, q ClassificationQuery) ([]ClassificationSummary, int, error) {
	where, args := buildClassificationWhere(q)

	var total int
	countSQL := `SELECT COUNT(*) FROM classifications WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count classifications: %w", err)
	}

	querySQL := `
		SELECT id, key, domain, category, type, name
		FROM classifications
		WHERE ` + where + `
		` + orderBy(ClassificationSortColumns, q.SortBy, q.SortDesc, "id") + `
		` + pageClause(q.Offset, q.Limit, &args)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	items := make([]ClassificationSummary, 0)
	for rows.Next() {
		var item ClassificationSummary
		if err := rows.Scan(&item.ID, &item.Key, &item.Domain, &item.Category, &item.Type, &item.Name); err != nil {
			return nil, 0, fmt.Errorf("scan classification summary: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate classification summaries: %w", err)
	}
	return items, total, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
