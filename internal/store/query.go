package store

import (
	"fmt"
	"strings"
	"time"
)

// TaskQuery is the compiled form of a validated task query: every field
// is already authorization-checked and sanitized by the caller. An empty
// slice means the dimension is unconstrained, except WorkbasketIDs which
// must name the authorized scope.
type TaskQuery struct {
	WorkbasketIDs      []string
	States             []string
	Owners             []string
	ClassificationKeys []string
	NameIn             []string
	NameLike           string
	CustomLike         [8]string
	CreatedFrom        *time.Time
	CreatedTo          *time.Time
	SortBy             string
	SortDesc           bool
	Offset             int
	Limit              int
}

type ClassificationQuery struct {
	Keys       []string
	Domains    []string
	Categories []string
	Types      []string
	NameIn     []string
	NameLike   string
	CustomLike [8]string
	SortBy     string
	SortDesc   bool
	Offset     int
	Limit      int
}

// TaskSortColumns maps the recognized task sort fields to their ORDER BY
// expressions. The identifier tiebreak is appended separately.
var TaskSortColumns = map[string]string{
	"name":     "t.name",
	"owner":    "t.owner",
	"state":    "t.state",
	"created":  "t.created",
	"modified": "t.modified",
}

var ClassificationSortColumns = map[string]string{
	"category": "category",
	"domain":   "domain",
	"key":      "key",
	"name":     "name",
}

func inClause(column string, values []string, args *[]any) string {
	placeholders := make([]string, len(values))
	for i, value := range values {
		*args = append(*args, value)
		placeholders[i] = fmt.Sprintf("$%d", len(*args))
	}
	return column + " IN (" + strings.Join(placeholders, ", ") + ")"
}

func likeClause(column, pattern string, args *[]any) string {
	*args = append(*args, pattern)
	return fmt.Sprintf("%s ILIKE $%d", column, len(*args))
}

func buildTaskWhere(q TaskQuery) (string, []any) {
	var args []any
	conditions := []string{inClause("t.workbasket_id", q.WorkbasketIDs, &args)}

	if len(q.States) > 0 {
		conditions = append(conditions, inClause("t.state", q.States, &args))
	}
	if len(q.Owners) > 0 {
		conditions = append(conditions, inClause("t.owner", q.Owners, &args))
	}
	if len(q.ClassificationKeys) > 0 {
		conditions = append(conditions, inClause("t.classification_key", q.ClassificationKeys, &args))
	}
	if len(q.NameIn) > 0 {
		conditions = append(conditions, inClause("t.name", q.NameIn, &args))
	}
	if q.NameLike != "" {
		conditions = append(conditions, likeClause("t.name", q.NameLike, &args))
	}
	for i, pattern := range q.CustomLike {
		if pattern == "" {
			continue
		}
		conditions = append(conditions, likeClause(fmt.Sprintf("t.custom_%d", i+1), pattern, &args))
	}
	if q.CreatedFrom != nil {
		args = append(args, *q.CreatedFrom)
		conditions = append(conditions, fmt.Sprintf("t.created >= $%d", len(args)))
	}
	if q.CreatedTo != nil {
		args = append(args, *q.CreatedTo)
		conditions = append(conditions, fmt.Sprintf("t.created <= $%d", len(args)))
	}

	return strings.Join(conditions, " AND "), args
}

func buildClassificationWhere(q ClassificationQuery) (string, []any) {
	var args []any
	var conditions []string

	if len(q.Keys) > 0 {
		conditions = append(conditions, inClause("key", q.Keys, &args))
	}
	if len(q.Domains) > 0 {
		conditions = append(conditions, inClause("domain", q.Domains, &args))
	}
	if len(q.Categories) > 0 {
		conditions = append(conditions, inClause("category", q.Categories, &args))
	}
	if len(q.Types) > 0 {
		conditions = append(conditions, inClause("type", q.Types, &args))
	}
	if len(q.NameIn) > 0 {
		conditions = append(conditions, inClause("name", q.NameIn, &args))
	}
	if q.NameLike != "" {
		conditions = append(conditions, likeClause("name", q.NameLike, &args))
	}
	for i, pattern := range q.CustomLike {
		if pattern == "" {
			continue
		}
		conditions = append(conditions, likeClause(fmt.Sprintf("custom_%d", i+1), pattern, &args))
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conditions, " AND "), args
}

// orderBy builds a deterministic ORDER BY clause: the requested column
// plus an identifier tiebreak so repeated identical queries return the
// same order.
func orderBy(columns map[string]string, sortBy string, desc bool, tiebreak string) string {
	column, ok := columns[sortBy]
	if !ok {
		return "ORDER BY " + tiebreak + " ASC"
	}
	direction := "ASC"
	if desc {
		direction = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s, %s ASC", column, direction, tiebreak)
}

func pageClause(offset, limit int, args *[]any) string {
	if limit <= 0 {
		return ""
	}
	*args = append(*args, limit)
	clause := fmt.Sprintf("LIMIT $%d", len(*args))
	if offset > 0 {
		*args = append(*args, offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}
