package store

import (
	"strings"
	"testing"
)

func TestBuildTaskWhereComposesConjunctively(t *testing.T) {
	where, args := buildTaskWhere(TaskQuery{
		WorkbasketIDs: []string{"WBI:1", "WBI:2"},
		States:        []string{"READY"},
		NameLike:      "%invoice%",
		CustomLike:    [8]string{"", "%vip%"},
	})

	if !strings.Contains(where, "t.workbasket_id IN ($1, $2)") {
		t.Fatalf("missing workbasket clause in %q", where)
	}
	if !strings.Contains(where, "t.state IN ($3)") {
		t.Fatalf("missing state clause in %q", where)
	}
	if !strings.Contains(where, "t.name ILIKE $4") {
		t.Fatalf("missing name like clause in %q", where)
	}
	if !strings.Contains(where, "t.custom_2 ILIKE $5") {
		t.Fatalf("missing custom like clause in %q", where)
	}
	if strings.Count(where, " AND ") != 3 {
		t.Fatalf("expected 4 conjunctive clauses, got %q", where)
	}
	if len(args) != 5 {
		t.Fatalf("expected 5 args, got %v", args)
	}
}

func TestBuildClassificationWhereWithoutFilters(t *testing.T) {
	where, args := buildClassificationWhere(ClassificationQuery{})
	if where != "TRUE" {
		t.Fatalf("expected TRUE, got %q", where)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
}

func TestOrderByAppendsIdentifierTiebreak(t *testing.T) {
	clause := orderBy(ClassificationSortColumns, "category", true, "id")
	if clause != "ORDER BY category DESC, id ASC" {
		t.Fatalf("unexpected clause %q", clause)
	}
}

func TestOrderByFallsBackToTiebreak(t *testing.T) {
	clause := orderBy(TaskSortColumns, "", false, "t.id")
	if clause != "ORDER BY t.id ASC" {
		t.Fatalf("unexpected clause %q", clause)
	}
}

func TestPageClauseNumbersAfterWhereArgs(t *testing.T) {
	args := []any{"a", "b"}
	clause := pageClause(10, 20, &args)
	if clause != "LIMIT $3 OFFSET $4" {
		t.Fatalf("unexpected clause %q", clause)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %v", args)
	}
}
