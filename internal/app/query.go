package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"taskbench/api/internal/access"
	"taskbench/api/internal/metrics"
	"taskbench/api/internal/principal"
	"taskbench/api/internal/store"
)

type FilterKind string

const (
	FilterIn    FilterKind = "in"
	FilterLike  FilterKind = "like"
	FilterRange FilterKind = "range"
)

// Filter is one declarative filter value: an exact-match set, a wildcard
// substring, or a range. The boundary builds these; the engine validates
// them against the recognized dimensions before execution.
type Filter struct {
	Kind    FilterKind
	Values  []string
	Pattern string
	From    string
	To      string
}

// InFilter builds an exact-match set filter. Comma-separated values are
// split, trimmed, and collapsed; order is irrelevant.
func InFilter(raw ...string) Filter {
	seen := make(map[string]struct{})
	values := make([]string, 0, len(raw))
	for _, part := range raw {
		for _, value := range strings.Split(part, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			values = append(values, value)
		}
	}
	sort.Strings(values)
	return Filter{Kind: FilterIn, Values: values}
}

// LikeFilter builds a wildcard filter; the engine wraps the substring
// with the wildcard token on both ends at compile time.
func LikeFilter(substring string) Filter {
	return Filter{Kind: FilterLike, Pattern: substring}
}

func RangeFilter(from, to string) Filter {
	return Filter{Kind: FilterRange, From: from, To: to}
}

type TaskQueryInput struct {
	WorkbasketIDs []string
	KeyDomains    []store.KeyDomain
	Filters       map[string]Filter
	SortBy        string
	SortDesc      bool
	Page          int
	PageSize      int
}

type ClassificationQueryInput struct {
	Filters  map[string]Filter
	SortBy   string
	SortDesc bool
	Page     int
	PageSize int
}

type TaskQueryResult struct {
	Items    []store.TaskSummary
	Total    int
	Page     int
	PageSize int
}

type ClassificationQueryResult struct {
	Items    []store.ClassificationSummary
	Total    int
	Page     int
	PageSize int
}

// taskFilterNames is the fixed, ordered set of recognized task filter
// dimensions; each maps to an application step on the compiled query.
var taskFilterNames = []string{
	"state", "owner", "classification-key", "name", "name-like", "created",
	"custom-1-like", "custom-2-like", "custom-3-like", "custom-4-like",
	"custom-5-like", "custom-6-like", "custom-7-like", "custom-8-like",
}

var classificationFilterNames = []string{
	"key", "domain", "category", "type", "name", "name-like",
	"custom-1-like", "custom-2-like", "custom-3-like", "custom-4-like",
	"custom-5-like", "custom-6-like", "custom-7-like", "custom-8-like",
}

const wildcard = "%"

func wrapLike(substring string) string {
	return wildcard + substring + wildcard
}

func checkFilterNames(filters map[string]Filter, recognized []string) error {
	known := make(map[string]struct{}, len(recognized))
	for _, name := range recognized {
		known[name] = struct{}{}
	}
	for name := range filters {
		if _, ok := known[name]; !ok {
			return invalidArgument(fmt.Sprintf("unknown filter '%s'", name))
		}
	}
	return nil
}

func requireKind(name string, f Filter, kind FilterKind) error {
	if f.Kind != kind {
		return invalidArgument(fmt.Sprintf("filter '%s' must be of kind %s", name, kind))
	}
	return nil
}

func customLikeIndex(name string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(name, "custom-%d-like", &n); err != nil {
		return 0, false
	}
	if n < 1 || n > 8 {
		return 0, false
	}
	return n - 1, true
}

func checkPage(page, pageSize int) error {
	if page < 0 || pageSize < 0 {
		return invalidArgument("page and page size must not be negative")
	}
	if page > 0 && pageSize == 0 {
		return invalidArgument("page size is required when a page is requested")
	}
	return nil
}

func pageWindow(page, pageSize int) (offset, limit int) {
	if page <= 0 || pageSize <= 0 {
		return 0, 0
	}
	return (page - 1) * pageSize, pageSize
}

// compileTaskQuery validates the declarative input and produces the
// store-level query, applying the recognized filters in one fixed order.
func compileTaskQuery(input TaskQueryInput) (store.TaskQuery, error) {
	var q store.TaskQuery

	if err := checkFilterNames(input.Filters, taskFilterNames); err != nil {
		return q, err
	}
	if err := checkPage(input.Page, input.PageSize); err != nil {
		return q, err
	}
	if input.SortBy != "" {
		if _, ok := store.TaskSortColumns[input.SortBy]; !ok {
			return q, invalidArgument(fmt.Sprintf("unknown sort field '%s'", input.SortBy))
		}
	}

	for _, name := range taskFilterNames {
		f, ok := input.Filters[name]
		if !ok {
			continue
		}
		switch name {
		case "state":
			if err := requireKind(name, f, FilterIn); err != nil {
				return q, err
			}
			for _, value := range f.Values {
				if !store.ValidTaskState(value) {
					return q, invalidArgument(fmt.Sprintf("unknown task state '%s'", value))
				}
			}
			q.States = f.Values
		case "owner":
			if err := requireKind(name, f, FilterIn); err != nil {
				return q, err
			}
			q.Owners = f.Values
		case "classification-key":
			if err := requireKind(name, f, FilterIn); err != nil {
				return q, err
			}
			q.ClassificationKeys = f.Values
		case "name":
			if err := requireKind(name, f, FilterIn); err != nil {
				return q, err
			}
			q.NameIn = f.Values
		case "name-like":
			if err := requireKind(name, f, FilterLike); err != nil {
				return q, err
			}
			q.NameLike = wrapLike(f.Pattern)
		case "created":
			if err := requireKind(name, f, FilterRange); err != nil {
				return q, err
			}
			from, to, err := parseTimeRange(f)
			if err != nil {
				return q, err
			}
			q.CreatedFrom, q.CreatedTo = from, to
		default:
			i, ok := customLikeIndex(name)
			if !ok {
				return q, invalidArgument(fmt.Sprintf("unknown filter '%s'", name))
			}
			if err := requireKind(name, f, FilterLike); err != nil {
				return q, err
			}
			q.CustomLike[i] = wrapLike(f.Pattern)
		}
	}

	q.SortBy = input.SortBy
	q.SortDesc = input.SortDesc
	q.Offset, q.Limit = pageWindow(input.Page, input.PageSize)
	return q, nil
}

func compileClassificationQuery(input ClassificationQueryInput) (store.ClassificationQuery, error) {
	var q store.ClassificationQuery

	if err := checkFilterNames(input.Filters, classificationFilterNames); err != nil {
		return q, err
	}
	if err := checkPage(input.Page, input.PageSize); err != nil {
		return q, err
	}
	if input.SortBy != "" {
		if _, ok := store.ClassificationSortColumns[input.SortBy]; !ok {
			return q, invalidArgument(fmt.Sprintf("unknown sort field '%s'", input.SortBy))
		}
	}

	for _, name := range classificationFilterNames {
		f, ok := input.Filters[name]
		if !ok {
			continue
		}
		switch name {
		case "key":
			if err := requireKind(name, f, FilterIn); err != nil {
				return q, err
			}
			q.Keys = f.Values
		case "domain":
			if err := requireKind(name, f, FilterIn); err != nil {
				return q, err
			}
			q.Domains = f.Values
		case "category":
			if err := requireKind(name, f, FilterIn); err != nil {
				return q, err
			}
			q.Categories = f.Values
		case "type":
			if err := requireKind(name, f, FilterIn); err != nil {
				return q, err
			}
			q.Types = f.Values
		case "name":
			if err := requireKind(name, f, FilterIn); err != nil {
				return q, err
			}
			q.NameIn = f.Values
		case "name-like":
			if err := requireKind(name, f, FilterLike); err != nil {
				return q, err
			}
			q.NameLike = wrapLike(f.Pattern)
		default:
			i, ok := customLikeIndex(name)
			if !ok {
				return q, invalidArgument(fmt.Sprintf("unknown filter '%s'", name))
			}
			if err := requireKind(name, f, FilterLike); err != nil {
				return q, err
			}
			q.CustomLike[i] = wrapLike(f.Pattern)
		}
	}

	q.SortBy = input.SortBy
	q.SortDesc = input.SortDesc
	q.Offset, q.Limit = pageWindow(input.Page, input.PageSize)
	return q, nil
}

func parseTimeRange(f Filter) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if f.From != "" {
		t, err := time.Parse(time.RFC3339, f.From)
		if err != nil {
			return nil, nil, invalidArgument(fmt.Sprintf("invalid range bound '%s'", f.From))
		}
		from = &t
	}
	if f.To != "" {
		t, err := time.Parse(time.RFC3339, f.To)
		if err != nil {
			return nil, nil, invalidArgument(fmt.Sprintf("invalid range bound '%s'", f.To))
		}
		to = &t
	}
	return from, to, nil
}

// QueryTasks runs an authorization-scoped task query. Explicit
// workbasket targets are checked all-or-nothing before execution.
func (s *Service) QueryTasks(ctx context.Context, p principal.Principal, input TaskQueryInput) (TaskQueryResult, error) {
	q, err := compileTaskQuery(input)
	if err != nil {
		return TaskQueryResult{}, err
	}

	scope, err := s.access.CheckScope(ctx, p, access.PermOpen, input.WorkbasketIDs, input.KeyDomains)
	if err != nil {
		return TaskQueryResult{}, asDomainError(err)
	}

	result := TaskQueryResult{Items: []store.TaskSummary{}, Page: input.Page, PageSize: input.PageSize}
	if len(scope) == 0 {
		return result, nil
	}

	q.WorkbasketIDs = scope
	items, total, err := s.store.QueryTaskSummaries(ctx, q)
	if err != nil {
		return TaskQueryResult{}, err
	}
	metrics.QueryExecutions.WithLabelValues("task").Inc()

	result.Items = items
	result.Total = total
	return result, nil
}

// QueryClassifications runs a classification query. Classifications are
// reference data and carry no workbasket authorization scope.
func (s *Service) QueryClassifications(ctx context.Context, input ClassificationQueryInput) (ClassificationQueryResult, error) {
	q, err := compileClassificationQuery(input)
	if err != nil {
		return ClassificationQueryResult{}, err
	}

	items, total, err := s.store.QueryClassificationSummaries(ctx, q)
	if err != nil {
		return ClassificationQueryResult{}, err
	}
	metrics.QueryExecutions.WithLabelValues("classification").Inc()

	return ClassificationQueryResult{Items: items, Total: total, Page: input.Page, PageSize: input.PageSize}, nil
}
