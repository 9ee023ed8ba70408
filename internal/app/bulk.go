package app

import (
	"context"
	"strings"

	"taskbench/api/internal/principal"
)

// BulkResultItem carries the per-task outcome of a bulk operation. Err
// is nil for tasks that went through.
type BulkResultItem struct {
	TaskID string       `json:"taskId"`
	Err    *DomainError `json:"error,omitempty"`
}

type BulkResult struct {
	Items  []BulkResultItem `json:"items"`
	Failed int              `json:"failed"`
}

// checkBulkIDs rejects the whole request before any item runs: an empty
// list or a blank id is a caller mistake, not a per-item failure.
func checkBulkIDs(taskIDs []string) error {
	if len(taskIDs) == 0 {
		return invalidArgument("taskIds must not be empty")
	}
	for _, id := range taskIDs {
		if strings.TrimSpace(id) == "" {
			return invalidArgument("taskIds must not contain blank entries")
		}
	}
	return nil
}

func (s *Service) bulk(ctx context.Context, taskIDs []string, op func(context.Context, string) error) (BulkResult, error) {
	if err := checkBulkIDs(taskIDs); err != nil {
		return BulkResult{}, err
	}
	result := BulkResult{Items: make([]BulkResultItem, 0, len(taskIDs))}
	for _, id := range taskIDs {
		if err := ctx.Err(); err != nil {
			return BulkResult{}, err
		}
		item := BulkResultItem{TaskID: id}
		if err := op(ctx, id); err != nil {
			item.Err = asDomainError(err)
			result.Failed++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// ClaimAll claims each task in order, collecting per-task outcomes. One
// failing task never aborts the remainder.
func (s *Service) ClaimAll(ctx context.Context, p principal.Principal, taskIDs []string, force bool) (BulkResult, error) {
	return s.bulk(ctx, taskIDs, func(ctx context.Context, id string) error {
		_, err := s.Claim(ctx, p, id, force)
		return err
	})
}

func (s *Service) CompleteAll(ctx context.Context, p principal.Principal, taskIDs []string, force bool) (BulkResult, error) {
	return s.bulk(ctx, taskIDs, func(ctx context.Context, id string) error {
		_, err := s.Complete(ctx, p, id, force)
		return err
	})
}

func (s *Service) DeleteAll(ctx context.Context, p principal.Principal, taskIDs []string, force bool) (BulkResult, error) {
	return s.bulk(ctx, taskIDs, func(ctx context.Context, id string) error {
		return s.Delete(ctx, p, id, force)
	})
}
