package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"taskbench/api/internal/access"
	"taskbench/api/internal/config"
	"taskbench/api/internal/metrics"
	"taskbench/api/internal/principal"
	"taskbench/api/internal/search"
	"taskbench/api/internal/store"
	"taskbench/api/internal/util"
)

type dataStore interface {
	InsertTask(ctx context.Context, task store.Task) error
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	UpdateTaskIfVersion(ctx context.Context, task store.Task) (bool, error)
	DeleteTaskIfVersion(ctx context.Context, taskID string, version int64) (bool, error)
	QueryTaskSummaries(ctx context.Context, q store.TaskQuery) ([]store.TaskSummary, int, error)
	GetWorkbasket(ctx context.Context, workbasketID string) (store.Workbasket, error)
	ListWorkbasketsByIDs(ctx context.Context, workbasketIDs []string) ([]store.Workbasket, error)
	GetClassification(ctx context.Context, classificationID string) (store.Classification, error)
	GetClassificationByKeyDomain(ctx context.Context, key, domain string) (store.Classification, error)
	QueryClassificationSummaries(ctx context.Context, q store.ClassificationQuery) ([]store.ClassificationSummary, int, error)
	Ping(ctx context.Context) error
}

type authResolver interface {
	AccessibleWorkbaskets(ctx context.Context, p principal.Principal, perm access.Permission) ([]string, error)
	CheckAccess(ctx context.Context, p principal.Principal, perm access.Permission, workbasketID string) error
	CheckScope(ctx context.Context, p principal.Principal, perm access.Permission, workbasketIDs []string, keyDomains []store.KeyDomain) ([]string, error)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	access authResolver
	search *search.Service
	now    func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, resolver *access.Resolver, searchService *search.Service) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		access: resolver,
		search: searchService,
		now:    time.Now,
	}
}

// asDomainError folds any engine error into the taxonomy the boundary
// maps to status codes.
func asDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var notAuth *access.NotAuthorizedError
	if errors.As(err, &notAuth) {
		return notAuthorized(notAuth.WorkbasketID)
	}
	var notAuthQuery *access.NotAuthorizedToQueryError
	if errors.As(err, &notAuthQuery) {
		return notAuthorizedToQuery(notAuthQuery.Target)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(404, "NOT_FOUND", "not found", nil)
	}
	// Driver and store errors stay in the log. Clients only see the code.
	log.Printf("internal error: %v", err)
	return domainError(500, "SERVER_ERROR", "Server error", nil)
}

// getTask reads the task and gate-checks READ on its workbasket.
func (s *Service) getTask(ctx context.Context, p principal.Principal, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, notFound("task", taskID)
	}
	if err != nil {
		return store.Task{}, err
	}
	if err := s.access.CheckAccess(ctx, p, access.PermRead, task.WorkbasketID); err != nil {
		return store.Task{}, asDomainError(err)
	}
	return task, nil
}

func (s *Service) GetTask(ctx context.Context, p principal.Principal, taskID string) (store.Task, error) {
	return s.getTask(ctx, p, taskID)
}

// CreateTaskInput carries the caller-settable fields of a new task.
type CreateTaskInput struct {
	WorkbasketID      string
	ClassificationKey string
	Name              string
	Note              string
	Custom            [8]string
}

// CreateTask builds a READY task in the given workbasket. The caller
// needs APPEND on the target basket, and the classification key must
// exist in the basket's domain.
func (s *Service) CreateTask(ctx context.Context, p principal.Principal, input CreateTaskInput) (store.Task, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.Task{}, invalidArgument("name must not be blank")
	}
	if strings.TrimSpace(input.WorkbasketID) == "" {
		return store.Task{}, invalidArgument("workbasketId must not be blank")
	}
	if strings.TrimSpace(input.ClassificationKey) == "" {
		return store.Task{}, invalidArgument("classificationKey must not be blank")
	}

	if err := s.access.CheckAccess(ctx, p, access.PermAppend, input.WorkbasketID); err != nil {
		return store.Task{}, asDomainError(err)
	}
	basket, err := s.store.GetWorkbasket(ctx, input.WorkbasketID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, notFound("workbasket", input.WorkbasketID)
	}
	if err != nil {
		return store.Task{}, err
	}
	if _, err := s.store.GetClassificationByKeyDomain(ctx, input.ClassificationKey, basket.Domain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, notFound("classification", input.ClassificationKey)
		}
		return store.Task{}, err
	}

	now := s.now()
	task := store.Task{
		ID:                util.NewID(util.IDPrefixTask),
		WorkbasketID:      basket.ID,
		ClassificationKey: input.ClassificationKey,
		Name:              input.Name,
		Note:              input.Note,
		State:             store.TaskReady,
		Created:           now,
		Modified:          now,
		Version:           1,
		Custom:            input.Custom,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	metrics.TaskTransitions.WithLabelValues("create", "ok").Inc()
	if s.search != nil {
		s.search.IndexTask(search.TaskRecord{
			ID:           task.ID,
			Name:         task.Name,
			Note:         task.Note,
			WorkbasketID: task.WorkbasketID,
			State:        string(task.State),
		})
	}
	return task, nil
}

// Claim transitions READY → CLAIMED for the calling principal. Claiming
// a task already claimed by the caller is a no-op success; claiming one
// held by someone else requires force.
func (s *Service) Claim(ctx context.Context, p principal.Principal, taskID string, force bool) (store.Task, error) {
	task, err := s.claim(ctx, p, taskID, force)
	metrics.TaskTransitions.WithLabelValues("claim", metrics.Outcome(err)).Inc()
	return task, err
}

func (s *Service) claim(ctx context.Context, p principal.Principal, taskID string, force bool) (store.Task, error) {
	task, err := s.getTask(ctx, p, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if task.State.Terminal() {
		return store.Task{}, invalidState(task.ID, task.State)
	}
	if task.State == store.TaskClaimed {
		if task.Owner == p.UserID {
			return task, nil
		}
		if !force {
			return store.Task{}, invalidOwner(task.ID, task.Owner)
		}
	}

	now := s.now()
	task.State = store.TaskClaimed
	task.Owner = p.UserID
	task.Claimed = &now
	task.Modified = now
	task.Read = true

	return s.writeTask(ctx, task)
}

// CancelClaim reverses CLAIMED → READY, clearing owner and claim time.
// Only the owner may cancel without force.
func (s *Service) CancelClaim(ctx context.Context, p principal.Principal, taskID string, force bool) (store.Task, error) {
	task, err := s.cancelClaim(ctx, p, taskID, force)
	metrics.TaskTransitions.WithLabelValues("cancel_claim", metrics.Outcome(err)).Inc()
	return task, err
}

func (s *Service) cancelClaim(ctx context.Context, p principal.Principal, taskID string, force bool) (store.Task, error) {
	task, err := s.getTask(ctx, p, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if task.State.Terminal() {
		return store.Task{}, invalidState(task.ID, task.State)
	}
	if task.State != store.TaskClaimed {
		return task, nil
	}
	if task.Owner != p.UserID && !force {
		return store.Task{}, invalidOwner(task.ID, task.Owner)
	}

	task.State = store.TaskReady
	task.Owner = ""
	task.Claimed = nil
	task.Modified = s.now()

	return s.writeTask(ctx, task)
}

// Complete transitions CLAIMED → COMPLETED for the owner. With force a
// READY task is auto-claimed and completed in one step, and a claim held
// by another owner is overridden.
func (s *Service) Complete(ctx context.Context, p principal.Principal, taskID string, force bool) (store.Task, error) {
	task, err := s.complete(ctx, p, taskID, force)
	metrics.TaskTransitions.WithLabelValues("complete", metrics.Outcome(err)).Inc()
	return task, err
}

func (s *Service) complete(ctx context.Context, p principal.Principal, taskID string, force bool) (store.Task, error) {
	task, err := s.getTask(ctx, p, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if task.State.Terminal() {
		return store.Task{}, invalidState(task.ID, task.State)
	}
	if task.State == store.TaskReady && !force {
		return store.Task{}, invalidState(task.ID, task.State)
	}
	if task.State == store.TaskClaimed && task.Owner != p.UserID && !force {
		return store.Task{}, invalidOwner(task.ID, task.Owner)
	}

	now := s.now()
	if task.State == store.TaskReady || task.Owner != p.UserID {
		// Auto-claim on behalf of the caller.
		task.Owner = p.UserID
		task.Claimed = &now
	}
	task.State = store.TaskCompleted
	task.Completed = &now
	task.Modified = now
	task.Read = true

	return s.writeTask(ctx, task)
}

// Cancel terminates a non-terminal task without completing it.
func (s *Service) Cancel(ctx context.Context, p principal.Principal, taskID string, force bool) (store.Task, error) {
	task, err := s.cancel(ctx, p, taskID, force)
	metrics.TaskTransitions.WithLabelValues("cancel", metrics.Outcome(err)).Inc()
	return task, err
}

func (s *Service) cancel(ctx context.Context, p principal.Principal, taskID string, force bool) (store.Task, error) {
	task, err := s.getTask(ctx, p, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if task.State.Terminal() {
		return store.Task{}, invalidState(task.ID, task.State)
	}
	if task.State == store.TaskClaimed && task.Owner != p.UserID && !force {
		return store.Task{}, invalidOwner(task.ID, task.Owner)
	}

	task.State = store.TaskCancelled
	task.Owner = ""
	task.Claimed = nil
	task.Modified = s.now()

	return s.writeTask(ctx, task)
}

// Delete removes a task. Without force only terminal tasks may be
// deleted.
func (s *Service) Delete(ctx context.Context, p principal.Principal, taskID string, force bool) error {
	err := s.delete(ctx, p, taskID, force)
	metrics.TaskTransitions.WithLabelValues("delete", metrics.Outcome(err)).Inc()
	return err
}

func (s *Service) delete(ctx context.Context, p principal.Principal, taskID string, force bool) error {
	task, err := s.getTask(ctx, p, taskID)
	if err != nil {
		return err
	}
	if !task.State.Terminal() && !force {
		return invalidState(task.ID, task.State)
	}

	deleted, err := s.store.DeleteTaskIfVersion(ctx, task.ID, task.Version)
	if err != nil {
		return err
	}
	if !deleted {
		metrics.ConcurrencyConflicts.Inc()
		return concurrencyConflict(task.ID)
	}
	if s.search != nil {
		s.search.DeleteTask(task.ID)
	}
	return nil
}

// SetTaskRead flips the read flag without touching the lifecycle state.
func (s *Service) SetTaskRead(ctx context.Context, p principal.Principal, taskID string, read bool) (store.Task, error) {
	task, err := s.getTask(ctx, p, taskID)
	if err != nil {
		return store.Task{}, err
	}
	task.Read = read
	task.Modified = s.now()
	return s.writeTask(ctx, task)
}

// writeTask performs the version-conditioned write and returns the task
// as persisted. A lost race surfaces as a Concurrency error; the engine
// never retries on the caller's behalf.
func (s *Service) writeTask(ctx context.Context, task store.Task) (store.Task, error) {
	updated, err := s.store.UpdateTaskIfVersion(ctx, task)
	if err != nil {
		return store.Task{}, err
	}
	if !updated {
		metrics.ConcurrencyConflicts.Inc()
		return store.Task{}, concurrencyConflict(task.ID)
	}
	task.Version++
	if s.search != nil {
		s.search.IndexTask(search.TaskRecord{
			ID:           task.ID,
			Name:         task.Name,
			Note:         task.Note,
			WorkbasketID: task.WorkbasketID,
			State:        string(task.State),
			Owner:        task.Owner,
		})
	}
	return task, nil
}

// GetWorkbasket reads one workbasket, gate-checked for READ.
func (s *Service) GetWorkbasket(ctx context.Context, p principal.Principal, workbasketID string) (store.Workbasket, error) {
	if err := s.access.CheckAccess(ctx, p, access.PermRead, workbasketID); err != nil {
		return store.Workbasket{}, asDomainError(err)
	}
	basket, err := s.store.GetWorkbasket(ctx, workbasketID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Workbasket{}, notFound("workbasket", workbasketID)
	}
	if err != nil {
		return store.Workbasket{}, err
	}
	return basket, nil
}

// ListAccessibleWorkbaskets returns the workbaskets the principal holds
// the given permission on.
func (s *Service) ListAccessibleWorkbaskets(ctx context.Context, p principal.Principal, perm access.Permission) ([]store.Workbasket, error) {
	ids, err := s.access.AccessibleWorkbaskets(ctx, p, perm)
	if err != nil {
		return nil, err
	}
	return s.store.ListWorkbasketsByIDs(ctx, ids)
}

func (s *Service) GetClassification(ctx context.Context, classificationID string) (store.Classification, error) {
	item, err := s.store.GetClassification(ctx, classificationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Classification{}, notFound("classification", classificationID)
	}
	if err != nil {
		return store.Classification{}, err
	}
	return item, nil
}

// SearchTasks runs the full-text search and narrows the hits to the
// caller's READ-authorized workbaskets.
func (s *Service) SearchTasks(ctx context.Context, p principal.Principal, text string, limit int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	allowed, err := s.access.AccessibleWorkbaskets(ctx, p, access.PermRead)
	if err != nil {
		return search.Response{}, err
	}
	return s.search.Search(search.Query{Text: text, Limit: limit, AllowedWorkbaskets: allowed}), nil
}

// Ping verifies the storage adapter is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
