package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"

	"taskbench/api/internal/principal"
	"taskbench/api/internal/store"
)

// NotAuthorizedError reports a failed gate-mode check on one workbasket.
type NotAuthorizedError struct {
	WorkbasketID string
	Permission   Permission
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("not authorized for %s on workbasket %s", e.Permission, e.WorkbasketID)
}

// NotAuthorizedToQueryError reports an unauthorized target inside an
// explicit query target list; the whole query is rejected, never
// silently narrowed.
type NotAuthorizedToQueryError struct {
	Target string
}

func (e *NotAuthorizedToQueryError) Error() string {
	return fmt.Sprintf("not authorized to query workbasket %s", e.Target)
}

type accessStore interface {
	ListAccessItemsByAccessIDs(ctx context.Context, accessIDs []string) ([]store.WorkbasketAccessItem, error)
	GetWorkbasketByKeyDomain(ctx context.Context, key, domain string) (store.Workbasket, error)
}

// Resolver computes the set of workbaskets a principal holds a given
// permission on. A nil cache means every resolution reads the store.
type Resolver struct {
	store accessStore
	cache *ScopeCache
}

func NewResolver(accessStore accessStore, cache *ScopeCache) *Resolver {
	return &Resolver{store: accessStore, cache: cache}
}

// AccessibleWorkbaskets returns the sorted ids of every workbasket on
// which the principal (by user id or any group id) holds the permission.
func (r *Resolver) AccessibleWorkbaskets(ctx context.Context, p principal.Principal, perm Permission) ([]string, error) {
	cacheKey := scopeKey(p, perm)
	if r.cache != nil {
		ids, ok, err := r.cache.Get(ctx, cacheKey)
		if err != nil {
			log.Printf("access: scope cache read: %v", err)
		} else if ok {
			return ids, nil
		}
	}

	items, err := r.store.ListAccessItemsByAccessIDs(ctx, p.AccessIDs())
	if err != nil {
		return nil, fmt.Errorf("resolve accessible workbaskets: %w", err)
	}

	seen := make(map[string]struct{})
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if !hasPermission(item, perm) {
			continue
		}
		if _, ok := seen[item.WorkbasketID]; ok {
			continue
		}
		seen[item.WorkbasketID] = struct{}{}
		ids = append(ids, item.WorkbasketID)
	}
	sort.Strings(ids)

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey, ids); err != nil {
			log.Printf("access: scope cache write: %v", err)
		}
	}
	return ids, nil
}

// CheckAccess is the gate-mode check: the single workbasket must be in
// the principal's authorized set for the permission.
func (r *Resolver) CheckAccess(ctx context.Context, p principal.Principal, perm Permission, workbasketID string) error {
	ids, err := r.AccessibleWorkbaskets(ctx, p, perm)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == workbasketID {
			return nil
		}
	}
	return &NotAuthorizedError{WorkbasketID: workbasketID, Permission: perm}
}

// CheckScope is the scope-mode check. With no explicit targets it returns
// the principal's whole authorized set. With explicit workbasket ids or
// (key, domain) pairs it verifies every single target is authorized and
// returns the resolved target ids; one unauthorized or unknown target
// fails the whole request.
func (r *Resolver) CheckScope(ctx context.Context, p principal.Principal, perm Permission, workbasketIDs []string, keyDomains []store.KeyDomain) ([]string, error) {
	accessible, err := r.AccessibleWorkbaskets(ctx, p, perm)
	if err != nil {
		return nil, err
	}

	if len(workbasketIDs) == 0 && len(keyDomains) == 0 {
		return accessible, nil
	}

	allowed := make(map[string]struct{}, len(accessible))
	for _, id := range accessible {
		allowed[id] = struct{}{}
	}

	seen := make(map[string]struct{})
	scope := make([]string, 0, len(workbasketIDs)+len(keyDomains))
	add := func(id, target string) error {
		if _, ok := allowed[id]; !ok {
			return &NotAuthorizedToQueryError{Target: target}
		}
		if _, ok := seen[id]; ok {
			return nil
		}
		seen[id] = struct{}{}
		scope = append(scope, id)
		return nil
	}

	for _, id := range workbasketIDs {
		if err := add(id, id); err != nil {
			return nil, err
		}
	}
	for _, kd := range keyDomains {
		target := kd.Key + "|" + kd.Domain
		basket, err := r.store.GetWorkbasketByKeyDomain(ctx, kd.Key, kd.Domain)
		if errors.Is(err, sql.ErrNoRows) {
			// An unknown pair reads the same as an unauthorized one, so
			// the caller cannot probe for basket existence.
			return nil, &NotAuthorizedToQueryError{Target: target}
		}
		if err != nil {
			return nil, fmt.Errorf("resolve workbasket %s: %w", target, err)
		}
		if err := add(basket.ID, target); err != nil {
			return nil, err
		}
	}
	return scope, nil
}

func hasPermission(item store.WorkbasketAccessItem, perm Permission) bool {
	for _, granted := range item.Permissions {
		if Permission(granted) == perm {
			return true
		}
	}
	return false
}
