package access

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"taskbench/api/internal/principal"
	"taskbench/api/internal/store"
)

type fakeAccessStore struct {
	items   []store.WorkbasketAccessItem
	baskets map[store.KeyDomain]store.Workbasket
	calls   int
}

func (f *fakeAccessStore) ListAccessItemsByAccessIDs(_ context.Context, accessIDs []string) ([]store.WorkbasketAccessItem, error) {
	f.calls++
	matched := make([]store.WorkbasketAccessItem, 0)
	for _, item := range f.items {
		for _, id := range accessIDs {
			if item.AccessID == id {
				matched = append(matched, item)
				break
			}
		}
	}
	return matched, nil
}

func (f *fakeAccessStore) GetWorkbasketByKeyDomain(_ context.Context, key, domain string) (store.Workbasket, error) {
	basket, ok := f.baskets[store.KeyDomain{Key: key, Domain: domain}]
	if !ok {
		return store.Workbasket{}, sql.ErrNoRows
	}
	return basket, nil
}

func testStore() *fakeAccessStore {
	return &fakeAccessStore{
		items: []store.WorkbasketAccessItem{
			{ID: "WAI:1", WorkbasketID: "WBI:1", AccessID: "user_1_1", Permissions: []string{"OPEN", "READ"}},
			{ID: "WAI:2", WorkbasketID: "WBI:2", AccessID: "group_1", Permissions: []string{"OPEN"}},
			{ID: "WAI:3", WorkbasketID: "WBI:2", AccessID: "user_1_1", Permissions: []string{"READ"}},
			{ID: "WAI:4", WorkbasketID: "WBI:3", AccessID: "user_2_1", Permissions: []string{"OPEN", "READ"}},
		},
		baskets: map[store.KeyDomain]store.Workbasket{
			{Key: "USER_1_1", Domain: "DOMAIN_A"}: {ID: "WBI:1", Key: "USER_1_1", Domain: "DOMAIN_A"},
			{Key: "GPK_KSC", Domain: "DOMAIN_A"}:  {ID: "WBI:2", Key: "GPK_KSC", Domain: "DOMAIN_A"},
			{Key: "USER_2_1", Domain: "DOMAIN_A"}: {ID: "WBI:3", Key: "USER_2_1", Domain: "DOMAIN_A"},
		},
	}
}

func TestAccessibleWorkbasketsUnionsUserAndGroups(t *testing.T) {
	resolver := NewResolver(testStore(), nil)
	p := principal.Principal{UserID: "user_1_1", GroupIDs: []string{"group_1"}}

	ids, err := resolver.AccessibleWorkbaskets(context.Background(), p, PermOpen)
	if err != nil {
		t.Fatalf("AccessibleWorkbaskets() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "WBI:1" || ids[1] != "WBI:2" {
		t.Fatalf("AccessibleWorkbaskets() = %v, want [WBI:1 WBI:2]", ids)
	}
}

func TestAccessibleWorkbasketsFiltersByPermission(t *testing.T) {
	resolver := NewResolver(testStore(), nil)
	p := principal.Principal{UserID: "user_1_1"}

	ids, err := resolver.AccessibleWorkbaskets(context.Background(), p, PermOpen)
	if err != nil {
		t.Fatalf("AccessibleWorkbaskets() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "WBI:1" {
		t.Fatalf("AccessibleWorkbaskets() = %v, want [WBI:1]", ids)
	}
}

func TestCheckAccessGateMode(t *testing.T) {
	resolver := NewResolver(testStore(), nil)
	p := principal.Principal{UserID: "user_1_1", GroupIDs: []string{"group_1"}}

	if err := resolver.CheckAccess(context.Background(), p, PermRead, "WBI:1"); err != nil {
		t.Fatalf("CheckAccess() error = %v", err)
	}

	err := resolver.CheckAccess(context.Background(), p, PermRead, "WBI:3")
	var notAuthorized *NotAuthorizedError
	if !errors.As(err, &notAuthorized) {
		t.Fatalf("CheckAccess() error = %v, want NotAuthorizedError", err)
	}
	if notAuthorized.WorkbasketID != "WBI:3" {
		t.Fatalf("unexpected workbasket in error: %v", notAuthorized)
	}
}

func TestCheckScopeWithoutTargetsReturnsWholeAuthorizedSet(t *testing.T) {
	resolver := NewResolver(testStore(), nil)
	p := principal.Principal{UserID: "user_1_1", GroupIDs: []string{"group_1"}}

	scope, err := resolver.CheckScope(context.Background(), p, PermOpen, nil, nil)
	if err != nil {
		t.Fatalf("CheckScope() error = %v", err)
	}
	if len(scope) != 2 {
		t.Fatalf("CheckScope() = %v, want 2 baskets", scope)
	}
}

func TestCheckScopeFailsWhenAnyTargetUnauthorized(t *testing.T) {
	resolver := NewResolver(testStore(), nil)
	p := principal.Principal{UserID: "user_1_1", GroupIDs: []string{"group_1"}}

	// One authorized target plus one unauthorized rejects the whole request.
	_, err := resolver.CheckScope(context.Background(), p, PermOpen, nil, []store.KeyDomain{
		{Key: "USER_1_1", Domain: "DOMAIN_A"},
		{Key: "USER_2_1", Domain: "DOMAIN_A"},
	})
	var notAuthorized *NotAuthorizedToQueryError
	if !errors.As(err, &notAuthorized) {
		t.Fatalf("CheckScope() error = %v, want NotAuthorizedToQueryError", err)
	}
}

func TestCheckScopeByKeyDomainMatchesIDScope(t *testing.T) {
	resolver := NewResolver(testStore(), nil)
	p := principal.Principal{UserID: "user_1_1", GroupIDs: []string{"group_1"}}

	byKey, err := resolver.CheckScope(context.Background(), p, PermOpen, nil, []store.KeyDomain{
		{Key: "USER_1_1", Domain: "DOMAIN_A"},
		{Key: "GPK_KSC", Domain: "DOMAIN_A"},
	})
	if err != nil {
		t.Fatalf("CheckScope() by key error = %v", err)
	}

	byID, err := resolver.CheckScope(context.Background(), p, PermOpen, []string{"WBI:1", "WBI:2"}, nil)
	if err != nil {
		t.Fatalf("CheckScope() by id error = %v", err)
	}

	if len(byKey) != len(byID) {
		t.Fatalf("scope mismatch: byKey=%v byID=%v", byKey, byID)
	}
	for i := range byKey {
		if byKey[i] != byID[i] {
			t.Fatalf("scope mismatch: byKey=%v byID=%v", byKey, byID)
		}
	}
}

func TestCheckScopeRejectsUnknownKeyDomain(t *testing.T) {
	resolver := NewResolver(testStore(), nil)
	p := principal.Principal{UserID: "user_1_1"}

	_, err := resolver.CheckScope(context.Background(), p, PermOpen, nil, []store.KeyDomain{
		{Key: "NOPE", Domain: "DOMAIN_A"},
	})
	var notAuthorized *NotAuthorizedToQueryError
	if !errors.As(err, &notAuthorized) {
		t.Fatalf("CheckScope() error = %v, want NotAuthorizedToQueryError", err)
	}
}
