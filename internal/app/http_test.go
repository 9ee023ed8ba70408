package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskbench/api/internal/access"
	"taskbench/api/internal/principal"
	"taskbench/api/internal/store"
)

const testSecret = "test-secret"

func testToken(t *testing.T, userID string, groups ...string) string {
	t.Helper()
	token, err := principal.IssueToken([]byte(testSecret), principal.Claims{
		Sub:    userID,
		Groups: groups,
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func newTestServer(fs *fakeStore, fr *fakeResolver) *HTTPServer {
	svc := newTestService(fs, fr)
	return NewHTTPServer(svc, testSecret, "*")
}

func doRequest(t *testing.T, server *HTTPServer, method, target, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeResolver{})

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestMissingBearerTokenRejected(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeResolver{})

	rr := doRequest(t, server, http.MethodGet, "/api/tasks", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeResolver{})
	token := testToken(t, "user_1_1") + "x"

	rr := doRequest(t, server, http.MethodGet, "/api/tasks", token, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestQueryTasksTranslatesParams(t *testing.T) {
	var gotQuery store.TaskQuery
	fs := &fakeStore{
		queryTaskSummariesFn: func(_ context.Context, q store.TaskQuery) ([]store.TaskSummary, int, error) {
			gotQuery = q
			return []store.TaskSummary{}, 0, nil
		},
	}
	server := newTestServer(fs, &fakeResolver{})
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodGet,
		"/api/tasks?workbasket-id=WBI:1&state=READY,CLAIMED&name-like=invoice&sort-by=name&order=desc&page=2&page-size=5",
		token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(gotQuery.States) != 2 {
		t.Errorf("expected two states, got %v", gotQuery.States)
	}
	if gotQuery.NameLike != "%invoice%" {
		t.Errorf("expected wrapped name-like, got %q", gotQuery.NameLike)
	}
	if gotQuery.SortBy != "name" || !gotQuery.SortDesc {
		t.Errorf("expected sort name desc, got %q desc=%v", gotQuery.SortBy, gotQuery.SortDesc)
	}
	if gotQuery.Offset != 5 || gotQuery.Limit != 5 {
		t.Errorf("expected offset 5 limit 5, got %d/%d", gotQuery.Offset, gotQuery.Limit)
	}
}

func TestQueryTasksUnknownOrderRejected(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeResolver{})
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodGet, "/api/tasks?order=sideways", token, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["error"] != "unknown order 'sideways'" {
		t.Errorf("unexpected message: %v", response["error"])
	}
}

func TestWorkbasketKeyRequiresDomain(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeResolver{})
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodGet, "/api/tasks?workbasket-key=GPK_KSC", token, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestClaimEndpointMapsErrors(t *testing.T) {
	server := newTestServer(taskStoreFor(claimedTask("user_2_2")), &fakeResolver{})
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodPost, "/api/tasks/TKI:0001/claim", token, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["code"] != "INVALID_OWNER" {
		t.Errorf("expected code INVALID_OWNER, got %v", response["code"])
	}
}

func TestForceClaimEndpoint(t *testing.T) {
	server := newTestServer(taskStoreFor(claimedTask("user_2_2")), &fakeResolver{})
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodPost, "/api/tasks/TKI:0001/claim?force=true", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUnknownTaskReturns404(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeResolver{})
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodGet, "/api/tasks/TKI:nope", token, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestBulkClaimEndpoint(t *testing.T) {
	server := newTestServer(taskStoreFor(readyTask()), &fakeResolver{})
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodPost, "/api/tasks/claim", token,
		`{"taskIds":["TKI:0001","TKI:gone"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result BulkResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(result.Items) != 2 || result.Failed != 1 {
		t.Errorf("expected 2 items with 1 failure, got %d items / %d failed", len(result.Items), result.Failed)
	}
	if result.Items[1].Err == nil || result.Items[1].Err.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND for the missing task, got %v", result.Items[1].Err)
	}
}

func TestBulkEmptyListReturns400(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeResolver{})
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodPost, "/api/tasks/delete", token, `{"taskIds":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestCreateTaskEndpoint(t *testing.T) {
	fs := &fakeStore{
		getWorkbasketFn: func(_ context.Context, id string) (store.Workbasket, error) {
			return store.Workbasket{ID: id, Key: "USER_1_1", Domain: "DOMAIN_A"}, nil
		},
		getClassByKeyDomainFn: func(_ context.Context, key, domain string) (store.Classification, error) {
			return store.Classification{ID: "CLI:1", Key: key, Domain: domain}, nil
		},
	}
	server := newTestServer(fs, &fakeResolver{})
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodPost, "/api/tasks", token,
		`{"workbasketId":"WBI:1","classificationKey":"L10000","name":"review contract"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestClassificationQueryEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeResolver{})
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodGet, "/api/classifications?sort-by=category&order=desc", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodGet, "/api/classifications?sort-by=created", token, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown classification sort field should be rejected, got %d", rr.Code)
	}
}

func TestDeleteEndpointNotAuthorized(t *testing.T) {
	fr := &fakeResolver{
		checkAccessFn: func(_ context.Context, _ principal.Principal, _ access.Permission, workbasketID string) error {
			return &access.NotAuthorizedError{WorkbasketID: workbasketID, Permission: access.PermRead}
		},
	}
	server := newTestServer(taskStoreFor(readyTask()), fr)
	token := testToken(t, "user_1_1")

	rr := doRequest(t, server, http.MethodDelete, "/api/tasks/TKI:0001", token, "")
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}
