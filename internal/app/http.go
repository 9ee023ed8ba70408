package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskbench/api/internal/access"
	"taskbench/api/internal/principal"
	"taskbench/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	secret     string
	corsOrigin string
}

func NewHTTPServer(service *Service, secret, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, secret: secret, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tasks" {
		s.handleQueryTasks(w, r, p)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/tasks" {
		var body struct {
			WorkbasketID      string    `json:"workbasketId"`
			ClassificationKey string    `json:"classificationKey"`
			Name              string    `json:"name"`
			Note              string    `json:"note"`
			Custom            [8]string `json:"custom"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.CreateTask(r.Context(), p, CreateTaskInput{
			WorkbasketID:      body.WorkbasketID,
			ClassificationKey: body.ClassificationKey,
			Name:              body.Name,
			Note:              body.Note,
			Custom:            body.Custom,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"task": task})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/classifications" {
		s.handleQueryClassifications(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/workbaskets" {
		perm := access.PermOpen
		if raw := strings.TrimSpace(r.URL.Query().Get("required-permission")); raw != "" {
			if !access.ValidPermission(raw) {
				writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("unknown permission '%s'", raw), nil)
				return
			}
			perm = access.Permission(raw)
		}
		items, err := s.service.ListAccessibleWorkbaskets(r.Context(), p, perm)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workbaskets": items})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		payload, err := s.service.SearchTasks(r.Context(), p, q, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	// Bulk operations come before the {id} routes: "claim" is an action
	// here, not a task id.
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "tasks" && r.Method == http.MethodPost {
		switch parts[2] {
		case "claim", "complete", "delete":
			s.handleBulk(w, r, p, parts[2])
			return
		}
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "tasks" {
		taskID := parts[2]
		switch r.Method {
		case http.MethodGet:
			task, err := s.service.GetTask(r.Context(), p, taskID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"task": task})
			return
		case http.MethodDelete:
			if err := s.service.Delete(r.Context(), p, taskID, forceParam(r)); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "tasks" {
		s.handleTaskAction(w, r, p, parts[2], parts[3])
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "classifications" && r.Method == http.MethodGet {
		item, err := s.service.GetClassification(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"classification": item})
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "workbaskets" && r.Method == http.MethodGet {
		basket, err := s.service.GetWorkbasket(r.Context(), p, parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workbasket": basket})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTaskAction(w http.ResponseWriter, r *http.Request, p principal.Principal, taskID, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	force := forceParam(r)

	var task store.Task
	var err error
	switch action {
	case "claim":
		task, err = s.service.Claim(r.Context(), p, taskID, force)
	case "cancel-claim":
		task, err = s.service.CancelClaim(r.Context(), p, taskID, force)
	case "complete":
		task, err = s.service.Complete(r.Context(), p, taskID, force)
	case "cancel":
		task, err = s.service.Cancel(r.Context(), p, taskID, force)
	case "read":
		var body struct {
			Read bool `json:"read"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err = s.service.SetTaskRead(r.Context(), p, taskID, body.Read)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *HTTPServer) handleBulk(w http.ResponseWriter, r *http.Request, p principal.Principal, action string) {
	var body struct {
		TaskIDs []string `json:"taskIds"`
		Force   bool     `json:"force"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var result BulkResult
	var err error
	switch action {
	case "claim":
		result, err = s.service.ClaimAll(r.Context(), p, body.TaskIDs, body.Force)
	case "complete":
		result, err = s.service.CompleteAll(r.Context(), p, body.TaskIDs, body.Force)
	case "delete":
		result, err = s.service.DeleteAll(r.Context(), p, body.TaskIDs, body.Force)
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleQueryTasks(w http.ResponseWriter, r *http.Request, p principal.Principal) {
	params := r.URL.Query()

	input := TaskQueryInput{Filters: map[string]Filter{}}
	input.WorkbasketIDs = splitValues(params["workbasket-id"])

	keys := splitValues(params["workbasket-key"])
	domain := strings.TrimSpace(params.Get("domain"))
	if len(keys) > 0 && domain == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "domain is required when workbasket-key is given", nil)
		return
	}
	for _, key := range keys {
		input.KeyDomains = append(input.KeyDomains, store.KeyDomain{Key: key, Domain: domain})
	}

	for _, name := range []string{"state", "owner", "classification-key", "name"} {
		if values := params[name]; len(values) > 0 {
			input.Filters[name] = InFilter(values...)
		}
	}
	likeNames := []string{"name-like"}
	for i := 1; i <= 8; i++ {
		likeNames = append(likeNames, fmt.Sprintf("custom-%d-like", i))
	}
	for _, name := range likeNames {
		if value := strings.TrimSpace(params.Get(name)); value != "" {
			input.Filters[name] = LikeFilter(value)
		}
	}
	createdFrom := strings.TrimSpace(params.Get("created-from"))
	createdTo := strings.TrimSpace(params.Get("created-to"))
	if createdFrom != "" || createdTo != "" {
		input.Filters["created"] = RangeFilter(createdFrom, createdTo)
	}

	var ok bool
	input.SortBy, input.SortDesc, ok = sortParams(w, params.Get("sort-by"), params.Get("order"))
	if !ok {
		return
	}
	input.Page, input.PageSize, ok = pageParams(w, params.Get("page"), params.Get("page-size"))
	if !ok {
		return
	}

	result, err := s.service.QueryTasks(r.Context(), p, input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":    result.Items,
		"total":    result.Total,
		"page":     result.Page,
		"pageSize": result.PageSize,
	})
}

func (s *HTTPServer) handleQueryClassifications(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	input := ClassificationQueryInput{Filters: map[string]Filter{}}
	for _, name := range []string{"key", "domain", "category", "type", "name"} {
		if values := params[name]; len(values) > 0 {
			input.Filters[name] = InFilter(values...)
		}
	}
	likeNames := []string{"name-like"}
	for i := 1; i <= 8; i++ {
		likeNames = append(likeNames, fmt.Sprintf("custom-%d-like", i))
	}
	for _, name := range likeNames {
		if value := strings.TrimSpace(params.Get(name)); value != "" {
			input.Filters[name] = LikeFilter(value)
		}
	}

	var ok bool
	input.SortBy, input.SortDesc, ok = sortParams(w, params.Get("sort-by"), params.Get("order"))
	if !ok {
		return
	}
	input.Page, input.PageSize, ok = pageParams(w, params.Get("page"), params.Get("page-size"))
	if !ok {
		return
	}

	result, err := s.service.QueryClassifications(r.Context(), input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"classifications": result.Items,
		"total":           result.Total,
		"page":            result.Page,
		"pageSize":        result.PageSize,
	})
}

func sortParams(w http.ResponseWriter, sortBy, order string) (string, bool, bool) {
	desc := false
	switch strings.TrimSpace(order) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("unknown order '%s'", order), nil)
		return "", false, false
	}
	return strings.TrimSpace(sortBy), desc, true
}

func pageParams(w http.ResponseWriter, page, pageSize string) (int, int, bool) {
	parse := func(name, raw string) (int, bool) {
		if strings.TrimSpace(raw) == "" {
			return 0, true
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("%s must be an integer", name), nil)
			return 0, false
		}
		return n, true
	}
	p, ok := parse("page", page)
	if !ok {
		return 0, 0, false
	}
	size, ok := parse("page-size", pageSize)
	if !ok {
		return 0, 0, false
	}
	return p, size, true
}

// splitValues flattens repeated query params and comma-separated lists.
func splitValues(raw []string) []string {
	var values []string
	for _, part := range raw {
		for _, value := range strings.Split(part, ",") {
			value = strings.TrimSpace(value)
			if value != "" {
				values = append(values, value)
			}
		}
	}
	return values
}

func forceParam(r *http.Request) bool {
	return r.URL.Query().Get("force") == "true"
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (principal.Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return principal.Principal{}, false
	}
	p, err := principal.FromToken([]byte(s.secret), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return principal.Principal{}, false
	}
	return p, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if resolved := asDomainError(err); resolved != nil {
		return resolved.Status, resolved.Code, resolved.Message, resolved.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
