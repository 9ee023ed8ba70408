package app

import (
	"fmt"
	"net/http"

	"taskbench/api/internal/store"
)

type DomainError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(kind, id string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s %s not found", kind, id), nil)
}

func invalidState(taskID string, state store.TaskState) *DomainError {
	return domainError(http.StatusConflict, "INVALID_STATE",
		fmt.Sprintf("task %s is in state %s", taskID, state), nil)
}

func invalidOwner(taskID, owner string) *DomainError {
	return domainError(http.StatusConflict, "INVALID_OWNER",
		fmt.Sprintf("task %s is claimed by %s", taskID, owner), nil)
}

func notAuthorized(workbasketID string) *DomainError {
	return domainError(http.StatusForbidden, "NOT_AUTHORIZED",
		fmt.Sprintf("not authorized on workbasket %s", workbasketID), nil)
}

func notAuthorizedToQuery(target string) *DomainError {
	return domainError(http.StatusForbidden, "NOT_AUTHORIZED_TO_QUERY_WORKBASKET",
		fmt.Sprintf("not authorized to query workbasket %s", target), nil)
}

func concurrencyConflict(taskID string) *DomainError {
	return domainError(http.StatusConflict, "CONCURRENCY",
		fmt.Sprintf("task %s was modified concurrently, re-read and retry", taskID), nil)
}

func invalidArgument(message string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_ARGUMENT", message, nil)
}
