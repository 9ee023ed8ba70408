// Package access decides which workbaskets a principal may act on. It is
// consulted in two modes: scope mode narrows a query to the authorized
// basket set (failing atomically when an explicitly requested target is
// unauthorized), and gate mode checks a single basket before a mutation.
package access

import "fmt"

type Permission string

const (
	PermOpen       Permission = "OPEN"
	PermRead       Permission = "READ"
	PermAppend     Permission = "APPEND"
	PermTransfer   Permission = "TRANSFER"
	PermDistribute Permission = "DISTRIBUTE"
)

// CustomPermission returns the nth custom permission, 1-based.
func CustomPermission(n int) (Permission, error) {
	if n < 1 || n > 8 {
		return "", fmt.Errorf("custom permission index %d out of range", n)
	}
	return Permission(fmt.Sprintf("CUSTOM_%d", n)), nil
}

func ValidPermission(p string) bool {
	switch Permission(p) {
	case PermOpen, PermRead, PermAppend, PermTransfer, PermDistribute:
		return true
	}
	for n := 1; n <= 8; n++ {
		if custom, _ := CustomPermission(n); Permission(p) == custom {
			return true
		}
	}
	return false
}
