// Package principal carries the identity of the acting caller through a
// single engine operation: the user id plus the group ids resolved by the
// external authentication collaborator. The engine never mutates it and
// never stores it between calls.
package principal

import "sort"

type Principal struct {
	UserID   string
	GroupIDs []string
}

// AccessIDs returns the user id plus all group ids, deduplicated and
// sorted. Access-control entries match against any of these.
func (p Principal) AccessIDs() []string {
	seen := map[string]struct{}{p.UserID: {}}
	ids := []string{p.UserID}
	for _, group := range p.GroupIDs {
		if group == "" {
			continue
		}
		if _, ok := seen[group]; ok {
			continue
		}
		seen[group] = struct{}{}
		ids = append(ids, group)
	}
	sort.Strings(ids)
	return ids
}
