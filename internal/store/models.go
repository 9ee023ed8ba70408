package store

import "time"

type TaskState string

const (
	TaskReady     TaskState = "READY"
	TaskClaimed   TaskState = "CLAIMED"
	TaskCompleted TaskState = "COMPLETED"
	TaskCancelled TaskState = "CANCELLED"
)

// Terminal reports whether no transition leaves the state.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

func ValidTaskState(s string) bool {
	switch TaskState(s) {
	case TaskReady, TaskClaimed, TaskCompleted, TaskCancelled:
		return true
	default:
		return false
	}
}

type Task struct {
	ID                string
	WorkbasketID      string
	ClassificationKey string
	Name              string
	Note              string
	Owner             string
	State             TaskState
	Read              bool
	Created           time.Time
	Claimed           *time.Time
	Completed         *time.Time
	Modified          time.Time
	Version           int64
	Custom            [8]string
}

// TaskSummary is the read model returned by task queries.
type TaskSummary struct {
	ID                string
	Name              string
	WorkbasketID      string
	WorkbasketKey     string
	Domain            string
	ClassificationKey string
	Owner             string
	State             TaskState
	Created           time.Time
	Modified          time.Time
}

type Workbasket struct {
	ID       string
	Key      string
	Domain   string
	Name     string
	Owner    string
	Created  time.Time
	Modified time.Time
}

// WorkbasketAccessItem grants a holder (user or group id) a set of
// permissions on one workbasket.
type WorkbasketAccessItem struct {
	ID           string
	WorkbasketID string
	AccessID     string
	Permissions  []string
}

type Classification struct {
	ID       string
	Key      string
	Domain   string
	Category string
	Type     string
	Name     string
	Created  time.Time
	Modified time.Time
	Custom   [8]string
}

type ClassificationSummary struct {
	ID       string
	Key      string
	Domain   string
	Category string
	Type     string
	Name     string
}

// KeyDomain is the human-meaningful composite workbasket identifier used
// in query filters, distinct from the opaque primary id.
type KeyDomain struct {
	Key    string
	Domain string
}
