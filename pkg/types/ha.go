package types

import (
	"time"

	"github.com/google/uuid"
)

// WorkType is the kind of recovery action an HA work item performs
type WorkType string

const (
	WorkMigration WorkType = "migration"
	WorkStop      WorkType = "stop"
	WorkCheckStop WorkType = "check_stop"
	WorkForceStop WorkType = "force_stop"
	WorkDestroy   WorkType = "destroy"
	WorkHA        WorkType = "ha" // restart
)

// Step is the position of a work item in the recovery state machine
type Step string

const (
	StepScheduled     Step = "scheduled"
	StepInvestigating Step = "investigating"
	StepFencing       Step = "fencing"
	StepStopping      Step = "stopping"
	StepRestarting    Step = "restarting"
	StepMigrating     Step = "migrating"
	StepCancelled     Step = "cancelled"
	StepDone          Step = "done"
	StepError         Step = "error"
)

// IsTerminal reports whether no further transitions are possible
func (s Step) IsTerminal() bool {
	return s == StepDone || s == StepCancelled || s == StepError
}

// HAWorkItem is a durable record of an in-progress recovery action for one workload
type HAWorkItem struct {
	ID               string    `json:"id"`
	WorkloadID       string    `json:"workload_id"`
	HostID           string    `json:"host_id"`
	Type             WorkType  `json:"type"`
	Step             Step      `json:"step"`
	InvestigateFirst bool      `json:"investigate_first"`
	TimesTried       int       `json:"times_tried"`
	TimeToTry        time.Time `json:"time_to_try"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ReservationToken string    `json:"reservation_token,omitempty"`
	// ExcludedHosts carries hosts that already failed during this episode
	ExcludedHosts []string `json:"excluded_hosts,omitempty"`
	LastError     string   `json:"last_error,omitempty"`
}

// NewHAWorkItem creates a scheduled work item
func NewHAWorkItem(workloadID, hostID string, workType WorkType, investigateFirst bool) *HAWorkItem {
	now := time.Now()
	return &HAWorkItem{
		ID:               uuid.New().String(),
		WorkloadID:       workloadID,
		HostID:           hostID,
		Type:             workType,
		Step:             StepScheduled,
		InvestigateFirst: investigateFirst,
		TimeToTry:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
