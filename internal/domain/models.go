package domain

import (
	"time"
)

// NextStateTarget names a state to create or activate and the status it should take
type NextStateTarget struct {
	Slug   string      `json:"slug" yaml:"slug"`
	Status StateStatus `json:"status" yaml:"status"`
}

// NextStateMap maps a state status to the ordered successor targets it triggers
type NextStateMap map[StateStatus][]NextStateTarget

// TaskDefinition is the template for one task of a state definition
type TaskDefinition struct {
	Name           string      `json:"name" yaml:"name"`
	Slug           string      `json:"slug" yaml:"slug"`
	Description    string      `json:"description,omitempty" yaml:"description,omitempty"`
	OutcomeType    OutcomeType `json:"outcomeType,omitempty" yaml:"outcomeType,omitempty"`
	CheckInsTarget int         `json:"checkInsTarget" yaml:"checkInsTarget"`
}

// StateDefinition is a reusable template describing a processing stage
type StateDefinition struct {
	ID                int64            `json:"-"`
	Ident             string           `json:"ident"`
	Name              string           `json:"name"`
	Slug              string           `json:"slug"`
	Ordinal           int              `json:"ordinal"`
	Description       string           `json:"description,omitempty"`
	GroupID           *int64           `json:"-"`
	Group             *Group           `json:"group,omitempty"`
	Hidden            bool             `json:"hidden"`
	Tasks             []TaskDefinition `json:"tasks"`
	NextStateOnStatus NextStateMap     `json:"next_state_on_status"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// IsEntryState reports whether states built from this definition start active.
// Definitions with ordinal 1 are the entry point of a tracking workflow.
func (d *StateDefinition) IsEntryState() bool {
	return d.Ordinal == 1
}

// State is one instantiated processing stage for one analysis
type State struct {
	ID           int64       `json:"-"`
	Ident        string      `json:"ident"`
	AnalysisID   int64       `json:"-"`
	Name         string      `json:"name"`
	Slug         string      `json:"slug"`
	Description  string      `json:"description,omitempty"`
	Ordinal      int         `json:"ordinal"`
	Status       StateStatus `json:"status"`
	StartedAt    *time.Time  `json:"startedAt"`
	CompletedAt  *time.Time  `json:"completedAt"`
	AssignedToID *int64      `json:"-"`
	CreatedByID  *int64      `json:"-"`
	Jira         string      `json:"jira,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Task is one unit of work belonging to a state
type Task struct {
	ID             int64       `json:"-"`
	Ident          string      `json:"ident"`
	StateID        int64       `json:"-"`
	Name           string      `json:"name"`
	Slug           string      `json:"slug"`
	Description    string      `json:"description,omitempty"`
	Ordinal        int         `json:"ordinal"`
	Status         TaskStatus  `json:"status"`
	OutcomeType    OutcomeType `json:"outcomeType,omitempty"`
	CheckInsTarget int         `json:"checkInsTarget"`
	AssignedToID   *int64      `json:"-"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Outcome is the payload recorded by a check-in, keyed by target identifier
type Outcome map[string]interface{}

// Checkin is one completion event for a task
type Checkin struct {
	ID        int64     `json:"-"`
	Ident     string    `json:"ident"`
	TaskID    int64     `json:"-"`
	UserID    int64     `json:"-"`
	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"createdAt"`
}

// HookPayload holds the subject and body templates of a hook
type HookPayload struct {
	Subject string `json:"subject" yaml:"subject"`
	Body    string `json:"body" yaml:"body"`
}

// Hook binds a (state, status, task) trigger to an action
type Hook struct {
	ID        int64       `json:"-"`
	Ident     string      `json:"ident"`
	Name      string      `json:"name"`
	StateName string      `json:"state_name"`
	Status    string      `json:"status"`
	TaskName  *string     `json:"task_name"`
	Enabled   bool        `json:"enabled"`
	Action    HookAction  `json:"action"`
	Target    string      `json:"target"`
	Payload   HookPayload `json:"payload"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// User is an account that can be assigned work and check in tasks
type User struct {
	ID        int64  `json:"-"`
	Ident     string `json:"ident"`
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Group owns state definitions
type Group struct {
	ID    int64  `json:"-"`
	Ident string `json:"ident"`
	Name  string `json:"name"`
}

// Patient is the subject of one or more analyses
type Patient struct {
	ID                  int64  `json:"-"`
	Ident               string `json:"ident"`
	PatientID           string `json:"patientId"`
	AlternateIdentifier string `json:"alternateIdentifier,omitempty"`
}

// Analysis is one biopsy analysis of a patient; tracking states hang off it
type Analysis struct {
	ID             int64     `json:"-"`
	Ident          string    `json:"ident"`
	PatientID      int64     `json:"-"`
	Patient        *Patient  `json:"patient,omitempty"`
	Name           string    `json:"name"`
	ClinicalBiopsy string    `json:"clinical_biopsy,omitempty"`
	Disease        string    `json:"disease,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CheckinPublic is a check-in enriched with its user and task
type CheckinPublic struct {
	Checkin
	User *User `json:"user,omitempty"`
	Task *Task `json:"task,omitempty"`
}

// TaskPublic is a task with its parent state, assignee and check-ins
type TaskPublic struct {
	Task
	State      *State          `json:"state,omitempty"`
	AssignedTo *User           `json:"assignedTo"`
	Checkins   []CheckinPublic `json:"checkins"`
}

// StatePublic is a state with its analysis, assignee and ordered tasks
type StatePublic struct {
	State
	Analysis   *Analysis    `json:"analysis,omitempty"`
	AssignedTo *User        `json:"assignedTo"`
	Tasks      []TaskPublic `json:"tasks"`
}

// Event is a status change notification pushed to live subscribers
type Event struct {
	Type      string    `json:"type"`
	State     *State    `json:"state,omitempty"`
	Task      *Task     `json:"task,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Event types
const (
	EventTaskStatusChange  = "taskStatusChange"
	EventStateStatusChange = "stateStatusChange"
)

// Message is an outbound notification
type Message struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// DeliveryResult reports what the notification transport did with a message
type DeliveryResult struct {
	ID        string    `json:"id"`
	Accepted  bool      `json:"accepted"`
	Transport string    `json:"transport"`
	SentAt    time.Time `json:"sent_at"`
}
