package domain

import (
	"context"
	"time"
)

// DefinitionFilter narrows a state definition listing
type DefinitionFilter struct {
	Slugs         []string
	IncludeHidden bool
}

// HookFilter selects hooks by their trigger tuple. A non-nil TaskName, even an
// empty one, matches task level hooks only.
type HookFilter struct {
	StateName   string
	Status      string
	TaskName    *string // nil selects state level hooks
	EnabledOnly bool
}

// DefinitionRepository persists state definitions
type DefinitionRepository interface {
	GetBySlug(ctx context.Context, slug string) (*StateDefinition, error)
	List(ctx context.Context, filter DefinitionFilter) ([]*StateDefinition, error)
	Create(ctx context.Context, def *StateDefinition) error
	Update(ctx context.Context, def *StateDefinition) error
	Delete(ctx context.Context, slug string) error
}

// StateRepository persists tracking states
type StateRepository interface {
	Get(ctx context.Context, ident string) (*State, error)
	GetByID(ctx context.Context, id int64) (*State, error)
	FindLive(ctx context.Context, analysisID int64, slug string) (*State, error)
	ListByAnalysis(ctx context.Context, analysisID int64) ([]*State, error)
	Create(ctx context.Context, state *State) error
	Update(ctx context.Context, state *State) error
	Delete(ctx context.Context, ident string) error
}

// TaskRepository persists tasks
type TaskRepository interface {
	Get(ctx context.Context, ident string) (*Task, error)
	GetByID(ctx context.Context, id int64) (*Task, error)
	FindBySlug(ctx context.Context, stateID int64, slug string) (*Task, error)
	ListByState(ctx context.Context, stateID int64) ([]*Task, error)
	Create(ctx context.Context, task *Task) error
	Update(ctx context.Context, task *Task) error
	AssignAll(ctx context.Context, stateID int64, userID *int64) error
	Delete(ctx context.Context, ident string) error
}

// CheckinRepository persists check-ins. Deletes are hard deletes.
type CheckinRepository interface {
	Create(ctx context.Context, checkin *Checkin) error
	ListByTask(ctx context.Context, taskID int64) ([]*Checkin, error)
	CountByTask(ctx context.Context, taskID int64) (int, error)
	Update(ctx context.Context, checkin *Checkin) error
	Delete(ctx context.Context, id int64) error
	DeleteByTask(ctx context.Context, taskID int64) error
}

// HookRepository persists hooks
type HookRepository interface {
	Find(ctx context.Context, filter HookFilter) ([]*Hook, error)
	Get(ctx context.Context, ident string) (*Hook, error)
	List(ctx context.Context) ([]*Hook, error)
	Create(ctx context.Context, hook *Hook) error
	Update(ctx context.Context, hook *Hook) error
	Delete(ctx context.Context, ident string) error
}

// UserRepository looks up users
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByIdent(ctx context.Context, ident string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, user *User) error
}

// GroupRepository looks up groups
type GroupRepository interface {
	GetByID(ctx context.Context, id int64) (*Group, error)
	GetByIdent(ctx context.Context, ident string) (*Group, error)
	Create(ctx context.Context, group *Group) error
}

// AnalysisRepository looks up analyses and their patients
type AnalysisRepository interface {
	GetByID(ctx context.Context, id int64) (*Analysis, error)
	GetByIdent(ctx context.Context, ident string) (*Analysis, error)
	Find(ctx context.Context, patientID, analysisName string) (*Analysis, error)
	Create(ctx context.Context, analysis *Analysis) error
	CreatePatient(ctx context.Context, patient *Patient) error
}

// Store is the entity store consumed by the tracking workflow
type Store interface {
	Definitions() DefinitionRepository
	States() StateRepository
	Tasks() TaskRepository
	Checkins() CheckinRepository
	Hooks() HookRepository
	Users() UserRepository
	Groups() GroupRepository
	Analyses() AnalysisRepository
	Close() error
}

// Mailer delivers rendered notifications
type Mailer interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}

// EventPublisher pushes status change events to live subscribers
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Recorder receives workflow measurements
type Recorder interface {
	CheckinRecorded(outcomeType string)
	TaskTransition(status string)
	StateTransition(status string)
	HookInvoked(action string, err error)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ConfigManager handles application configuration
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Validate() error
	IsProduction() bool
}
