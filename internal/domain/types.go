package domain

import (
	"errors"
	"regexp"
)

// StateStatus represents the lifecycle status of a tracking state
type StateStatus string

const (
	StatePending   StateStatus = "pending"
	StateActive    StateStatus = "active"
	StateHold      StateStatus = "hold"
	StateComplete  StateStatus = "complete"
	StateFailed    StateStatus = "failed"
	StateCancelled StateStatus = "cancelled"
)

// TaskStatus represents the lifecycle status of a task within a state
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskHold      TaskStatus = "hold"
	TaskComplete  TaskStatus = "complete"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// HookAction is the side effect a hook performs when it fires
type HookAction string

const (
	HookActionEmail   HookAction = "email"
	HookActionWebhook HookAction = "webhook"
)

// OutcomeType describes the kind of value a task check-in records
type OutcomeType string

const (
	OutcomeDate              OutcomeType = "date"
	OutcomeText              OutcomeType = "text"
	OutcomeLocation          OutcomeType = "location"
	OutcomeString            OutcomeType = "string"
	OutcomeBoolean           OutcomeType = "boolean"
	OutcomePassFailProceed   OutcomeType = "pass/fail/proceed"
	OutcomePassFailOncopanel OutcomeType = "pass/fail/oncopanel"
)

// Common sentinel errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

var (
	taskSlugPattern       = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)
	definitionSlugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)
)

// AllStateStatuses lists every state status in lifecycle order
func AllStateStatuses() []StateStatus {
	return []StateStatus{StatePending, StateActive, StateHold, StateComplete, StateFailed, StateCancelled}
}

// IsValid reports whether s is one of the known state statuses
func (s StateStatus) IsValid() bool {
	switch s {
	case StatePending, StateActive, StateHold, StateComplete, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status
func (s StateStatus) String() string {
	return string(s)
}

// IsValid reports whether s is one of the known task statuses
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskActive, TaskHold, TaskComplete, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status
func (s TaskStatus) String() string {
	return string(s)
}

// IsValid reports whether a is a hook action the dispatcher knows how to run
func (a HookAction) IsValid() bool {
	switch a {
	case HookActionEmail, HookActionWebhook:
		return true
	default:
		return false
	}
}

// IsValid reports whether o is one of the allowed outcome types
func (o OutcomeType) IsValid() bool {
	switch o {
	case OutcomeDate, OutcomeText, OutcomeLocation, OutcomeString, OutcomeBoolean,
		OutcomePassFailProceed, OutcomePassFailOncopanel:
		return true
	default:
		return false
	}
}

// ValidTaskSlug reports whether slug only uses URL-safe characters.
// The empty string is accepted.
func ValidTaskSlug(slug string) bool {
	return taskSlugPattern.MatchString(slug)
}

// ValidDefinitionSlug reports whether slug is a well formed state definition slug
func ValidDefinitionSlug(slug string) bool {
	return definitionSlugPattern.MatchString(slug)
}
