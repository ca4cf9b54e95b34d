package domain

import (
	"testing"
)

func TestStateStatusIsValid(t *testing.T) {
	tests := []struct {
		name     string
		value    StateStatus
		expected bool
	}{
		{"Pending", StatePending, true},
		{"Active", StateActive, true},
		{"Hold", StateHold, true},
		{"Complete", StateComplete, true},
		{"Failed", StateFailed, true},
		{"Cancelled", StateCancelled, true},
		{"Legacy completed", StateStatus("completed"), false},
		{"Empty", StateStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.IsValid(); got != tt.expected {
				t.Errorf("IsValid(%q) = %v, expected %v", tt.value, got, tt.expected)
			}
		})
	}
}

func TestTaskStatusIsValid(t *testing.T) {
	for _, s := range AllStateStatuses() {
		if !TaskStatus(s).IsValid() {
			t.Errorf("Expected task status %q to be valid", s)
		}
	}
	if TaskStatus("done").IsValid() {
		t.Error("Expected task status \"done\" to be invalid")
	}
}

func TestOutcomeTypeIsValid(t *testing.T) {
	valid := []OutcomeType{
		OutcomeDate, OutcomeText, OutcomeLocation, OutcomeString,
		OutcomeBoolean, OutcomePassFailProceed, OutcomePassFailOncopanel,
	}
	for _, o := range valid {
		if !o.IsValid() {
			t.Errorf("Expected outcome type %q to be valid", o)
		}
	}
	if OutcomeType("number").IsValid() {
		t.Error("Expected outcome type \"number\" to be invalid")
	}
}

func TestHookActionIsValid(t *testing.T) {
	if !HookActionEmail.IsValid() || !HookActionWebhook.IsValid() {
		t.Error("Expected email and webhook actions to be valid")
	}
	if HookAction("sms").IsValid() {
		t.Error("Expected sms action to be invalid")
	}
}

func TestValidTaskSlug(t *testing.T) {
	tests := []struct {
		slug     string
		expected bool
	}{
		{"sequencing", true},
		{"tumour_content-2", true},
		{"", true},
		{"bad slug!", false},
		{"a/b", false},
	}

	for _, tt := range tests {
		if got := ValidTaskSlug(tt.slug); got != tt.expected {
			t.Errorf("ValidTaskSlug(%q) = %v, expected %v", tt.slug, got, tt.expected)
		}
	}
}

func TestValidDefinitionSlug(t *testing.T) {
	tests := []struct {
		slug     string
		expected bool
	}{
		{"sequencing", true},
		{"ab", false},
		{"this-slug-is-far-too-long", false},
		{"bio apps", false},
	}

	for _, tt := range tests {
		if got := ValidDefinitionSlug(tt.slug); got != tt.expected {
			t.Errorf("ValidDefinitionSlug(%q) = %v, expected %v", tt.slug, got, tt.expected)
		}
	}
}

func TestIsEntryState(t *testing.T) {
	if !(&StateDefinition{Ordinal: 1}).IsEntryState() {
		t.Error("Expected ordinal 1 to be the entry state")
	}
	if (&StateDefinition{Ordinal: 2}).IsEntryState() {
		t.Error("Expected ordinal 2 not to be the entry state")
	}
}
