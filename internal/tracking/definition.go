package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// DefinitionPatch carries the editable fields of a state definition
type DefinitionPatch struct {
	Name              *string              `json:"name,omitempty"`
	Ordinal           *int                 `json:"ordinal,omitempty"`
	Description       *string              `json:"description,omitempty"`
	Hidden            *bool                `json:"hidden,omitempty"`
	NextStateOnStatus *domain.NextStateMap `json:"next_state_on_status,omitempty"`
}

// DefinitionRegistry validates and looks up state definitions
type DefinitionRegistry struct {
	e *Engine
}

// taskValidator checks task definitions of one batch; slugs must be unique
// within the batch
type taskValidator struct {
	seen map[string]bool
}

func newTaskValidator() *taskValidator {
	return &taskValidator{seen: make(map[string]bool)}
}

func (v *taskValidator) validate(task domain.TaskDefinition) error {
	if !domain.ValidTaskSlug(task.Slug) {
		return domain.NewError(domain.KindInvalidTaskDefinition, "task slug %q may only contain letters, digits, - and _", task.Slug)
	}
	if v.seen[task.Slug] {
		return domain.NewError(domain.KindInvalidTaskDefinition, "task slug %q is not unique", task.Slug)
	}
	if task.OutcomeType != "" && !task.OutcomeType.IsValid() {
		return domain.NewError(domain.KindInvalidTaskDefinition, "task %q has invalid outcome type %q", task.Slug, task.OutcomeType)
	}
	if task.CheckInsTarget < 0 {
		return domain.NewError(domain.KindInvalidTaskDefinition, "task %q has a negative check-in target", task.Slug)
	}
	v.seen[task.Slug] = true
	return nil
}

// ValidateTasks validates a batch of task definitions in order and fails on
// the first invalid one
func ValidateTasks(tasks []domain.TaskDefinition) error {
	v := newTaskValidator()
	for _, t := range tasks {
		if err := v.validate(t); err != nil {
			return err
		}
	}
	return nil
}

func validateNextStates(next domain.NextStateMap) error {
	for status, targets := range next {
		if !status.IsValid() {
			return domain.NewError(domain.KindInvalidStateDefinition, "next_state_on_status key %q is not a valid status", status)
		}
		for _, t := range targets {
			if t.Slug == "" {
				return domain.NewError(domain.KindInvalidStateDefinition, "next state for %q is missing a slug", status)
			}
			if t.Status != "" && !t.Status.IsValid() {
				return domain.NewError(domain.KindInvalidStateDefinition, "next state %q has invalid status %q", t.Slug, t.Status)
			}
		}
	}
	return nil
}

// Get returns the definition with the given slug
func (r *DefinitionRegistry) Get(ctx context.Context, slug string) (*domain.StateDefinition, error) {
	def, err := r.e.store.Definitions().GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("loading definition %s: %w", slug, err)
	}
	return def, nil
}

// List returns definitions ordered by ordinal
func (r *DefinitionRegistry) List(ctx context.Context, includeHidden bool) ([]*domain.StateDefinition, error) {
	defs, err := r.e.store.Definitions().List(ctx, domain.DefinitionFilter{IncludeHidden: includeHidden})
	if err != nil {
		return nil, fmt.Errorf("listing definitions: %w", err)
	}
	return defs, nil
}

// Create validates and stores a new definition
func (r *DefinitionRegistry) Create(ctx context.Context, def *domain.StateDefinition) (*domain.StateDefinition, error) {
	if !domain.ValidDefinitionSlug(def.Slug) {
		return nil, domain.NewError(domain.KindInvalidStateDefinition, "definition slug %q must be 3-20 letters, digits, - or _", def.Slug)
	}
	if def.Name == "" {
		return nil, domain.NewError(domain.KindInvalidStateDefinition, "definition %q requires a name", def.Slug)
	}
	if err := ValidateTasks(def.Tasks); err != nil {
		return nil, err
	}
	if err := validateNextStates(def.NextStateOnStatus); err != nil {
		return nil, err
	}

	created := *def
	if created.Ident == "" {
		created.Ident = uuid.New().String()
	}
	if created.Tasks == nil {
		created.Tasks = []domain.TaskDefinition{}
	}
	if created.NextStateOnStatus == nil {
		created.NextStateOnStatus = domain.NextStateMap{}
	}
	now := r.e.now()
	created.CreatedAt, created.UpdatedAt = now, now

	if err := r.e.store.Definitions().Create(ctx, &created); err != nil {
		return nil, fmt.Errorf("creating definition %s: %w", def.Slug, err)
	}
	r.e.log.WithFields(logrus.Fields{
		"slug":  created.Slug,
		"tasks": len(created.Tasks),
	}).Info("State definition created")
	return &created, nil
}

// Update applies a patch to a definition
func (r *DefinitionRegistry) Update(ctx context.Context, def *domain.StateDefinition, patch DefinitionPatch) (*domain.StateDefinition, error) {
	next := *def
	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.Ordinal != nil {
		next.Ordinal = *patch.Ordinal
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Hidden != nil {
		next.Hidden = *patch.Hidden
	}
	if patch.NextStateOnStatus != nil {
		if err := validateNextStates(*patch.NextStateOnStatus); err != nil {
			return nil, err
		}
		next.NextStateOnStatus = *patch.NextStateOnStatus
	}
	if err := r.persist(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// UpdateTasks validates every task in order and replaces the definition's
// task list. The definition is persisted only when save is set.
func (r *DefinitionRegistry) UpdateTasks(ctx context.Context, def *domain.StateDefinition, tasks []domain.TaskDefinition, save bool) (*domain.StateDefinition, error) {
	if err := ValidateTasks(tasks); err != nil {
		return nil, err
	}

	next := *def
	next.Tasks = append([]domain.TaskDefinition(nil), tasks...)
	if !save {
		return &next, nil
	}
	if err := r.persist(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// UpdateGroup moves the definition to the group with the given ident
func (r *DefinitionRegistry) UpdateGroup(ctx context.Context, def *domain.StateDefinition, groupIdent string) (*domain.StateDefinition, error) {
	if def.Group != nil && def.Group.Ident == groupIdent {
		return def, nil
	}

	group, err := r.e.store.Groups().GetByIdent(ctx, groupIdent)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.KindGroupNotFound, "unable to find the specified group %q", groupIdent)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up group %q: %w", groupIdent, err)
	}
	if def.GroupID != nil && *def.GroupID == group.ID {
		return def, nil
	}

	next := *def
	next.GroupID = &group.ID
	next.Group = group
	if err := r.persist(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Delete soft-deletes a definition
func (r *DefinitionRegistry) Delete(ctx context.Context, slug string) error {
	if err := r.e.store.Definitions().Delete(ctx, slug); err != nil {
		return fmt.Errorf("deleting definition %s: %w", slug, err)
	}
	return nil
}

func (r *DefinitionRegistry) persist(ctx context.Context, def *domain.StateDefinition) error {
	def.UpdatedAt = r.e.now()
	if err := r.e.store.Definitions().Update(ctx, def); err != nil {
		r.e.log.WithFields(logrus.Fields{
			"slug":  def.Slug,
			"error": err,
		}).Error("Failed to update state definition")
		return fmt.Errorf("updating definition %s: %w", def.Slug, err)
	}
	return nil
}
