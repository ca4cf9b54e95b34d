package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/report-tracking-server/internal/domain"
)

// HookPatch carries the editable fields of a hook
type HookPatch struct {
	Name      *string             `json:"name,omitempty"`
	StateName *string             `json:"state_name,omitempty"`
	Status    *string             `json:"status,omitempty"`
	TaskName  *string             `json:"task_name,omitempty"`
	Enabled   *bool               `json:"enabled,omitempty"`
	Action    *domain.HookAction  `json:"action,omitempty"`
	Target    *string             `json:"target,omitempty"`
	Payload   *domain.HookPayload `json:"payload,omitempty"`
}

// HookDispatcher matches hooks against state and task transitions and runs
// their actions. Delivery is at least once: a batch that fails part way does
// not undo actions that already ran.
type HookDispatcher struct {
	e        *Engine
	renderer *Renderer
	client   *http.Client
}

// webhookBody is the JSON document posted by webhook hooks
type webhookBody struct {
	Hook     string           `json:"hook"`
	Status   string           `json:"status"`
	Subject  string           `json:"subject"`
	Body     string           `json:"body"`
	State    *domain.State    `json:"state"`
	Task     *domain.Task     `json:"task,omitempty"`
	Analysis *domain.Analysis `json:"analysis,omitempty"`
}

// Check returns the hooks registered for the exact (state, status, task)
// tuple. A nil taskSlug matches state level hooks only.
func (d *HookDispatcher) Check(ctx context.Context, stateSlug, status string, taskSlug *string, enabledOnly bool) ([]*domain.Hook, error) {
	hooks, err := d.e.store.Hooks().Find(ctx, domain.HookFilter{
		StateName:   stateSlug,
		Status:      status,
		TaskName:    taskSlug,
		EnabledOnly: enabledOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("finding hooks for %s/%s: %w", stateSlug, status, err)
	}
	return hooks, nil
}

// Invoke runs the hook's action for state and, for task level hooks, task.
// Unknown actions are ignored.
func (d *HookDispatcher) Invoke(ctx context.Context, hook *domain.Hook, state *domain.State, task *domain.Task) error {
	var err error
	switch hook.Action {
	case domain.HookActionEmail:
		err = d.sendEmail(ctx, hook, state, task)
	case domain.HookActionWebhook:
		err = d.postWebhook(ctx, hook, state, task)
	default:
		d.e.log.WithFields(logrus.Fields{
			"hook":   hook.Ident,
			"action": hook.Action,
		}).Warn("Ignoring hook with unknown action")
		return nil
	}

	d.e.recorder.HookInvoked(string(hook.Action), err)
	if err != nil {
		d.e.log.WithFields(logrus.Fields{
			"hook":   hook.Ident,
			"action": hook.Action,
			"target": hook.Target,
			"error":  err,
		}).Error("Failed to invoke hook")
		return fmt.Errorf("invoking hook %s: %w", hook.Name, err)
	}
	return nil
}

// CheckAndInvoke invokes every hook matching the transition concurrently and
// returns the first failure once all invocations have finished
func (d *HookDispatcher) CheckAndInvoke(ctx context.Context, state *domain.State, status string, task *domain.Task, enabledOnly bool) error {
	var taskSlug *string
	if task != nil {
		taskSlug = &task.Slug
	}
	hooks, err := d.Check(ctx, state.Slug, status, taskSlug, enabledOnly)
	if err != nil {
		return err
	}
	if len(hooks) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, hook := range hooks {
		g.Go(func() error {
			return d.Invoke(ctx, hook, state, task)
		})
	}
	return g.Wait()
}

func (d *HookDispatcher) render(ctx context.Context, hook *domain.Hook, state *domain.State, task *domain.Task) (string, string, *domain.Analysis, error) {
	analysis, err := d.e.store.Analyses().GetByID(ctx, state.AnalysisID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", "", nil, fmt.Errorf("loading analysis for hook: %w", err)
	}

	entities := map[string]interface{}{"state": state}
	if task != nil {
		entities["task"] = task
	}
	if analysis != nil {
		entities["analysis"] = analysis
		if analysis.Patient != nil {
			entities["patient"] = analysis.Patient
		}
	}
	data, err := renderData(entities)
	if err != nil {
		return "", "", nil, err
	}

	subject, err := d.renderer.Render(hook.Payload.Subject, data)
	if err != nil {
		return "", "", nil, err
	}
	body, err := d.renderer.Render(hook.Payload.Body, data)
	if err != nil {
		return "", "", nil, err
	}
	return subject, body, analysis, nil
}

func (d *HookDispatcher) sendEmail(ctx context.Context, hook *domain.Hook, state *domain.State, task *domain.Task) error {
	subject, body, _, err := d.render(ctx, hook, state, task)
	if err != nil {
		return err
	}
	result, err := d.e.mailer.Send(ctx, domain.Message{
		Recipient: hook.Target,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return err
	}
	d.e.log.WithFields(logrus.Fields{
		"hook":      hook.Ident,
		"recipient": hook.Target,
		"message":   result.ID,
	}).Info("Hook email sent")
	return nil
}

func (d *HookDispatcher) postWebhook(ctx context.Context, hook *domain.Hook, state *domain.State, task *domain.Task) error {
	subject, body, analysis, err := d.render(ctx, hook, state, task)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(webhookBody{
		Hook:     hook.Ident,
		Status:   hook.Status,
		Subject:  subject,
		Body:     body,
		State:    state,
		Task:     task,
		Analysis: analysis,
	})
	if err != nil {
		return fmt.Errorf("encoding webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.Target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tracking-Hook", hook.Ident)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s responded with status %d", hook.Target, resp.StatusCode)
	}
	return nil
}

// List returns every hook
func (d *HookDispatcher) List(ctx context.Context) ([]*domain.Hook, error) {
	hooks, err := d.e.store.Hooks().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing hooks: %w", err)
	}
	return hooks, nil
}

// Get returns the hook with the given ident
func (d *HookDispatcher) Get(ctx context.Context, ident string) (*domain.Hook, error) {
	hook, err := d.e.store.Hooks().Get(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("loading hook %s: %w", ident, err)
	}
	return hook, nil
}

// Create validates and stores a new hook
func (d *HookDispatcher) Create(ctx context.Context, hook *domain.Hook) (*domain.Hook, error) {
	if err := validateHook(hook); err != nil {
		return nil, err
	}
	created := *hook
	created.Ident = uuid.New().String()
	now := d.e.now()
	created.CreatedAt, created.UpdatedAt = now, now

	if err := d.e.store.Hooks().Create(ctx, &created); err != nil {
		return nil, fmt.Errorf("creating hook %s: %w", hook.Name, err)
	}
	d.e.log.WithFields(logrus.Fields{
		"hook":   created.Ident,
		"state":  created.StateName,
		"status": created.Status,
		"action": created.Action,
	}).Info("Hook created")
	return &created, nil
}

// Update applies a patch to hook and stores it
func (d *HookDispatcher) Update(ctx context.Context, hook *domain.Hook, patch HookPatch) (*domain.Hook, error) {
	next := *hook
	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.StateName != nil {
		next.StateName = *patch.StateName
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.TaskName != nil {
		if *patch.TaskName == "" {
			next.TaskName = nil
		} else {
			name := *patch.TaskName
			next.TaskName = &name
		}
	}
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	if patch.Action != nil {
		next.Action = *patch.Action
	}
	if patch.Target != nil {
		next.Target = *patch.Target
	}
	if patch.Payload != nil {
		next.Payload = *patch.Payload
	}
	if err := validateHook(&next); err != nil {
		return nil, err
	}

	next.UpdatedAt = d.e.now()
	if err := d.e.store.Hooks().Update(ctx, &next); err != nil {
		return nil, fmt.Errorf("updating hook %s: %w", hook.Ident, err)
	}
	return &next, nil
}

// Delete soft-deletes a hook
func (d *HookDispatcher) Delete(ctx context.Context, ident string) error {
	if err := d.e.store.Hooks().Delete(ctx, ident); err != nil {
		return fmt.Errorf("deleting hook %s: %w", ident, err)
	}
	return nil
}

func validateHook(hook *domain.Hook) error {
	if hook.Name == "" {
		return domain.NewError(domain.KindInvalidHook, "hook requires a name")
	}
	if hook.StateName == "" {
		return domain.NewError(domain.KindInvalidHook, "hook %q requires a state_name", hook.Name)
	}
	if !domain.StateStatus(hook.Status).IsValid() && !domain.TaskStatus(hook.Status).IsValid() {
		return domain.NewError(domain.KindInvalidHook, "hook %q has invalid status %q", hook.Name, hook.Status)
	}
	if !hook.Action.IsValid() {
		return domain.NewError(domain.KindInvalidHook, "hook %q has invalid action %q", hook.Name, hook.Action)
	}
	if hook.Target == "" {
		return domain.NewError(domain.KindInvalidHook, "hook %q requires a target", hook.Name)
	}
	if hook.Action == domain.HookActionWebhook {
		u, err := url.Parse(hook.Target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return domain.NewError(domain.KindInvalidHook, "hook %q target %q is not an http(s) URL", hook.Name, hook.Target)
		}
	}
	if hook.Action == domain.HookActionEmail && (hook.Payload.Subject == "" || hook.Payload.Body == "") {
		return domain.NewError(domain.KindInvalidHook, "email hook %q requires a payload subject and body", hook.Name)
	}
	return nil
}
