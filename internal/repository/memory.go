package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/report-tracking-server/internal/domain"
)

// MemoryStore is a process local Store. Every read returns a copy so callers
// can never mutate stored records in place.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64

	definitions map[string]*domain.StateDefinition
	states      map[int64]*domain.State
	tasks       map[int64]*domain.Task
	checkins    map[int64]*domain.Checkin
	hooks       map[int64]*domain.Hook
	users       map[int64]*domain.User
	groups      map[int64]*domain.Group
	analyses    map[int64]*domain.Analysis
	patients    map[int64]*domain.Patient
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]*domain.StateDefinition),
		states:      make(map[int64]*domain.State),
		tasks:       make(map[int64]*domain.Task),
		checkins:    make(map[int64]*domain.Checkin),
		hooks:       make(map[int64]*domain.Hook),
		users:       make(map[int64]*domain.User),
		groups:      make(map[int64]*domain.Group),
		analyses:    make(map[int64]*domain.Analysis),
		patients:    make(map[int64]*domain.Patient),
	}
}

func (s *MemoryStore) Definitions() domain.DefinitionRepository { return memDefinitions{s} }
func (s *MemoryStore) States() domain.StateRepository { return memStates{s} }
func (s *MemoryStore) Tasks() domain.TaskRepository { return memTasks{s} }
func (s *MemoryStore) Checkins() domain.CheckinRepository { return memCheckins{s} }
func (s *MemoryStore) Hooks() domain.HookRepository { return memHooks{s} }
func (s *MemoryStore) Users() domain.UserRepository { return memUsers{s} }
func (s *MemoryStore) Groups() domain.GroupRepository { return memGroups{s} }
func (s *MemoryStore) Analyses() domain.AnalysisRepository { return memAnalyses{s} }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func notFound(entity, key interface{}) error {
	return fmt.Errorf("%v %v not found: %w", entity, key, domain.ErrNotFound)
}

func copyDefinition(d *domain.StateDefinition) *domain.StateDefinition {
	c := *d
	c.Tasks = append([]domain.TaskDefinition(nil), d.Tasks...)
	if d.NextStateOnStatus != nil {
		c.NextStateOnStatus = make(domain.NextStateMap, len(d.NextStateOnStatus))
		for k, v := range d.NextStateOnStatus {
			c.NextStateOnStatus[k] = append([]domain.NextStateTarget(nil), v...)
		}
	}
	if d.Group != nil {
		g := *d.Group
		c.Group = &g
	}
	return &c
}

func copyOutcome(o domain.Outcome) domain.Outcome {
	if o == nil {
		return nil
	}
	c := make(domain.Outcome, len(o))
	for k, v := range o {
		c[k] = copyValue(v)
	}
	return c
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		c := make(map[string]interface{}, len(val))
		for k, item := range val {
			c[k] = copyValue(item)
		}
		return c
	case []interface{}:
		c := make([]interface{}, len(val))
		for i, item := range val {
			c[i] = copyValue(item)
		}
		return c
	default:
		return v
	}
}

type memDefinitions struct{ s *MemoryStore }

func (r memDefinitions) GetBySlug(_ context.Context, slug string) (*domain.StateDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.definitions[slug]
	if !ok {
		return nil, notFound("definition", slug)
	}
	return r.withGroup(d), nil
}

func (r memDefinitions) withGroup(d *domain.StateDefinition) *domain.StateDefinition {
	c := copyDefinition(d)
	if c.GroupID != nil {
		if g, ok := r.s.groups[*c.GroupID]; ok {
			gc := *g
			c.Group = &gc
		}
	}
	return c
}

func (r memDefinitions) List(_ context.Context, filter domain.DefinitionFilter) ([]*domain.StateDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	want := make(map[string]bool, len(filter.Slugs))
	for _, slug := range filter.Slugs {
		want[slug] = true
	}
	var out []*domain.StateDefinition
	for _, d := range r.s.definitions {
		if d.Hidden && !filter.IncludeHidden {
			continue
		}
		if len(want) > 0 && !want[d.Slug] {
			continue
		}
		out = append(out, r.withGroup(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

func (r memDefinitions) Create(_ context.Context, def *domain.StateDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.definitions[def.Slug]; ok {
		return fmt.Errorf("definition %s: %w", def.Slug, domain.ErrAlreadyExists)
	}
	def.ID = r.s.id()
	r.s.definitions[def.Slug] = copyDefinition(def)
	return nil
}

func (r memDefinitions) Update(_ context.Context, def *domain.StateDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.definitions[def.Slug]; !ok {
		return notFound("definition", def.Slug)
	}
	r.s.definitions[def.Slug] = copyDefinition(def)
	return nil
}

func (r memDefinitions) Delete(_ context.Context, slug string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.definitions[slug]; !ok {
		return notFound("definition", slug)
	}
	delete(r.s.definitions, slug)
	return nil
}

type memStates struct{ s *MemoryStore }

func (r memStates) Get(_ context.Context, ident string) (*domain.State, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, st := range r.s.states {
		if st.Ident == ident {
			c := *st
			return &c, nil
		}
	}
	return nil, notFound("state", ident)
}

func (r memStates) GetByID(_ context.Context, id int64) (*domain.State, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.states[id]
	if !ok {
		return nil, notFound("state", id)
	}
	c := *st
	return &c, nil
}

func (r memStates) FindLive(_ context.Context, analysisID int64, slug string) (*domain.State, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, st := range r.s.states {
		if st.AnalysisID == analysisID && st.Slug == slug {
			c := *st
			return &c, nil
		}
	}
	return nil, notFound("state", slug)
}

func (r memStates) ListByAnalysis(_ context.Context, analysisID int64) ([]*domain.State, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.State
	for _, st := range r.s.states {
		if st.AnalysisID == analysisID {
			c := *st
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memStates) Create(_ context.Context, state *domain.State) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	state.ID = r.s.id()
	c := *state
	r.s.states[state.ID] = &c
	return nil
}

func (r memStates) Update(_ context.Context, state *domain.State) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.states[state.ID]; !ok {
		return notFound("state", state.Ident)
	}
	c := *state
	r.s.states[state.ID] = &c
	return nil
}

func (r memStates) Delete(_ context.Context, ident string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, st := range r.s.states {
		if st.Ident != ident {
			continue
		}
		delete(r.s.states, id)
		for tid, t := range r.s.tasks {
			if t.StateID == id {
				r.s.deleteTaskLocked(tid)
			}
		}
		return nil
	}
	return notFound("state", ident)
}

func (s *MemoryStore) deleteTaskLocked(id int64) {
	delete(s.tasks, id)
	for cid, c := range s.checkins {
		if c.TaskID == id {
			delete(s.checkins, cid)
		}
	}
}

type memTasks struct{ s *MemoryStore }

func (r memTasks) Get(_ context.Context, ident string) (*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.tasks {
		if t.Ident == ident {
			c := *t
			return &c, nil
		}
	}
	return nil, notFound("task", ident)
}

func (r memTasks) GetByID(_ context.Context, id int64) (*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	c := *t
	return &c, nil
}

func (r memTasks) FindBySlug(_ context.Context, stateID int64, slug string) (*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.tasks {
		if t.StateID == stateID && t.Slug == slug {
			c := *t
			return &c, nil
		}
	}
	return nil, notFound("task", slug)
}

func (r memTasks) ListByState(_ context.Context, stateID int64) ([]*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.Task
	for _, t := range r.s.tasks {
		if t.StateID == stateID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (r memTasks) Create(_ context.Context, task *domain.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.states[task.StateID]; !ok {
		return notFound("state", task.StateID)
	}
	task.ID = r.s.id()
	c := *task
	r.s.tasks[task.ID] = &c
	return nil
}

func (r memTasks) Update(_ context.Context, task *domain.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[task.ID]; !ok {
		return notFound("task", task.Ident)
	}
	c := *task
	r.s.tasks[task.ID] = &c
	return nil
}

func (r memTasks) AssignAll(_ context.Context, stateID int64, userID *int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tasks {
		if t.StateID != stateID {
			continue
		}
		if userID == nil {
			t.AssignedToID = nil
		} else {
			id := *userID
			t.AssignedToID = &id
		}
	}
	return nil
}

func (r memTasks) Delete(_ context.Context, ident string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, t := range r.s.tasks {
		if t.Ident == ident {
			r.s.deleteTaskLocked(id)
			return nil
		}
	}
	return notFound("task", ident)
}

type memCheckins struct{ s *MemoryStore }

func (r memCheckins) Create(_ context.Context, checkin *domain.Checkin) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[checkin.TaskID]; !ok {
		return notFound("task", checkin.TaskID)
	}
	checkin.ID = r.s.id()
	c := *checkin
	c.Outcome = copyOutcome(checkin.Outcome)
	r.s.checkins[checkin.ID] = &c
	return nil
}

func (r memCheckins) ListByTask(_ context.Context, taskID int64) ([]*domain.Checkin, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.Checkin
	for _, ch := range r.s.checkins {
		if ch.TaskID == taskID {
			c := *ch
			c.Outcome = copyOutcome(ch.Outcome)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memCheckins) CountByTask(_ context.Context, taskID int64) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, ch := range r.s.checkins {
		if ch.TaskID == taskID {
			n++
		}
	}
	return n, nil
}

func (r memCheckins) Update(_ context.Context, checkin *domain.Checkin) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.checkins[checkin.ID]; !ok {
		return notFound("checkin", checkin.Ident)
	}
	c := *checkin
	c.Outcome = copyOutcome(checkin.Outcome)
	r.s.checkins[checkin.ID] = &c
	return nil
}

func (r memCheckins) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.checkins[id]; !ok {
		return notFound("checkin", id)
	}
	delete(r.s.checkins, id)
	return nil
}

func (r memCheckins) DeleteByTask(_ context.Context, taskID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, ch := range r.s.checkins {
		if ch.TaskID == taskID {
			delete(r.s.checkins, id)
		}
	}
	return nil
}

type memHooks struct{ s *MemoryStore }

func (r memHooks) Find(_ context.Context, filter domain.HookFilter) ([]*domain.Hook, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.Hook
	for _, h := range r.s.hooks {
		if h.StateName != filter.StateName || h.Status != filter.Status {
			continue
		}
		if filter.EnabledOnly && !h.Enabled {
			continue
		}
		if filter.TaskName == nil {
			if h.TaskName != nil {
				continue
			}
		} else if h.TaskName == nil || *h.TaskName != *filter.TaskName {
			continue
		}
		c := *h
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memHooks) Get(_ context.Context, ident string) (*domain.Hook, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, h := range r.s.hooks {
		if h.Ident == ident {
			c := *h
			return &c, nil
		}
	}
	return nil, notFound("hook", ident)
}

func (r memHooks) List(_ context.Context) ([]*domain.Hook, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.Hook, 0, len(r.s.hooks))
	for _, h := range r.s.hooks {
		c := *h
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memHooks) Create(_ context.Context, hook *domain.Hook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	hook.ID = r.s.id()
	c := *hook
	r.s.hooks[hook.ID] = &c
	return nil
}

func (r memHooks) Update(_ context.Context, hook *domain.Hook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.hooks[hook.ID]; !ok {
		return notFound("hook", hook.Ident)
	}
	c := *hook
	r.s.hooks[hook.ID] = &c
	return nil
}

func (r memHooks) Delete(_ context.Context, ident string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, h := range r.s.hooks {
		if h.Ident == ident {
			delete(r.s.hooks, id)
			return nil
		}
	}
	return notFound("hook", ident)
}

type memUsers struct{ s *MemoryStore }

func (r memUsers) find(match func(*domain.User) bool, key interface{}) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, notFound("user", key)
}

func (r memUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id }, id)
}

func (r memUsers) GetByIdent(_ context.Context, ident string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Ident == ident }, ident)
}

func (r memUsers) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == username }, username)
}

func (r memUsers) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == user.Username {
			return fmt.Errorf("user %s: %w", user.Username, domain.ErrAlreadyExists)
		}
	}
	user.ID = r.s.id()
	c := *user
	r.s.users[user.ID] = &c
	return nil
}

type memGroups struct{ s *MemoryStore }

func (r memGroups) GetByID(_ context.Context, id int64) (*domain.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	g, ok := r.s.groups[id]
	if !ok {
		return nil, notFound("group", id)
	}
	c := *g
	return &c, nil
}

func (r memGroups) GetByIdent(_ context.Context, ident string) (*domain.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, g := range r.s.groups {
		if g.Ident == ident {
			c := *g
			return &c, nil
		}
	}
	return nil, notFound("group", ident)
}

func (r memGroups) Create(_ context.Context, group *domain.Group) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	group.ID = r.s.id()
	c := *group
	r.s.groups[group.ID] = &c
	return nil
}

type memAnalyses struct{ s *MemoryStore }

func (r memAnalyses) withPatient(a *domain.Analysis) *domain.Analysis {
	c := *a
	if p, ok := r.s.patients[a.PatientID]; ok {
		pc := *p
		c.Patient = &pc
	}
	return &c
}

func (r memAnalyses) GetByID(_ context.Context, id int64) (*domain.Analysis, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.analyses[id]
	if !ok {
		return nil, notFound("analysis", id)
	}
	return r.withPatient(a), nil
}

func (r memAnalyses) GetByIdent(_ context.Context, ident string) (*domain.Analysis, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.analyses {
		if a.Ident == ident {
			return r.withPatient(a), nil
		}
	}
	return nil, notFound("analysis", ident)
}

func (r memAnalyses) Find(_ context.Context, patientID, analysisName string) (*domain.Analysis, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.analyses {
		p, ok := r.s.patients[a.PatientID]
		if ok && p.PatientID == patientID && a.Name == analysisName {
			return r.withPatient(a), nil
		}
	}
	return nil, notFound("analysis", patientID+"/"+analysisName)
}

func (r memAnalyses) Create(_ context.Context, analysis *domain.Analysis) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.patients[analysis.PatientID]; !ok {
		return notFound("patient", analysis.PatientID)
	}
	analysis.ID = r.s.id()
	c := *analysis
	c.Patient = nil
	r.s.analyses[analysis.ID] = &c
	return nil
}

func (r memAnalyses) CreatePatient(_ context.Context, patient *domain.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	patient.ID = r.s.id()
	c := *patient
	r.s.patients[patient.ID] = &c
	return nil
}
