package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/report-tracking-server/internal/domain"
)

// userCache memoises user lookups while one public view is assembled
type userCache struct {
	store domain.UserRepository
	users map[int64]*domain.User
}

func (c *userCache) get(ctx context.Context, id *int64) (*domain.User, error) {
	if id == nil {
		return nil, nil
	}
	if u, ok := c.users[*id]; ok {
		return u, nil
	}
	u, err := c.store.GetByID(ctx, *id)
	if errors.Is(err, domain.ErrNotFound) {
		c.users[*id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", *id, err)
	}
	c.users[*id] = u
	return u, nil
}

func (e *Engine) newUserCache() *userCache {
	return &userCache{store: e.store.Users(), users: make(map[int64]*domain.User)}
}

func (e *Engine) taskPublic(ctx context.Context, task *domain.Task) (*domain.TaskPublic, error) {
	return e.taskPublicWith(ctx, task, e.newUserCache())
}

func (e *Engine) taskPublicWith(ctx context.Context, task *domain.Task, users *userCache) (*domain.TaskPublic, error) {
	pub := &domain.TaskPublic{Task: *task, Checkins: []domain.CheckinPublic{}}

	assignee, err := users.get(ctx, task.AssignedToID)
	if err != nil {
		return nil, err
	}
	pub.AssignedTo = assignee

	checkins, err := e.store.Checkins().ListByTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("listing checkins for task %s: %w", task.Ident, err)
	}
	for _, c := range checkins {
		uid := c.UserID
		user, err := users.get(ctx, &uid)
		if err != nil {
			return nil, err
		}
		pub.Checkins = append(pub.Checkins, domain.CheckinPublic{Checkin: *c, User: user})
	}
	return pub, nil
}
