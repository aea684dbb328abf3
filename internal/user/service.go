package user

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-user-admin/internal/notify"
	"github.com/ovaphlow/pitchfork/service-user-admin/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-user-admin/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-user-admin/pkg/utilities"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 25
)

// Repository is the store the service reads and writes. *userrepo.UserRepo
// implements it.
type Repository interface {
	List(ctx context.Context, f userrepo.Filter, limit, offset int) ([]entity.User, error)
	Count(ctx context.Context, f userrepo.Filter) (int, error)
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	Create(ctx context.Context, u *entity.User) (*entity.User, error)
	Update(ctx context.Context, u *entity.User) (*entity.User, error)
	ToggleStatus(ctx context.Context, id string) (*entity.User, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[entity.Status]int, error)
}

// ActionResult is the uniform outcome of a mutation. Error holds a message
// fit for display; Err keeps the classified error for transports and is
// never serialized.
type ActionResult struct {
	Success bool         `json:"success"`
	Data    *entity.User `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Err     error        `json:"-"`
}

// UserService implements the admin user listing and its mutations.
type UserService struct {
	repo     Repository
	notifier notify.Publisher
	logger   *zap.SugaredLogger
	newID    func() string
	// MaxPageSize caps ListQuery.PageSize when > 0.
	MaxPageSize int
}

// NewUserService wires a service around r. A nil notifier, logger or id
// generator falls back to a no-op publisher, a no-op logger and KSUIDs.
func NewUserService(r Repository, notifier notify.Publisher, logger *zap.SugaredLogger, newID func() string) *UserService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if newID == nil {
		newID = utilities.NewKSUID
	}
	return &UserService{repo: r, notifier: notifier, logger: logger, newID: newID}
}

// List returns one page of users matching q, newest first. The page read
// and the count run concurrently against the same predicate; if either
// fails no partial page is returned.
func (s *UserService) List(ctx context.Context, q entity.ListQuery) (*entity.Page[entity.User], error) {
	page := q.Page
	if page < 1 {
		page = DefaultPage
	}
	pageSize := q.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if s.MaxPageSize > 0 && pageSize > s.MaxPageSize {
		pageSize = s.MaxPageSize
	}
	filter := userrepo.Filter{Search: q.Search, Status: q.Status}

	var (
		users []entity.User
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	// an offset that overflows int lies past any table; only count
	if page-1 <= math.MaxInt/pageSize {
		offset := (page - 1) * pageSize
		g.Go(func() error {
			var err error
			users, err = s.repo.List(gctx, filter, pageSize, offset)
			return err
		})
	}
	g.Go(func() error {
		var err error
		total, err = s.repo.Count(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Errorw("list users failed", "page", page, "page_size", pageSize, "search", q.Search, "status", q.Status, "err", err)
		return nil, fmt.Errorf("list users: %w", ErrStore)
	}
	if users == nil {
		users = []entity.User{}
	}

	return &entity.Page[entity.User]{
		Data: users,
		Pagination: entity.Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages(total, pageSize),
		},
	}, nil
}

func totalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Get returns a single user.
func (s *UserService) Get(ctx context.Context, id string) (*entity.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, errUserNotFound
		}
		s.logger.Errorw("get user failed", "id", id, "err", err)
		return nil, fmt.Errorf("get user: %w", ErrStore)
	}
	return u, nil
}

// Stats counts users by status for the dashboard's summary cards.
func (s *UserService) Stats(ctx context.Context) (entity.Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.logger.Errorw("user stats failed", "err", err)
		return entity.Stats{}, fmt.Errorf("user stats: %w", ErrStore)
	}
	st := entity.Stats{
		Active:   counts[entity.StatusActive],
		Inactive: counts[entity.StatusInactive],
	}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

// Create validates in and inserts a new user unless the email is taken.
func (s *UserService) Create(ctx context.Context, in entity.Input) ActionResult {
	u, err := s.create(ctx, in)
	if err == nil {
		s.publish(ctx, notify.KindCreated, u.ID)
	}
	return s.result("create", "failed to create user", u, err)
}

func (s *UserService) create(ctx context.Context, in entity.Input) (*entity.User, error) {
	v, err := ValidateInput(in)
	if err != nil {
		return nil, err
	}
	// advisory; the unique index decides races
	if _, err := s.repo.GetByEmail(ctx, v.Email); err == nil {
		return nil, errEmailTaken
	} else if !errors.Is(err, userrepo.ErrNotFound) {
		return nil, err
	}

	u, err := s.repo.Create(ctx, &entity.User{
		ID:     s.newID(),
		Name:   v.Name,
		Email:  v.Email,
		Status: v.Status,
	})
	if err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return nil, errEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// Update replaces name, email and status of user id. An omitted status
// resets to active, as in create.
func (s *UserService) Update(ctx context.Context, id string, in entity.Input) ActionResult {
	u, err := s.update(ctx, id, in)
	if err == nil {
		s.publish(ctx, notify.KindUpdated, u.ID)
	}
	return s.result("update", "failed to update user", u, err)
}

func (s *UserService) update(ctx context.Context, id string, in entity.Input) (*entity.User, error) {
	v, err := ValidateInput(in)
	if err != nil {
		return nil, err
	}
	if other, err := s.repo.GetByEmail(ctx, v.Email); err == nil {
		if other.ID != id {
			return nil, errEmailTakenOther
		}
	} else if !errors.Is(err, userrepo.ErrNotFound) {
		return nil, err
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, errUserNotFound
		}
		return nil, err
	}

	u, err := s.repo.Update(ctx, &entity.User{ID: id, Name: v.Name, Email: v.Email, Status: v.Status})
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, userrepo.ErrDuplicateEmail):
		return nil, errEmailTakenOther
	case errors.Is(err, userrepo.ErrNotFound):
		return nil, errUserNotFound
	default:
		return nil, err
	}
}

// ToggleStatus flips a user between active and inactive.
func (s *UserService) ToggleStatus(ctx context.Context, id string) ActionResult {
	u, err := s.repo.ToggleStatus(ctx, id)
	if errors.Is(err, userrepo.ErrNotFound) {
		err = errUserNotFound
	}
	if err == nil {
		s.publish(ctx, notify.KindStatusToggled, u.ID)
	}
	return s.result("toggle_status", "failed to change user status", u, err)
}

// Delete removes a user permanently. The result carries no data.
func (s *UserService) Delete(ctx context.Context, id string) ActionResult {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, userrepo.ErrNotFound) {
		err = errUserNotFound
	}
	if err == nil {
		s.publish(ctx, notify.KindDeleted, id)
	}
	return s.result("delete", "failed to delete user", nil, err)
}

// Reset empties the store and creates every seed in order. It stops at the
// first failure and reports how many users were created.
func (s *UserService) Reset(ctx context.Context, seeds []entity.Input) (int, error) {
	removed, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear users: %w", err)
	}
	s.logger.Infow("cleared users", "removed", removed)

	created := 0
	defer func() { s.publish(ctx, notify.KindReset, "") }()
	for _, in := range seeds {
		if _, err := s.create(ctx, in); err != nil {
			return created, fmt.Errorf("seed %s: %w", in.Email, err)
		}
		created++
	}
	return created, nil
}

func (s *UserService) publish(ctx context.Context, kind notify.Kind, id string) {
	c := notify.Change{Kind: kind, UserID: id, At: time.Now().UTC()}
	if err := s.notifier.Publish(ctx, c); err != nil {
		// the write already happened; readers catch up on the next change
		s.logger.Warnw("publish listing change failed", "kind", kind, "id", id, "err", err)
	}
}

// result folds err into an ActionResult. Validation, conflict and
// not-found errors carry their own message; anything else is logged and
// replaced by failMsg.
func (s *UserService) result(op, failMsg string, u *entity.User, err error) ActionResult {
	if err == nil {
		return ActionResult{Success: true, Data: u}
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		s.logger.Debugw("user action rejected", "op", op, "err", err)
		return ActionResult{Error: err.Error(), Err: err}
	}
	s.logger.Errorw(failMsg, "op", op, "err", err)
	return ActionResult{Error: failMsg, Err: fmt.Errorf("%s: %w", op, ErrStore)}
}
