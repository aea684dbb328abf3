package user

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ovaphlow/pitchfork/service-user-admin/internal/notify"
	"github.com/ovaphlow/pitchfork/service-user-admin/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-user-admin/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-user-admin/pkg/database"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (p *recordingPublisher) Publish(_ context.Context, c notify.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return nil
}

func (p *recordingPublisher) kinds() []notify.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.Kind, 0, len(p.changes))
	for _, c := range p.changes {
		out = append(out, c.Kind)
	}
	return out
}

type fixture struct {
	svc  *UserService
	repo *userrepo.UserRepo
	pub  *recordingPublisher
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Connect(database.Config{
		Driver: database.DriverSQLite,
		DSN:    "file:" + filepath.Join(t.TempDir(), "users.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := userrepo.NewUserRepo(db)
	require.NoError(t, r.EnsureTable(context.Background()))
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	r.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	seq := 0
	newID := func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	pub := &recordingPublisher{}
	return &fixture{svc: NewUserService(r, pub, nil, newID), repo: r, pub: pub}
}

func (f *fixture) mustCreate(t *testing.T, name, email string, status entity.Status) *entity.User {
	t.Helper()
	res := f.svc.Create(context.Background(), entity.Input{Name: name, Email: email, Status: status})
	require.True(t, res.Success, res.Error)
	return res.Data
}

func TestList_DefaultsAndEmptyStore(t *testing.T) {
	f := setupService(t)

	page, err := f.svc.List(context.Background(), entity.ListQuery{})
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
	assert.Equal(t, entity.Pagination{Page: 1, PageSize: 25, Total: 0, TotalPages: 0}, page.Pagination)
}

func TestList_NegativeValuesFallBackToDefaults(t *testing.T) {
	f := setupService(t)

	page, err := f.svc.List(context.Background(), entity.ListQuery{Page: -3, PageSize: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, DefaultPageSize, page.Pagination.PageSize)
}

func TestList_PageMath(t *testing.T) {
	f := setupService(t)
	for i := 0; i < 7; i++ {
		f.mustCreate(t, fmt.Sprintf("User %d", i), fmt.Sprintf("user%d@example.com", i), entity.StatusActive)
	}
	ctx := context.Background()

	for _, size := range []int{1, 2, 3, 7, 10} {
		want := (7 + size - 1) / size
		seen := 0
		for p := 1; p <= want+1; p++ {
			page, err := f.svc.List(ctx, entity.ListQuery{Page: p, PageSize: size})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(page.Data), size)
			assert.Equal(t, 7, page.Pagination.Total)
			assert.Equal(t, want, page.Pagination.TotalPages, "size %d", size)
			seen += len(page.Data)
		}
		assert.Equal(t, 7, seen, "size %d", size)
	}
}

func TestList_SecondPageOfTwo(t *testing.T) {
	f := setupService(t)
	f.mustCreate(t, "Alpha", "alpha@example.com", entity.StatusActive)
	f.mustCreate(t, "Beta", "beta@example.com", entity.StatusActive)

	page, err := f.svc.List(context.Background(), entity.ListQuery{Page: 2, PageSize: 1})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	// newest first, so the second page holds the oldest record
	assert.Equal(t, "Alpha", page.Data[0].Name)
	assert.Equal(t, entity.Pagination{Page: 2, PageSize: 1, Total: 2, TotalPages: 2}, page.Pagination)
}

func TestList_StatusAndSearch(t *testing.T) {
	f := setupService(t)
	a := f.mustCreate(t, "Ana Martinez", "ana@example.com", entity.StatusActive)
	b := f.mustCreate(t, "Bruno", "bruno@mail.io", entity.StatusInactive)
	c := f.mustCreate(t, "Carla", "carla@example.com", entity.StatusInactive)
	ctx := context.Background()

	page, err := f.svc.List(ctx, entity.ListQuery{Status: "active"})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, pageIDs(page))

	// search is ORed across name and email and ignores status
	page, err = f.svc.List(ctx, entity.ListQuery{Search: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, pageIDs(page))

	page, err = f.svc.List(ctx, entity.ListQuery{Search: "mail.io"})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, pageIDs(page))

	page, err = f.svc.List(ctx, entity.ListQuery{Search: "example", Status: "inactive"})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, pageIDs(page))
	assert.Equal(t, 1, page.Pagination.Total)

	page, err = f.svc.List(ctx, entity.ListQuery{Status: entity.StatusAll})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pagination.Total)
}

func TestList_IsIdempotent(t *testing.T) {
	f := setupService(t)
	for i := 0; i < 4; i++ {
		f.mustCreate(t, fmt.Sprintf("User %d", i), fmt.Sprintf("u%d@example.com", i), entity.StatusActive)
	}
	q := entity.ListQuery{Page: 2, PageSize: 2, Search: "example"}

	first, err := f.svc.List(context.Background(), q)
	require.NoError(t, err)
	second, err := f.svc.List(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestList_MaxPageSize(t *testing.T) {
	f := setupService(t)
	for i := 0; i < 5; i++ {
		f.mustCreate(t, fmt.Sprintf("User %d", i), fmt.Sprintf("u%d@example.com", i), entity.StatusActive)
	}
	f.svc.MaxPageSize = 2

	page, err := f.svc.List(context.Background(), entity.ListQuery{PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, entity.Pagination{Page: 1, PageSize: 2, Total: 5, TotalPages: 3}, page.Pagination)
}

func TestCreate(t *testing.T) {
	f := setupService(t)

	res := f.svc.Create(context.Background(), entity.Input{Name: "  Juan Perez ", Email: " Juan.Perez@Example.com "})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "id-001", res.Data.ID)
	assert.Equal(t, "Juan Perez", res.Data.Name)
	assert.Equal(t, "juan.perez@example.com", res.Data.Email)
	assert.Equal(t, entity.StatusActive, res.Data.Status)
	assert.Empty(t, res.Error)
	assert.Equal(t, []notify.Kind{notify.KindCreated}, f.pub.kinds())
}

func TestCreate_Validation(t *testing.T) {
	f := setupService(t)

	cases := []entity.Input{
		{Name: "J", Email: "j@example.com"},
		{Name: "Juan", Email: "not-an-email"},
		{Name: "Juan", Email: "juan@example.com", Status: "locked"},
	}
	for _, in := range cases {
		res := f.svc.Create(context.Background(), in)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, ErrValidation)
		assert.NotEmpty(t, res.Error)
	}

	n, err := f.repo.Count(context.Background(), userrepo.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.pub.kinds())
}

func TestCreate_DuplicateEmail(t *testing.T) {
	f := setupService(t)
	f.mustCreate(t, "Juan", "juan@example.com", entity.StatusActive)

	res := f.svc.Create(context.Background(), entity.Input{Name: "Otro Juan", Email: "JUAN@example.com"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrConflict)
	assert.Equal(t, "a user with that email already exists", res.Error)

	n, err := f.repo.Count(context.Background(), userrepo.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdate(t *testing.T) {
	f := setupService(t)
	u := f.mustCreate(t, "Juan", "juan@example.com", entity.StatusInactive)

	// keeping the same email is not a conflict
	res := f.svc.Update(context.Background(), u.ID, entity.Input{Name: "Juan Perez", Email: "juan@example.com", Status: entity.StatusInactive})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Juan Perez", res.Data.Name)
	assert.Equal(t, entity.StatusInactive, res.Data.Status)

	// omitted status defaults to active
	res = f.svc.Update(context.Background(), u.ID, entity.Input{Name: "Juan Perez", Email: "jp@example.com"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "jp@example.com", res.Data.Email)
	assert.Equal(t, entity.StatusActive, res.Data.Status)
	assert.True(t, res.Data.CreatedAt.Equal(u.CreatedAt))
	assert.Equal(t, []notify.Kind{notify.KindCreated, notify.KindUpdated, notify.KindUpdated}, f.pub.kinds())
}

func TestUpdate_EmailOfOtherUser(t *testing.T) {
	f := setupService(t)
	juan := f.mustCreate(t, "Juan", "juan@example.com", entity.StatusActive)
	f.mustCreate(t, "Maria", "maria@example.com", entity.StatusActive)

	res := f.svc.Update(context.Background(), juan.ID, entity.Input{Name: "Juan", Email: "maria@example.com"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrConflict)
	assert.Equal(t, "another user already has that email", res.Error)

	after, err := f.svc.Get(context.Background(), juan.ID)
	require.NoError(t, err)
	assert.Equal(t, juan.Email, after.Email)
	assert.Equal(t, juan.Name, after.Name)
	assert.True(t, juan.UpdatedAt.Equal(after.UpdatedAt))
}

func TestUpdate_NotFound(t *testing.T) {
	f := setupService(t)

	res := f.svc.Update(context.Background(), "ghost", entity.Input{Name: "Ghost", Email: "ghost@example.com"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNotFound)
	assert.Equal(t, "user not found", res.Error)
}

func TestToggleStatus(t *testing.T) {
	f := setupService(t)
	u := f.mustCreate(t, "Juan", "juan@example.com", entity.StatusActive)
	ctx := context.Background()

	res := f.svc.ToggleStatus(ctx, u.ID)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, entity.StatusInactive, res.Data.Status)

	res = f.svc.ToggleStatus(ctx, u.ID)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, entity.StatusActive, res.Data.Status)

	res = f.svc.ToggleStatus(ctx, "ghost")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := setupService(t)
	u := f.mustCreate(t, "Juan", "juan@example.com", entity.StatusActive)
	ctx := context.Background()

	res := f.svc.Delete(ctx, u.ID)
	assert.True(t, res.Success)
	assert.Nil(t, res.Data)

	_, err := f.svc.Get(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	res = f.svc.Delete(ctx, u.ID)
	assert.False(t, res.Success)
	assert.Equal(t, "user not found", res.Error)
	assert.Equal(t, []notify.Kind{notify.KindCreated, notify.KindDeleted}, f.pub.kinds())
}

func TestStats(t *testing.T) {
	f := setupService(t)
	f.mustCreate(t, "Juan", "juan@example.com", entity.StatusActive)
	f.mustCreate(t, "Maria", "maria@example.com", entity.StatusActive)
	f.mustCreate(t, "Ana", "ana@example.com", entity.StatusInactive)

	st, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.Stats{Total: 3, Active: 2, Inactive: 1}, st)
}

func TestReset(t *testing.T) {
	f := setupService(t)
	f.mustCreate(t, "Old", "old@example.com", entity.StatusActive)

	n, err := f.svc.Reset(context.Background(), SeedUsers)
	require.NoError(t, err)
	assert.Equal(t, len(SeedUsers), n)

	st, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(SeedUsers), st.Total)
	assert.Equal(t, notify.KindReset, f.pub.kinds()[len(f.pub.kinds())-1])

	_, err = f.svc.Reset(context.Background(), []entity.Input{{Name: "A", Email: "bad"}})
	assert.ErrorIs(t, err, ErrValidation)
}

// failingRepo fails every call with a low-level error.
type failingRepo struct{ Repository }

var errBoom = errors.New("connection refused")

func (failingRepo) List(context.Context, userrepo.Filter, int, int) ([]entity.User, error) {
	return nil, errBoom
}
func (failingRepo) Count(context.Context, userrepo.Filter) (int, error) { return 3, nil }
func (failingRepo) GetByEmail(context.Context, string) (*entity.User, error) {
	return nil, errBoom
}
func (failingRepo) ToggleStatus(context.Context, string) (*entity.User, error) {
	return nil, errBoom
}
func (failingRepo) Delete(context.Context, string) error { return errBoom }
func (failingRepo) CountByStatus(context.Context) (map[entity.Status]int, error) {
	return nil, errBoom
}

func TestStoreFaultsAreLoggedAndHidden(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	svc := NewUserService(failingRepo{}, nil, zap.New(core).Sugar(), nil)
	ctx := context.Background()

	page, err := svc.List(ctx, entity.ListQuery{})
	assert.Nil(t, page)
	assert.ErrorIs(t, err, ErrStore)
	assert.NotContains(t, err.Error(), "connection refused")

	_, err = svc.Stats(ctx)
	assert.ErrorIs(t, err, ErrStore)

	results := map[string]ActionResult{
		"failed to create user":        svc.Create(ctx, entity.Input{Name: "Juan", Email: "juan@example.com"}),
		"failed to update user":        svc.Update(ctx, "x", entity.Input{Name: "Juan", Email: "juan@example.com"}),
		"failed to change user status": svc.ToggleStatus(ctx, "x"),
		"failed to delete user":        svc.Delete(ctx, "x"),
	}
	for msg, res := range results {
		assert.False(t, res.Success, msg)
		assert.Equal(t, msg, res.Error)
		assert.ErrorIs(t, res.Err, ErrStore, msg)
	}

	errorLogs := logs.FilterLevelExact(zap.ErrorLevel).All()
	require.Len(t, errorLogs, 6)
	for _, entry := range errorLogs {
		assert.Equal(t, errBoom.Error(), entry.ContextMap()["err"])
	}
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, totalPages(0, 25))
	assert.Equal(t, 1, totalPages(1, 25))
	assert.Equal(t, 1, totalPages(25, 25))
	assert.Equal(t, 2, totalPages(26, 25))
	assert.Equal(t, 0, totalPages(10, 0))
}

func pageIDs(p *entity.Page[entity.User]) []string {
	out := make([]string, 0, len(p.Data))
	for _, u := range p.Data {
		out = append(out, u.ID)
	}
	return out
}

func TestList_PageBeyondOffsetRange(t *testing.T) {
	f := setupService(t)
	f.mustCreate(t, "Alpha", "alpha@example.com", entity.StatusActive)
	f.mustCreate(t, "Beta", "beta@example.com", entity.StatusActive)

	huge := math.MaxInt/DefaultPageSize + 2
	page, err := f.svc.List(context.Background(), entity.ListQuery{Page: huge, PageSize: DefaultPageSize})
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
	assert.Equal(t, entity.Pagination{Page: huge, PageSize: DefaultPageSize, Total: 2, TotalPages: 1}, page.Pagination)
}

// blindEmailRepo never finds a user by email, as when two writers race
// past the pre-check.
type blindEmailRepo struct{ *userrepo.UserRepo }

func (blindEmailRepo) GetByEmail(context.Context, string) (*entity.User, error) {
	return nil, userrepo.ErrNotFound
}

func TestUniqueIndexConflictsMatchPreCheck(t *testing.T) {
	f := setupService(t)
	f.mustCreate(t, "Juan", "juan@example.com", entity.StatusActive)
	maria := f.mustCreate(t, "Maria", "maria@example.com", entity.StatusActive)
	svc := NewUserService(blindEmailRepo{f.repo}, f.pub, nil, func() string { return "racer" })
	ctx := context.Background()

	res := svc.Create(ctx, entity.Input{Name: "Otro Juan", Email: "juan@example.com"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrConflict)
	assert.Equal(t, "a user with that email already exists", res.Error)

	res = svc.Update(ctx, maria.ID, entity.Input{Name: "Maria", Email: "juan@example.com"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrConflict)
	assert.Equal(t, "another user already has that email", res.Error)

	n, err := f.repo.Count(ctx, userrepo.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = f.repo.GetByID(ctx, "racer")
	assert.ErrorIs(t, err, userrepo.ErrNotFound)

	after, err := f.repo.GetByID(ctx, maria.ID)
	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", after.Email)
	assert.Equal(t, []notify.Kind{notify.KindCreated, notify.KindCreated}, f.pub.kinds())
}
