package users

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/djames1987/DracoSoft-Server/internal/event"
	"github.com/djames1987/DracoSoft-Server/internal/metrics"
	"github.com/djames1987/DracoSoft-Server/internal/module"
	"github.com/djames1987/DracoSoft-Server/internal/modules/sqlitestore"
	"github.com/djames1987/DracoSoft-Server/pkg/logger"
)

type testHost struct {
	mgr *module.Manager
	log *logger.Logger
}

func (h *testHost) Bus() *event.Bus             { return nil }
func (h *testHost) Modules() *module.Manager    { return h.mgr }
func (h *testHost) Logger() *logger.Logger      { return h.log }
func (h *testHost) Metrics() *metrics.Collector { return nil }

// loadDirectory brings up a real storage module and the users module on it.
func loadDirectory(t *testing.T) *Module {
	t.Helper()
	h := &testHost{log: logger.NewNop()}
	h.mgr = module.NewManager(h, h.log)

	h.mgr.Register(sqlitestore.Name, sqlitestore.New)
	h.mgr.Bind(sqlitestore.Name, map[string]any{
		"path": filepath.Join(t.TempDir(), "users.db"),
	})
	h.mgr.Register(Name, New)
	h.mgr.Bind(Name, map[string]any{"bcrypt_cost": 4})

	ctx := context.Background()
	require.NoError(t, h.mgr.Load(ctx, sqlitestore.Name))
	require.NoError(t, h.mgr.Load(ctx, Name))
	t.Cleanup(func() { h.mgr.Shutdown(ctx) })

	inst, ok := h.mgr.Get(Name)
	require.True(t, ok)
	return inst.(*Module)
}

func TestCreateAndGetUser(t *testing.T) {
	d := loadDirectory(t)
	ctx := context.Background()

	created, err := d.CreateUser(ctx, "draco", "hunter2", "draco@example.com")
	require.NoError(t, err)
	require.Greater(t, created.ID, int64(0))

	got, err := d.GetUser(ctx, "draco")
	require.NoError(t, err)
	require.Equal(t, "draco", got.Username)
	require.Equal(t, "draco@example.com", got.Email)
	require.Equal(t, "active", got.Status)
}

func TestCreateUserValidation(t *testing.T) {
	d := loadDirectory(t)
	ctx := context.Background()

	_, err := d.CreateUser(ctx, "", "pw", "")
	require.Error(t, err)
	_, err = d.CreateUser(ctx, "nopw", "", "")
	require.Error(t, err)
}

func TestCreateUserDuplicate(t *testing.T) {
	d := loadDirectory(t)
	ctx := context.Background()

	_, err := d.CreateUser(ctx, "draco", "pw", "draco@example.com")
	require.NoError(t, err)

	_, err = d.CreateUser(ctx, "draco", "pw", "")
	require.ErrorIs(t, err, ErrUserExists)

	_, err = d.CreateUser(ctx, "other", "pw", "draco@example.com")
	require.ErrorIs(t, err, ErrUserExists, "email is unique too")
}

func TestGetUserNotFound(t *testing.T) {
	d := loadDirectory(t)
	_, err := d.GetUser(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyPassword(t *testing.T) {
	d := loadDirectory(t)
	ctx := context.Background()

	_, err := d.CreateUser(ctx, "draco", "hunter2", "")
	require.NoError(t, err)

	u, err := d.VerifyPassword(ctx, "draco", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "draco", u.Username)

	_, err = d.VerifyPassword(ctx, "draco", "wrong")
	require.ErrorIs(t, err, ErrBadCredentials)

	// Unknown user and wrong password are indistinguishable.
	_, err = d.VerifyPassword(ctx, "ghost", "hunter2")
	require.ErrorIs(t, err, ErrBadCredentials)
}

func TestUpdateUser(t *testing.T) {
	d := loadDirectory(t)
	ctx := context.Background()

	_, err := d.CreateUser(ctx, "draco", "hunter2", "")
	require.NoError(t, err)

	require.NoError(t, d.UpdateUser(ctx, "draco", map[string]any{
		"email":    "new@example.com",
		"status":   "suspended",
		"password": "newpw",
	}))

	got, err := d.GetUser(ctx, "draco")
	require.NoError(t, err)
	require.Equal(t, "new@example.com", got.Email)
	require.Equal(t, "suspended", got.Status)

	_, err = d.VerifyPassword(ctx, "draco", "newpw")
	require.NoError(t, err)
	_, err = d.VerifyPassword(ctx, "draco", "hunter2")
	require.ErrorIs(t, err, ErrBadCredentials)

	require.Error(t, d.UpdateUser(ctx, "draco", map[string]any{"unknown": 1}))
}

func TestUpdateLastLogin(t *testing.T) {
	d := loadDirectory(t)
	ctx := context.Background()

	_, err := d.CreateUser(ctx, "draco", "hunter2", "")
	require.NoError(t, err)
	require.NoError(t, d.UpdateLastLogin(ctx, "draco"))

	got, err := d.GetUser(ctx, "draco")
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
}
