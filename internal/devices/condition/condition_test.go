package condition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charfs/internal/bonus"
	"charfs/internal/entity"
	"charfs/internal/errno"
	"charfs/internal/kernel"
	"charfs/internal/storage"
	"charfs/internal/vfs"
)

type fixture struct {
	k       *kernel.Kernel
	bonuses *bonus.Device
	dev     *Device
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	ctx := context.Background()
	k, err := kernel.New(storage.NewMemoryAdapter(), kernel.Options{})
	require.NoError(t, err)
	_, err = k.Boot(ctx)
	require.NoError(t, err)

	bonuses := bonus.NewDevice()
	dev := NewDevice(bonuses)
	require.NoError(t, k.MountAll(ctx, map[string]string{
		bonus.ID: "/dev/bonus",
		ID:       "/dev/condition",
	}, bonuses, dev))

	store := entity.NewStore(k, k.Context())
	require.True(t, store.Create(ctx, entity.Entity{ID: "e", Type: "character"}, "").OK())
	return fixture{k: k, bonuses: bonuses, dev: dev}
}

func TestNames(t *testing.T) {
	t.Parallel()

	names := Names()
	assert.Len(t, names, len(Effects))
	assert.Equal(t, "dazzled", names[0])
	assert.Equal(t, "condition:shaken", Source("shaken"))
}

func TestDevice_ApplyAndRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	require.Equal(t, errno.SUCCESS, f.dev.Apply(ctx, "e", "shaken"))
	require.Equal(t, errno.SUCCESS, f.dev.Apply(ctx, "e", "sickened"))
	assert.Equal(t, -4, f.bonuses.CalculateTotal(ctx, "e", "attack").Value)
	assert.Equal(t, -2, f.bonuses.CalculateTotal(ctx, "e", "damage").Value)

	// Applying again does not stack a condition with itself.
	require.Equal(t, errno.SUCCESS, f.dev.Apply(ctx, "e", "shaken"))
	assert.Equal(t, -4, f.bonuses.CalculateTotal(ctx, "e", "skills").Value)
	assert.Equal(t, []string{"shaken", "sickened"}, f.dev.Active(ctx, "e").Value)

	require.Equal(t, errno.SUCCESS, f.dev.Remove(ctx, "e", "shaken"))
	assert.Equal(t, -2, f.bonuses.CalculateTotal(ctx, "e", "attack").Value)
	assert.Equal(t, []string{"sickened"}, f.dev.Active(ctx, "e").Value)

	assert.Equal(t, errno.ENOENT, f.dev.Remove(ctx, "e", "shaken"))
	assert.Equal(t, errno.EINVAL, f.dev.Apply(ctx, "e", "petrified"))
	assert.Equal(t, errno.EINVAL, f.dev.Remove(ctx, "e", "petrified"))
	assert.Equal(t, errno.ENOENT, f.dev.Apply(ctx, "ghost", "shaken"))
}

func TestDevice_ConditionBonusesCoexistWithOthers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	require.Equal(t, errno.SUCCESS, f.bonuses.AddBonus(ctx, "e", "dexterity", 2, "enhancement", "gloves"))
	require.Equal(t, errno.SUCCESS, f.dev.Apply(ctx, "e", "entangled"))
	require.Equal(t, errno.SUCCESS, f.dev.Apply(ctx, "e", "fatigued"))
	assert.Equal(t, -4, f.bonuses.CalculateTotal(ctx, "e", "dexterity").Value)

	require.Equal(t, errno.SUCCESS, f.dev.Clear(ctx, "e"))
	assert.Empty(t, f.dev.Active(ctx, "e").Value)
	assert.Equal(t, 2, f.bonuses.CalculateTotal(ctx, "e", "dexterity").Value)
	assert.Equal(t, 0, f.bonuses.CalculateTotal(ctx, "e", "attack").Value)
}

func TestDevice_Syscalls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	ctl := f.k.Open(ctx, "/dev/condition", vfs.ModeReadWrite)
	require.True(t, ctl.OK())
	known := f.k.Read(ctx, ctl.Value)
	require.True(t, known.OK())
	assert.Contains(t, known.Value, "dazzled")

	require.Equal(t, errno.SUCCESS, f.k.Ioctl(ctx, ctl.Value, IoctlApply, Args{Entity: "e", Condition: "dazzled"}).Code)
	list := f.k.Ioctl(ctx, ctl.Value, IoctlList, map[string]any{"entity": "e"})
	require.True(t, list.OK())
	assert.Equal(t, []string{"dazzled"}, list.Value)
	assert.Equal(t, -1, f.bonuses.CalculateTotal(ctx, "e", "skill:perception").Value)

	active := f.k.Open(ctx, "/dev/condition/e", vfs.ModeRead)
	require.True(t, active.OK())
	assert.Equal(t, []string{"dazzled"}, f.k.Read(ctx, active.Value).Value)

	require.Equal(t, errno.ENOENT, f.k.Ioctl(ctx, ctl.Value, IoctlRemove, Args{Entity: "e", Condition: "shaken"}).Code)
	require.Equal(t, errno.SUCCESS, f.k.Ioctl(ctx, ctl.Value, IoctlClear, Args{Entity: "e"}).Code)
	assert.Empty(t, f.dev.Active(ctx, "e").Value)

	assert.Equal(t, errno.EINVAL, f.k.Write(ctx, ctl.Value, "x"))
	assert.Equal(t, errno.EINVAL, f.k.Open(ctx, "/dev/condition/e/shaken", vfs.ModeRead).Code)
}
