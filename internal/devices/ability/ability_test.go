package ability

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

func TestModifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  int
	}{
		{score: 1, want: -5},
		{score: 3, want: -4},
		{score: 8, want: -1},
		{score: 9, want: -1},
		{score: 10, want: 0},
		{score: 11, want: 0},
		{score: 12, want: 1},
		{score: 18, want: 4},
		{score: 19, want: 4},
		{score: 0, want: -5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Modifier(tt.score), "score %d", tt.score)
	}
}

func TestCanonical(t *testing.T) {
	t.Parallel()

	full, ok := Canonical("dex")
	assert.True(t, ok)
	assert.Equal(t, "dexterity", full)

	full, ok = Canonical("wisdom")
	assert.True(t, ok)
	assert.Equal(t, "wisdom", full)

	_, ok = Canonical("luck")
	assert.False(t, ok)
}

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
		ID:       "/dev/ability",
	}, dev, bonuses))

	store := entity.NewStore(k, k.Context())
	require.True(t, store.Create(ctx, entity.Entity{ID: "e", Type: "character", Name: "Valeros"}, "").OK())
	return fixture{k: k, bonuses: bonuses, dev: dev}
}

func TestDevice_Initialize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	require.Equal(t, errno.SUCCESS, f.dev.Initialize(ctx, "e", map[string]int{"str": 16, "charisma": 8}))

	all := f.dev.All(ctx, "e")
	require.True(t, all.OK())
	assert.Len(t, all.Value, len(Names))
	assert.Equal(t, 16, all.Value["strength"].Score)
	assert.Equal(t, 3, all.Value["strength"].Modifier)
	assert.Equal(t, 8, all.Value["charisma"].Score)
	assert.Equal(t, -1, all.Value["charisma"].Modifier)
	assert.Equal(t, DefaultScore, all.Value["wisdom"].Score)

	assert.Equal(t, errno.EINVAL, f.dev.Initialize(ctx, "e", map[string]int{"luck": 3}))
	assert.Equal(t, errno.ENOENT, f.dev.Initialize(ctx, "ghost", nil))
}

func TestDevice_ScoresWithBonuses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.Equal(t, errno.SUCCESS, f.dev.SetScore(ctx, "e", "str", 14))

	require.Equal(t, errno.SUCCESS, f.dev.ApplyBonus(ctx, "e", "str", 2, "enhancement", "belt"))
	require.Equal(t, errno.SUCCESS, f.dev.ApplyBonus(ctx, "e", "str", 4, "enhancement", "bulls_strength"))
	require.Equal(t, errno.SUCCESS, f.dev.ApplyBonus(ctx, "e", "strength", 1, "", "blessing"))

	assert.Equal(t, 19, f.dev.GetScore(ctx, "e", "str").Value)
	assert.Equal(t, 4, f.dev.GetModifier(ctx, "e", "strength").Value)

	bd := f.dev.GetBreakdown(ctx, "e", "str")
	require.True(t, bd.OK())
	assert.Equal(t, 14, bd.Value.Base)
	assert.Equal(t, 5, bd.Value.Bonuses.Total)
	assert.Len(t, bd.Value.Bonuses.Components, 3)

	// Bonuses land on the full ability name in the bonus ledger.
	assert.Equal(t, 5, f.bonuses.CalculateTotal(ctx, "e", "strength").Value)

	require.Equal(t, errno.SUCCESS, f.dev.RemoveBonus(ctx, "e", "str", "bulls_strength"))
	assert.Equal(t, 17, f.dev.GetScore(ctx, "e", "str").Value)

	assert.Equal(t, errno.EINVAL, f.dev.ApplyBonus(ctx, "e", "luck", 1, "", "x"))
	assert.Equal(t, errno.EINVAL, f.dev.GetScore(ctx, "e", "luck").Code)
	assert.Equal(t, errno.ENOENT, f.dev.GetScore(ctx, "ghost", "str").Code)
}

func TestDevice_Syscalls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	ctl := f.k.Open(ctx, "/dev/ability", vfs.ModeReadWrite)
	require.True(t, ctl.OK())

	r := f.k.Ioctl(ctx, ctl.Value, IoctlInitialize, Args{Entity: "e", Scores: map[string]int{"dex": 15}})
	require.Equal(t, errno.SUCCESS, r.Code)

	r = f.k.Ioctl(ctx, ctl.Value, IoctlGetModifier, map[string]any{"entity": "e", "ability": "dex"})
	require.True(t, r.OK())
	assert.Equal(t, 2, r.Value)

	r = f.k.Ioctl(ctx, ctl.Value, IoctlApplyBonus, Args{Entity: "e", Ability: "dex", Value: 2, Type: "dodge", Source: "haste"})
	require.Equal(t, errno.SUCCESS, r.Code)

	r = f.k.Ioctl(ctx, ctl.Value, IoctlGetScore, Args{Entity: "e", Ability: "dex"})
	require.True(t, r.OK())
	assert.Equal(t, 17, r.Value)

	// Writing the per-ability path sets the base score.
	w := f.k.Open(ctx, "/dev/ability/e/dex", vfs.ModeReadWrite)
	require.True(t, w.OK())
	require.Equal(t, errno.SUCCESS, f.k.Write(ctx, w.Value, 12))

	got := f.k.Read(ctx, w.Value)
	require.True(t, got.OK())
	score := got.Value.(Score)
	assert.Equal(t, 12, score.Base)
	assert.Equal(t, 14, score.Score)

	assert.Equal(t, errno.EINVAL, f.k.Write(ctx, w.Value, "twelve"))
	assert.Equal(t, errno.EINVAL, f.k.Read(ctx, ctl.Value).Code)
	assert.Equal(t, errno.EINVAL, f.k.Ioctl(ctx, ctl.Value, 42, nil).Code)
	assert.Equal(t, errno.EINVAL, f.k.Open(ctx, "/dev/ability/e/dex/extra", vfs.ModeRead).Code)

	all := f.k.Open(ctx, "/dev/ability/e", vfs.ModeRead)
	require.True(t, all.OK())
	scores := f.k.Read(ctx, all.Value)
	require.True(t, scores.OK())
	assert.Len(t, scores.Value.(map[string]Score), len(Names))
}

func TestDevice_ENODEV(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dev := NewDevice(bonus.NewDevice())
	assert.Equal(t, errno.ENODEV, dev.SetScore(ctx, "e", "str", 10))
	assert.Equal(t, errno.ENODEV, dev.GetScore(ctx, "e", "str").Code)

	f := newFixture(t)
	require.Equal(t, errno.SUCCESS, f.k.Unmount(ctx, "/dev/ability"))
	assert.Equal(t, errno.ENODEV, f.dev.ApplyBonus(ctx, "e", "str", 1, "", "x"))
	assert.Equal(t, errno.ENODEV, f.dev.All(ctx, "e").Code)
}
