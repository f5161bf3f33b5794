package threads

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_TitleRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), nil)
	now := time.Now().UTC()

	th, err := svc.Create(ctx, now, "u1", "   ")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, th.Title)

	th, err = svc.Create(ctx, now, "u1", "  Trip planning  ")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", th.Title)

	_, err = svc.Create(ctx, now, "u1", strings.Repeat("x", MaxTitleLen+1))
	assert.ErrorIs(t, err, ErrInvalidTitle)
}

func TestGuard_OwnerOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), nil)

	th, err := svc.Create(ctx, time.Now().UTC(), "owner", "")
	require.NoError(t, err)

	got, err := svc.Guard().Authorize(ctx, "owner", th.ID)
	require.NoError(t, err)
	assert.Equal(t, th.ID, got.ID)

	for _, tc := range []struct{ user, thread string }{
		{"intruder", th.ID},
		{"owner", "missing"},
		{"owner", ""},
		{"", th.ID},
	} {
		_, err := svc.Guard().Authorize(ctx, tc.user, tc.thread)
		assert.ErrorIs(t, err, ErrNotFound, "user=%q thread=%q", tc.user, tc.thread)
	}
}

func TestList_NewestFirstWithCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), nil)
	base := time.Now().UTC()

	var created []Thread
	for i := 0; i < 5; i++ {
		th, err := svc.Create(ctx, base.Add(time.Duration(i)*time.Second), "u1", "")
		require.NoError(t, err)
		created = append(created, th)
	}
	_, err := svc.Create(ctx, base, "u2", "")
	require.NoError(t, err)

	page, err := svc.List(ctx, "u1", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, created[4].ID, page[0].ID)
	assert.Equal(t, created[3].ID, page[1].ID)

	page, err = svc.List(ctx, "u1", page[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, created[2].ID, page[0].ID)
	assert.Equal(t, created[0].ID, page[2].ID)

	all, err := svc.List(ctx, "u1", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestRenameAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var deleted []string
	hook := func(_ context.Context, id string) error {
		deleted = append(deleted, id)
		return nil
	}
	svc := NewService(NewMemoryStore(), nil, hook)
	now := time.Now().UTC()

	th, err := svc.Create(ctx, now, "u1", "old")
	require.NoError(t, err)

	_, err = svc.Rename(ctx, now, "u2", th.ID, "stolen")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Rename(ctx, now, "u1", th.ID, "  ")
	assert.ErrorIs(t, err, ErrInvalidTitle)

	renamed, err := svc.Rename(ctx, now.Add(time.Minute), "u1", th.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", renamed.Title)
	assert.True(t, renamed.UpdatedAt.After(th.UpdatedAt))

	assert.ErrorIs(t, svc.Delete(ctx, "u2", th.ID), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "u1", th.ID))
	assert.Equal(t, []string{th.ID}, deleted)

	_, err = svc.Get(ctx, "u1", th.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAll_OwnerScoped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var deleted []string
	hook := func(_ context.Context, id string) error {
		deleted = append(deleted, id)
		return nil
	}
	svc := NewService(NewMemoryStore(), nil, hook)
	now := time.Now().UTC()

	for i := 0; i < MaxPageLen+3; i++ {
		_, err := svc.Create(ctx, now.Add(time.Duration(i)*time.Millisecond), "u1", "")
		require.NoError(t, err)
	}
	keep, err := svc.Create(ctx, now, "u2", "theirs")
	require.NoError(t, err)

	n, err := svc.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, MaxPageLen+3, n)
	assert.Len(t, deleted, MaxPageLen+3)

	left, err := svc.List(ctx, "u1", "", 0)
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = svc.Get(ctx, "u2", keep.ID)
	assert.NoError(t, err)

	n, err = svc.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}
