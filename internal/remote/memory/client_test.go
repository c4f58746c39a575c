package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/mirror"
	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote"
)

func putDoc(t *testing.T, id string) remote.Document {
	t.Helper()
	d, err := model.NewPutDelta(model.Patient{ID: id, Name: "Ada"}, time.Time{})
	require.NoError(t, err)
	doc, err := remote.Encode(d)
	require.NoError(t, err)
	return doc
}

func TestFaults(t *testing.T) {
	c := New(mirror.NewMemoryLog(), WithWaitWindow(10*time.Millisecond))
	ctx := context.Background()

	c.SetDown(true)
	assert.ErrorIs(t, c.Init(ctx), remote.ErrUnavailable)
	c.SetDown(false)
	require.NoError(t, c.Init(ctx))

	_, err := c.Push(ctx, putDoc(t, "pat-1"))
	assert.ErrorIs(t, err, remote.ErrUnauthenticated, "push needs an identity")

	c.FailSignIn(true)
	_, err = c.SignInAnonymously(ctx, remote.Identity{})
	assert.ErrorIs(t, err, remote.ErrUnauthenticated)
	c.FailSignIn(false)

	_, err = c.Listen(ctx, model.CollectionPatients, 0)
	assert.ErrorIs(t, err, remote.ErrUnauthenticated)

	id, err := c.SignInAnonymously(ctx, remote.Identity{})
	require.NoError(t, err)
	again, err := c.SignInAnonymously(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id.UID, again.UID)

	c.FailNextPushes(1)
	_, err = c.Push(ctx, putDoc(t, "pat-1"))
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	v, err := c.Push(ctx, putDoc(t, "pat-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	c.Reject(model.CollectionPatients, "pat-2")
	_, err = c.Push(ctx, putDoc(t, "pat-2"))
	assert.ErrorIs(t, err, remote.ErrRejected)
	assert.Equal(t, 1, c.Pushes())
}

func TestSharedLogActsLikeOneMirror(t *testing.T) {
	log := mirror.NewMemoryLog()
	a := New(log, WithWaitWindow(10*time.Millisecond))
	b := New(log, WithWaitWindow(10*time.Millisecond))
	ctx := context.Background()

	_, err := a.SignInAnonymously(ctx, remote.Identity{})
	require.NoError(t, err)
	_, err = b.SignInAnonymously(ctx, remote.Identity{})
	require.NoError(t, err)

	l, err := b.Listen(ctx, model.CollectionPatients, 0)
	require.NoError(t, err)

	docs, err := l.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = a.Push(ctx, putDoc(t, "pat-1"))
	require.NoError(t, err)

	docs, err = l.Next(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, a.Identity().UID, docs[0].Author)

	b.SetDown(true)
	_, err = l.Next(ctx)
	assert.ErrorIs(t, err, remote.ErrUnavailable)
}
