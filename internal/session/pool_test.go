package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id     int32
	closed atomic.Bool
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func newPool(opened *atomic.Int32) *session.Pool[*fakeSession] {
	return session.NewPool[*fakeSession](func(ctx context.Context, account string) (*fakeSession, error) {
		return &fakeSession{id: opened.Add(1)}, nil
	}, 1)
}

func Test_Pool_ReusesHealthySessions(t *testing.T) {
	t.Parallel()

	var opened atomic.Int32
	pool := newPool(&opened)

	lease, err := pool.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	first := lease.Session()
	assert.NoError(t, lease.Release(true))
	assert.NoError(t, lease.Release(true), "release must be idempotent")
	assert.Equal(t, 1, pool.Idle("acct"))

	lease, err = pool.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	assert.Same(t, first, lease.Session())
	assert.Equal(t, int32(1), opened.Load())
	assert.NoError(t, lease.Release(true))
}

func Test_Pool_UnhealthySessionsAreTornDown(t *testing.T) {
	t.Parallel()

	var opened atomic.Int32
	pool := newPool(&opened)

	lease, err := pool.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	broken := lease.Session()
	assert.NoError(t, lease.Release(false))
	assert.True(t, broken.closed.Load())
	assert.Equal(t, 0, pool.Idle("acct"))

	lease, err = pool.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	assert.NotSame(t, broken, lease.Session())
	assert.Equal(t, int32(2), opened.Load())
}

func Test_Pool_ExclusiveCheckout(t *testing.T) {
	t.Parallel()

	var opened atomic.Int32
	pool := newPool(&opened)

	held, err := pool.Acquire(context.Background(), "acct")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	_, err = pool.Acquire(ctx, "acct")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "second holder must wait while the session is leased")

	other, err := pool.Acquire(context.Background(), "other-acct")
	require.NoError(t, err, "accounts do not block each other")
	assert.NoError(t, other.Release(true))

	acquired := make(chan *session.Lease[*fakeSession])
	go func() {
		lease, err := pool.Acquire(context.Background(), "acct")
		assert.NoError(t, err)
		acquired <- lease
	}()

	time.Sleep(time.Millisecond * 20)
	assert.NoError(t, held.Release(true))

	select {
	case lease := <-acquired:
		assert.Same(t, held.Session(), lease.Session())
		assert.NoError(t, lease.Release(true))
	case <-time.After(time.Second):
		t.Fatal("waiting acquirer never received the released session")
	}
}

func Test_Pool_FactoryErrorReleasesPermit(t *testing.T) {
	t.Parallel()

	calls := 0
	pool := session.NewPool[*fakeSession](func(ctx context.Context, account string) (*fakeSession, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("browser failed to launch")
		}
		return &fakeSession{}, nil
	}, 1)

	_, err := pool.Acquire(context.Background(), "acct")
	assert.Error(t, err)

	lease, err := pool.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	assert.NoError(t, lease.Release(true))
}

func Test_Pool_CloseTearsDownIdle(t *testing.T) {
	t.Parallel()

	var opened atomic.Int32
	pool := newPool(&opened)

	lease, err := pool.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	s := lease.Session()
	assert.NoError(t, lease.Release(true))

	assert.NoError(t, pool.Close())
	assert.True(t, s.closed.Load())

	_, err = pool.Acquire(context.Background(), "acct")
	assert.ErrorIs(t, err, session.ErrPoolClosed)
}

func Test_LoadCookies(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "cookies.json")
	require.NoError(t, os.WriteFile(good, []byte(`[{"name":"vuid","value":"abc","domain":".vimeo.com"}]`), 0o600))

	cookies, err := session.LoadCookies(good)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "/", cookies[0].Path)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"value":"abc"}]`), 0o600))
	_, err = session.LoadCookies(bad)
	assert.Error(t, err)

	_, err = session.LoadCookies(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
