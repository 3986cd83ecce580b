package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	return s, dir
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	s, dir := openTemp(t)

	require.NoError(t, s.Put(ctx, "trust/a:b", []byte(`{"partyA":"a"}`)))
	require.NoError(t, s.Close())

	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	v, err := s.GetOnce(ctx, "trust/a:b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"partyA":"a"}`, string(v))

	require.NoError(t, s.Delete(ctx, "trust/a:b"))
	_, err = s.GetOnce(ctx, "trust/a:b")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStore_SubscribeMap(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "presence/alice", []byte("1")))
	require.NoError(t, s.Put(ctx, "presence/alice/extra", []byte("x")))
	require.NoError(t, s.Put(ctx, "presenceX/bob", []byte("y")))

	sub, err := s.SubscribeMap(ctx, "presence")
	require.NoError(t, err)
	defer sub.Close()

	next := func() interfaces.StoreEvent {
		select {
		case ev := <-sub.Events():
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("等待事件超时")
		}
		return interfaces.StoreEvent{}
	}

	ev := next()
	assert.Equal(t, "alice", ev.Key)
	assert.Equal(t, "1", string(ev.Value))

	require.NoError(t, s.Put(ctx, "presence/bob", []byte("2")))
	ev = next()
	assert.Equal(t, "bob", ev.Key)

	require.NoError(t, s.Delete(ctx, "presence/alice"))
	ev = next()
	assert.Equal(t, "alice", ev.Key)
	assert.True(t, ev.Deleted)
}
