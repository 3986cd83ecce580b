package invite

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/core/crypto"
	"github.com/dep2p/go-trustlink/internal/core/eventbus"
	"github.com/dep2p/go-trustlink/internal/core/identity"
	"github.com/dep2p/go-trustlink/internal/core/storage/memory"
	"github.com/dep2p/go-trustlink/internal/util/retry"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// fastLookup 测试使用的短退避
var fastLookup = retry.Policy{Attempts: 2, Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond}

func newService(t *testing.T, nick string, store interfaces.TrustStore, clk clock.Clock, bus interfaces.EventBus, opts ...Option) *Service {
	t.Helper()
	id, err := identity.Generate(nick)
	require.NoError(t, err)

	opts = append([]Option{WithLookupPolicy(fastLookup)}, opts...)
	s, err := New(id, store, crypto.NewService(), clk, nil, bus, opts...)
	require.NoError(t, err)
	return s
}

func readPublic(t *testing.T, store interfaces.TrustStore, id string) *types.Invite {
	t.Helper()
	data, err := store.GetOnce(context.Background(), publicInvitePath(id))
	require.NoError(t, err)
	var inv types.Invite
	require.NoError(t, json.Unmarshal(data, &inv))
	return &inv
}

func TestGenerateInvite(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewMock()
	alice := newService(t, "alice", store, clk, nil)

	inv, err := alice.GenerateInvite(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, alice.self.ID(), inv.IssuerID)
	assert.Equal(t, "alice", inv.IssuerNickname)
	assert.Equal(t, 24*time.Hour, inv.ExpiresAt.Sub(inv.CreatedAt))
	assert.False(t, inv.Used)
	require.NoError(t, crypto.NewService().Verify(inv.IssuerID, inv.CanonicalBytes(), inv.Signature))

	// 私有与公开副本
	_, err = store.GetOnce(ctx, privateInvitePath(inv.IssuerID, inv.ID))
	require.NoError(t, err)
	assert.Equal(t, inv.ID, readPublic(t, store, inv.ID).ID)

	list, err := alice.ListInvites(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, inv.ID, list[0].ID)

	other, err := alice.GenerateInvite(ctx, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, inv.ID, other.ID)
	assert.Equal(t, time.Hour, other.ExpiresAt.Sub(other.CreatedAt))
}

func TestAcceptInvite_Success(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewMock()
	alice := newService(t, "alice", store, clk, nil)
	bob := newService(t, "bob", store, clk, nil)

	inv, err := alice.GenerateInvite(ctx, 0)
	require.NoError(t, err)

	clk.Add(time.Hour)
	rec, err := bob.AcceptInvite(ctx, inv.ID)
	require.NoError(t, err)

	assert.True(t, rec.Involves(alice.self.ID()))
	assert.True(t, rec.Involves(bob.self.ID()))
	assert.Equal(t, types.ConversationID(alice.self.ID(), bob.self.ID()), rec.ConversationID)
	peer, enc, ok := rec.Peer(bob.self.ID())
	require.True(t, ok)
	assert.Equal(t, alice.self.ID(), peer)
	assert.Equal(t, alice.self.EncryptionKey(), enc)

	pub := readPublic(t, store, inv.ID)
	assert.True(t, pub.Used)
	assert.Equal(t, bob.self.ID(), pub.UsedBy)

	// 双方都能看到同一条信任记录
	for _, s := range []*Service{alice, bob} {
		other := alice.self.ID()
		if s == alice {
			other = bob.self.ID()
		}
		trusted, err := s.IsTrusted(ctx, other)
		require.NoError(t, err)
		assert.True(t, trusted)
	}
}

func TestAcceptInvite_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("已被他人使用", func(t *testing.T) {
		store := memory.New()
		clk := clock.NewMock()
		alice := newService(t, "alice", store, clk, nil)
		bob := newService(t, "bob", store, clk, nil)
		carol := newService(t, "carol", store, clk, nil)

		inv, err := alice.GenerateInvite(ctx, 0)
		require.NoError(t, err)
		_, err = bob.AcceptInvite(ctx, inv.ID)
		require.NoError(t, err)

		_, err = carol.AcceptInvite(ctx, inv.ID)
		assert.ErrorIs(t, err, types.ErrAlreadyUsed)
		trusted, err := carol.IsTrusted(ctx, alice.self.ID())
		require.NoError(t, err)
		assert.False(t, trusted)
	})

	t.Run("已过期", func(t *testing.T) {
		store := memory.New()
		clk := clock.NewMock()
		alice := newService(t, "alice", store, clk, nil)
		bob := newService(t, "bob", store, clk, nil)

		inv, err := alice.GenerateInvite(ctx, 24*time.Hour)
		require.NoError(t, err)

		clk.Add(25 * time.Hour)
		_, err = bob.AcceptInvite(ctx, inv.ID)
		assert.ErrorIs(t, err, types.ErrExpired)
		assert.False(t, readPublic(t, store, inv.ID).Used)
	})

	t.Run("自邀请", func(t *testing.T) {
		store := memory.New()
		alice := newService(t, "alice", store, clock.NewMock(), nil)

		inv, err := alice.GenerateInvite(ctx, 0)
		require.NoError(t, err)
		_, err = alice.AcceptInvite(ctx, inv.ID)
		assert.ErrorIs(t, err, types.ErrSelfInvite)
	})

	t.Run("不存在", func(t *testing.T) {
		bob := newService(t, "bob", memory.New(), clock.NewMock(), nil)
		_, err := bob.AcceptInvite(ctx, "missing")
		assert.ErrorIs(t, err, types.ErrNotFound)
		assert.Equal(t, types.ClassTransient, types.ClassOf(err))
	})
}

func TestAcceptInvite_Blocked(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		blocker func(alice, bob *Service) (*Service, string)
	}{
		{"签发方屏蔽接受方", func(alice, bob *Service) (*Service, string) { return alice, bob.self.ID() }},
		{"接受方屏蔽签发方", func(alice, bob *Service) (*Service, string) { return bob, alice.self.ID() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			clk := clock.NewMock()
			alice := newService(t, "alice", store, clk, nil)
			bob := newService(t, "bob", store, clk, nil)

			s, target := tt.blocker(alice, bob)
			require.NoError(t, s.Block(ctx, target))

			inv, err := alice.GenerateInvite(ctx, 0)
			require.NoError(t, err)
			_, err = bob.AcceptInvite(ctx, inv.ID)
			assert.ErrorIs(t, err, types.ErrBlocked)

			blocked, err := alice.IsBlocked(ctx, bob.self.ID())
			require.NoError(t, err)
			assert.True(t, blocked)

			require.NoError(t, s.Unblock(ctx, target))
			_, err = bob.AcceptInvite(ctx, inv.ID)
			assert.NoError(t, err)
		})
	}
}

func TestAcceptInvite_SignaturePolicy(t *testing.T) {
	ctx := context.Background()

	tamper := func(t *testing.T, store interfaces.TrustStore, id string) {
		inv := readPublic(t, store, id)
		inv.IssuerNickname = "mallory"
		data, err := json.Marshal(inv)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, publicInvitePath(id), data))
	}

	t.Run("拒绝", func(t *testing.T) {
		store := memory.New()
		clk := clock.NewMock()
		alice := newService(t, "alice", store, clk, nil)
		bob := newService(t, "bob", store, clk, nil)

		inv, err := alice.GenerateInvite(ctx, 0)
		require.NoError(t, err)
		tamper(t, store, inv.ID)

		_, err = bob.AcceptInvite(ctx, inv.ID)
		assert.ErrorIs(t, err, types.ErrSignatureInvalid)
		assert.False(t, readPublic(t, store, inv.ID).Used)
	})

	t.Run("告警", func(t *testing.T) {
		store := memory.New()
		clk := clock.NewMock()
		alice := newService(t, "alice", store, clk, nil)
		bob := newService(t, "bob", store, clk, nil, WithSignaturePolicy(config.SignatureWarn))

		inv, err := alice.GenerateInvite(ctx, 0)
		require.NoError(t, err)
		tamper(t, store, inv.ID)

		_, err = bob.AcceptInvite(ctx, inv.ID)
		assert.NoError(t, err)
	})
}

func TestAcceptInvite_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewMock()
	alice := newService(t, "alice", store, clk, nil)
	bob := newService(t, "bob", store, clk, nil)

	inv, err := alice.GenerateInvite(ctx, 0)
	require.NoError(t, err)

	first, err := bob.AcceptInvite(ctx, inv.ID)
	require.NoError(t, err)
	clk.Add(time.Minute)
	second, err := bob.AcceptInvite(ctx, inv.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Key(), second.Key())
	assert.True(t, first.EstablishedAt.Equal(second.EstablishedAt))
}

func TestAcceptInvite_ConcurrentIssuerTrustsOne(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewMock()
	alice := newService(t, "alice", store, clk, nil)

	inv, err := alice.GenerateInvite(ctx, 0)
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	peers := make([]*Service, n)
	for i := range peers {
		peers[i] = newService(t, "peer", store, clk, nil)
	}
	for _, s := range peers {
		wg.Add(1)
		go func(s *Service) {
			defer wg.Done()
			_, err := s.AcceptInvite(ctx, inv.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			assert.ErrorIs(t, err, types.ErrAlreadyUsed)
		}(s)
	}
	wg.Wait()
	assert.GreaterOrEqual(t, winners, 1)

	// 存储无锁，跨会话可能多方同时写入；签发方只信任公开副本记录的那一方
	usedBy := readPublic(t, store, inv.ID).UsedBy
	trusted := 0
	for _, s := range peers {
		ok, err := alice.IsTrusted(ctx, s.self.ID())
		require.NoError(t, err)
		if ok {
			trusted++
			assert.Equal(t, usedBy, s.self.ID())
		}
	}
	assert.Equal(t, 1, trusted)
}

func TestAcceptInvite_LocksPerService(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewMock()
	alice := newService(t, "alice", store, clk, nil)
	bob := newService(t, "bob", store, clk, nil)
	carol := newService(t, "carol", store, clk, nil)
	assert.NotSame(t, bob.locks, carol.locks)

	inv, err := alice.GenerateInvite(ctx, 0)
	require.NoError(t, err)

	// 另一个会话持有同一邀请的锁不影响本会话
	unlock := carol.locks.Lock(inv.ID)
	defer unlock()

	done := make(chan error, 1)
	go func() {
		_, err := bob.AcceptInvite(ctx, inv.ID)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("接受邀请被其他会话的锁阻塞")
	}
}

// failMarkUsed 拒绝把公开邀请标记为已使用的写入
type failMarkUsed struct {
	interfaces.TrustStore
}

func (f *failMarkUsed) Put(ctx context.Context, path string, value []byte) error {
	if strings.HasPrefix(path, publicInvites+"/") {
		var inv types.Invite
		if json.Unmarshal(value, &inv) == nil && inv.Used {
			return errors.New("write rejected")
		}
	}
	return f.TrustStore.Put(ctx, path, value)
}

func TestAcceptInvite_TrustWrittenBeforeUsed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewMock()
	alice := newService(t, "alice", store, clk, nil)
	bob := newService(t, "bob", &failMarkUsed{TrustStore: store}, clk, nil)

	inv, err := alice.GenerateInvite(ctx, 0)
	require.NoError(t, err)

	_, err = bob.AcceptInvite(ctx, inv.ID)
	require.Error(t, err)

	// 信任记录已落盘，邀请仍未使用
	_, err = store.GetOnce(ctx, trustPath(alice.self.ID(), bob.self.ID()))
	require.NoError(t, err)
	assert.False(t, readPublic(t, store, inv.ID).Used)

	trusted, err := bob.IsTrusted(ctx, alice.self.ID())
	require.NoError(t, err)
	assert.True(t, trusted)

	// 存储恢复后重试完成标记
	retried, err := New(bob.self, store, crypto.NewService(), clk, nil, nil, WithLookupPolicy(fastLookup))
	require.NoError(t, err)
	_, err = retried.AcceptInvite(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.self.ID(), readPublic(t, store, inv.ID).UsedBy)
}

func putJSON(t *testing.T, store interfaces.TrustStore, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), path, data))
}

func TestTrust_RejectsForgedRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("无签名记录", func(t *testing.T) {
		store := memory.New()
		clk := clock.NewMock()
		alice := newService(t, "alice", store, clk, nil)
		mallory := newService(t, "mallory", store, clk, nil)

		rec := types.NewTrustRecord(mallory.self.ID(), mallory.self.EncryptionKey(), alice.self.ID(), alice.self.EncryptionKey(), clk.Now())
		putJSON(t, store, trustPath(mallory.self.ID(), alice.self.ID()), rec)

		trusted, err := alice.IsTrusted(ctx, mallory.self.ID())
		require.NoError(t, err)
		assert.False(t, trusted)
		_, err = alice.Trust(ctx, mallory.self.ID())
		assert.ErrorIs(t, err, ErrUnverifiedTrust)
	})

	t.Run("冒充签发方的邀请", func(t *testing.T) {
		store := memory.New()
		clk := clock.NewMock()
		alice := newService(t, "alice", store, clk, nil)
		mallory := newService(t, "mallory", store, clk, nil)

		fake := &types.Invite{
			ID:                  "fake",
			IssuerID:            alice.self.ID(),
			IssuerEncryptionKey: alice.self.EncryptionKey(),
			CreatedAt:           clk.Now(),
			ExpiresAt:           clk.Now().Add(time.Hour),
		}
		fake.Signature, _ = crypto.NewService().Sign(mallory.self, fake.CanonicalBytes())
		rec, err := mallory.signTrust(fake, clk.Now())
		require.NoError(t, err)
		putJSON(t, store, trustPath(mallory.self.ID(), alice.self.ID()), rec)

		trusted, err := alice.IsTrusted(ctx, mallory.self.ID())
		require.NoError(t, err)
		assert.False(t, trusted)
	})

	t.Run("重放他人已使用的邀请", func(t *testing.T) {
		store := memory.New()
		clk := clock.NewMock()
		alice := newService(t, "alice", store, clk, nil)
		bob := newService(t, "bob", store, clk, nil)
		mallory := newService(t, "mallory", store, clk, nil)

		inv, err := alice.GenerateInvite(ctx, 0)
		require.NoError(t, err)
		legit, err := bob.AcceptInvite(ctx, inv.ID)
		require.NoError(t, err)

		rec, err := mallory.signTrust(legit.Invite, clk.Now())
		require.NoError(t, err)
		putJSON(t, store, trustPath(mallory.self.ID(), alice.self.ID()), rec)

		trusted, err := alice.IsTrusted(ctx, mallory.self.ID())
		require.NoError(t, err)
		assert.False(t, trusted)
		trusted, err = alice.IsTrusted(ctx, bob.self.ID())
		require.NoError(t, err)
		assert.True(t, trusted)
	})

	t.Run("篡改已签名记录", func(t *testing.T) {
		store := memory.New()
		clk := clock.NewMock()
		alice := newService(t, "alice", store, clk, nil)
		bob := newService(t, "bob", store, clk, nil)

		inv, err := alice.GenerateInvite(ctx, 0)
		require.NoError(t, err)
		rec, err := bob.AcceptInvite(ctx, inv.ID)
		require.NoError(t, err)

		rec.EstablishedAt = rec.EstablishedAt.Add(-time.Hour)
		putJSON(t, store, trustPath(alice.self.ID(), bob.self.ID()), rec)

		for _, s := range []*Service{alice, bob} {
			other := alice.self.ID()
			if s == alice {
				other = bob.self.ID()
			}
			trusted, err := s.IsTrusted(ctx, other)
			require.NoError(t, err)
			assert.False(t, trusted)
		}
	})

	t.Run("接受时覆盖预置的伪造记录", func(t *testing.T) {
		store := memory.New()
		clk := clock.NewMock()
		alice := newService(t, "alice", store, clk, nil)
		bob := newService(t, "bob", store, clk, nil)

		rec := types.NewTrustRecord(alice.self.ID(), "x", bob.self.ID(), "y", clk.Now())
		putJSON(t, store, trustPath(alice.self.ID(), bob.self.ID()), rec)

		inv, err := alice.GenerateInvite(ctx, 0)
		require.NoError(t, err)
		_, err = bob.AcceptInvite(ctx, inv.ID)
		require.NoError(t, err)

		trusted, err := alice.IsTrusted(ctx, bob.self.ID())
		require.NoError(t, err)
		assert.True(t, trusted)
	})
}

func TestIsBlocked_IgnoresForgedMarker(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewMock()
	alice := newService(t, "alice", store, clk, nil)
	bob := newService(t, "bob", store, clk, nil)

	// 第三方以 alice 名义写入未签名的屏蔽标记
	putJSON(t, store, blockPath(alice.self.ID(), bob.self.ID()), blockEntry{
		Owner:     alice.self.ID(),
		Peer:      bob.self.ID(),
		BlockedAt: clk.Now(),
	})

	blocked, err := bob.IsBlocked(ctx, alice.self.ID())
	require.NoError(t, err)
	assert.False(t, blocked)

	inv, err := alice.GenerateInvite(ctx, 0)
	require.NoError(t, err)
	_, err = bob.AcceptInvite(ctx, inv.ID)
	assert.NoError(t, err)

	// 本人签名的标记生效
	require.NoError(t, alice.Block(ctx, bob.self.ID()))
	blocked, err = bob.IsBlocked(ctx, alice.self.ID())
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestAcceptInvite_ReplicationLag(t *testing.T) {
	ctx := context.Background()
	// 复制延迟依赖真实时钟推进
	store := memory.New(memory.WithReplicationLag(50 * time.Millisecond))
	defer store.Close()

	clk := clock.New()
	alice := newService(t, "alice", store, clk, nil)
	bob := newService(t, "bob", store, clk, nil, WithLookupPolicy(retry.Policy{
		Attempts: 10,
		Initial:  10 * time.Millisecond,
		Max:      40 * time.Millisecond,
	}))

	inv, err := alice.GenerateInvite(ctx, 0)
	require.NoError(t, err)

	rec, err := bob.AcceptInvite(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, rec.Involves(alice.self.ID()))
}

func TestGenerateInvite_RateLimit(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewMock()
	alice := newService(t, "alice", store, clk, nil, WithRateLimit(3, time.Hour))

	for i := 0; i < 3; i++ {
		_, err := alice.GenerateInvite(ctx, 0)
		require.NoError(t, err)
	}
	before := store.Len()

	_, err := alice.GenerateInvite(ctx, 0)
	assert.ErrorIs(t, err, types.ErrRateLimitExceeded)
	assert.Equal(t, before, store.Len(), "超限时不应写入")

	// 窗口未过去之前一直受限
	for _, step := range []time.Duration{20 * time.Minute, 20 * time.Minute, 19 * time.Minute} {
		clk.Add(step)
		_, err = alice.GenerateInvite(ctx, 0)
		assert.ErrorIs(t, err, types.ErrRateLimitExceeded)
	}
	assert.Equal(t, before, store.Len())

	clk.Add(time.Minute)
	_, err = alice.GenerateInvite(ctx, 0)
	assert.NoError(t, err)
}

func TestWatchAccepted(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewMock()
	bus := eventbus.NewBus()

	alice := newService(t, "alice", store, clk, bus)
	bob := newService(t, "bob", store, clk, nil)

	sub, err := bus.Subscribe(new(types.InviteAcceptedEvent))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, alice.Start(ctx))
	defer alice.Stop()
	assert.ErrorIs(t, alice.Start(ctx), ErrAlreadyStarted)

	inv, err := alice.GenerateInvite(ctx, 0)
	require.NoError(t, err)
	_, err = bob.AcceptInvite(ctx, inv.ID)
	require.NoError(t, err)

	select {
	case e := <-sub.Out():
		ev := e.(types.InviteAcceptedEvent)
		assert.Equal(t, inv.ID, ev.InviteID)
		assert.Equal(t, bob.self.ID(), ev.Accepter)
		require.NotNil(t, ev.Record)
		assert.True(t, ev.Record.Involves(alice.self.ID()))
	case <-time.After(2 * time.Second):
		t.Fatal("未收到邀请接受事件")
	}

	assert.Eventually(t, func() bool {
		list, _ := alice.ListInvites(ctx)
		return len(list) == 1 && list[0].Used && list[0].UsedBy == bob.self.ID()
	}, 2*time.Second, 10*time.Millisecond)

	// 私有副本同步为已使用
	assert.Eventually(t, func() bool {
		data, err := store.GetOnce(ctx, privateInvitePath(alice.self.ID(), inv.ID))
		if err != nil {
			return false
		}
		var priv types.Invite
		return json.Unmarshal(data, &priv) == nil && priv.Used
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListInvites_LoadedOnStart(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewMock()

	id, err := identity.Generate("alice")
	require.NoError(t, err)
	first, err := New(id, store, crypto.NewService(), clk, nil, nil)
	require.NoError(t, err)
	inv, err := first.GenerateInvite(ctx, 0)
	require.NoError(t, err)

	// 同一身份的新实例从存储恢复已签发邀请
	second, err := New(id, store, crypto.NewService(), clk, nil, nil)
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	defer second.Stop()

	assert.Eventually(t, func() bool {
		list, _ := second.ListInvites(ctx)
		return len(list) == 1 && list[0].ID == inv.ID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew_InvalidArgs(t *testing.T) {
	id, err := identity.Generate("alice")
	require.NoError(t, err)

	_, err = New(nil, memory.New(), crypto.NewService(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilIdentity)
	_, err = New(id, nil, crypto.NewService(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilStore)
}
