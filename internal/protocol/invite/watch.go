package invite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// Start 加载已签发的邀请并开始监听接受事件
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ctx := s.ctx
	s.started = true
	s.mu.Unlock()

	own, err := s.store.SubscribeMap(ctx, privateInvitesPath(s.self.ID()))
	if err != nil {
		s.cancel()
		return fmt.Errorf("invite: subscribe own invites: %w", err)
	}
	public, err := s.store.SubscribeMap(ctx, publicInvites)
	if err != nil {
		_ = own.Close()
		s.cancel()
		return fmt.Errorf("invite: subscribe public invites: %w", err)
	}

	s.wg.Add(2)
	go s.watchLoop(own, s.handleOwn)
	go s.watchLoop(public, s.handlePublic)

	logger.Debug("邀请服务已启动", "issuer", log.TruncateID(s.self.ID(), 8))
	return nil
}

// Stop 停止监听
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	if s.accepted != nil {
		_ = s.accepted.Close()
	}
	return nil
}

func (s *Service) watchLoop(sub interfaces.StoreSubscription, handle func(interfaces.StoreEvent)) {
	defer s.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Deleted {
				continue
			}
			handle(ev)
		}
	}
}

// handleOwn 同步私有命名空间中的邀请到本地缓存
func (s *Service) handleOwn(ev interfaces.StoreEvent) {
	var inv types.Invite
	if err := json.Unmarshal(ev.Value, &inv); err != nil || inv.Validate() != nil {
		logger.Debug("忽略无效的私有邀请", "path", ev.Path)
		return
	}
	if inv.IssuerID != s.self.ID() {
		return
	}

	s.mu.Lock()
	// Used 单调：缓存中已使用的记录不会被旧值覆盖
	if cur, ok := s.issued[inv.ID]; !ok || !cur.Used {
		s.issued[inv.ID] = &inv
	}
	s.mu.Unlock()
}

// handlePublic 发现自己签发的邀请被接受
func (s *Service) handlePublic(ev interfaces.StoreEvent) {
	var inv types.Invite
	if err := json.Unmarshal(ev.Value, &inv); err != nil || inv.Validate() != nil {
		return
	}
	if inv.IssuerID != s.self.ID() || !inv.Used {
		return
	}

	s.mu.Lock()
	cur, known := s.issued[inv.ID]
	if known && cur.Used {
		s.mu.Unlock()
		return
	}
	if !known {
		// 启动回放中的历史记录，只更新缓存
		s.issued[inv.ID] = &inv
		s.mu.Unlock()
		return
	}
	c := *cur
	c.Used, c.UsedBy, c.UsedAt = true, inv.UsedBy, inv.UsedAt
	updated := &c
	s.issued[inv.ID] = updated
	s.mu.Unlock()

	ctx := s.ctx
	if data, err := json.Marshal(updated); err == nil {
		if err := s.store.Put(ctx, privateInvitePath(s.self.ID(), inv.ID), data); err != nil {
			logger.Warn("同步私有邀请失败", "inviteID", inv.ID, "error", err)
		}
	}

	rec, err := s.Trust(ctx, inv.UsedBy)
	if err != nil {
		// 信任记录可能尚未复制，事件仍然发出，Record 为空
		logger.Debug("读取信任记录失败", "peer", log.TruncateID(inv.UsedBy, 8), "error", err)
	}

	logger.Info("邀请已被接受", "inviteID", inv.ID, "accepter", log.TruncateID(inv.UsedBy, 8))
	if s.accepted != nil {
		if err := s.accepted.Emit(types.InviteAcceptedEvent{
			InviteID: inv.ID,
			Accepter: inv.UsedBy,
			Record:   rec,
		}); err != nil {
			logger.Debug("发布邀请接受事件失败", "error", err)
		}
	}
}
