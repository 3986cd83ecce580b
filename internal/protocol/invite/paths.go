package invite

import (
	"github.com/dep2p/go-trustlink/internal/core/storage"
	"github.com/dep2p/go-trustlink/pkg/types"
)

const (
	publicInvites = "invites"
	trustRoot     = "trust"
)

// privateInvitesPath 签发方私有邀请目录
func privateInvitesPath(issuer string) string {
	return storage.Join("~"+issuer, "invites")
}

// privateInvitePath 签发方私有邀请记录
func privateInvitePath(issuer, id string) string {
	return storage.Join("~"+issuer, "invites", id)
}

// publicInvitePath 公开邀请索引
func publicInvitePath(id string) string {
	return storage.Join(publicInvites, id)
}

// trustPath 信任记录路径
func trustPath(a, b string) string {
	return storage.Join(trustRoot, types.TrustKey(a, b))
}

// blockPath 屏蔽标记路径
func blockPath(owner, other string) string {
	return storage.Join("~"+owner, "blocked", other)
}
