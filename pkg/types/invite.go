package types

import (
	"encoding/json"
	"time"
)

// Invite 一次性签名邀请
//
// 不变量：
//   - ID 全局唯一（由 CSPRNG 生成）
//   - Used 只能从 false 变为 true
//   - Signature 由 IssuerID 对 CanonicalBytes() 签名
//   - ExpiresAt 晚于 CreatedAt
type Invite struct {
	ID                  string    `json:"id"`
	IssuerID            string    `json:"issuerId"`
	IssuerNickname      string    `json:"issuerNickname"`
	IssuerEncryptionKey string    `json:"issuerEncryptionKey"`
	CreatedAt           time.Time `json:"createdAt"`
	ExpiresAt           time.Time `json:"expiresAt"`
	Signature           []byte    `json:"signature"`
	Used                bool      `json:"used"`
	UsedBy              string    `json:"usedBy,omitempty"`
	UsedAt              time.Time `json:"usedAt,omitempty"`
}

// CanonicalBytes 返回签名覆盖的规范字节
//
// 规范元组为 (issuerId, nickname, createdAt, expiresAt)，时间使用 Unix 毫秒，
// 保证经过 JSON 往返后签名依然可验证。
func (inv *Invite) CanonicalBytes() []byte {
	// 数组元素均为基础类型，Marshal 不会失败
	data, _ := json.Marshal([]any{
		inv.IssuerID,
		inv.IssuerNickname,
		inv.CreatedAt.UnixMilli(),
		inv.ExpiresAt.UnixMilli(),
	})
	return data
}

// IsExpired 在 now 时刻是否已过期
func (inv *Invite) IsExpired(now time.Time) bool {
	return !now.Before(inv.ExpiresAt)
}

// Validate 校验结构字段
func (inv *Invite) Validate() error {
	if inv.ID == "" || inv.IssuerID == "" {
		return ErrInvalidInvite
	}
	if !inv.ExpiresAt.After(inv.CreatedAt) {
		return ErrInvalidInvite
	}
	if inv.Used && inv.UsedBy == "" {
		return ErrInvalidInvite
	}
	return nil
}

// TrustRecord 双方信任记录
//
// 存储键与 ConversationID 都是排序后身份对的纯函数；
// PartyA 总是字典序较小的一方。
//
// 记录携带签发方签名的邀请快照与接受方对 CanonicalBytes() 的签名，
// 读取方据此确认双方确实参与了邀请交换。
type TrustRecord struct {
	PartyA         string    `json:"partyA"`
	PartyB         string    `json:"partyB"`
	EncKeyA        string    `json:"encKeyA"`
	EncKeyB        string    `json:"encKeyB"`
	EstablishedAt  time.Time `json:"establishedAt"`
	ConversationID string    `json:"conversationId"`

	InviteID          string  `json:"inviteId,omitempty"`
	Accepter          string  `json:"accepter,omitempty"`
	Invite            *Invite `json:"invite,omitempty"`
	AccepterSignature []byte  `json:"accepterSignature,omitempty"`
}

// CanonicalBytes 返回接受方签名覆盖的规范字节
func (r *TrustRecord) CanonicalBytes() []byte {
	data, _ := json.Marshal([]any{
		r.PartyA,
		r.PartyB,
		r.EncKeyA,
		r.EncKeyB,
		r.EstablishedAt.UnixMilli(),
		r.ConversationID,
		r.InviteID,
		r.Accepter,
	})
	return data
}

// Issuer 返回签发方身份，即双方中接受方以外的一方
func (r *TrustRecord) Issuer() string {
	switch r.Accepter {
	case r.PartyA:
		return r.PartyB
	case r.PartyB:
		return r.PartyA
	default:
		return ""
	}
}

// NewTrustRecord 创建信任记录，自动按身份排序
func NewTrustRecord(a, encA, b, encB string, at time.Time) *TrustRecord {
	if a > b {
		a, b = b, a
		encA, encB = encB, encA
	}
	return &TrustRecord{
		PartyA:         a,
		PartyB:         b,
		EncKeyA:        encA,
		EncKeyB:        encB,
		EstablishedAt:  at,
		ConversationID: ConversationID(a, b),
	}
}

// Key 返回记录的存储键
func (r *TrustRecord) Key() string {
	return TrustKey(r.PartyA, r.PartyB)
}

// Involves 记录是否包含指定身份
func (r *TrustRecord) Involves(id string) bool {
	return r.PartyA == id || r.PartyB == id
}

// Peer 返回 self 的对端身份及其加密公钥
func (r *TrustRecord) Peer(self string) (id, encKey string, ok bool) {
	switch self {
	case r.PartyA:
		return r.PartyB, r.EncKeyB, true
	case r.PartyB:
		return r.PartyA, r.EncKeyA, true
	default:
		return "", "", false
	}
}
