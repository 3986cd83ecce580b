package invite

import (
	"strings"

	"github.com/mr-tron/base58"
)

// linkFragment 链接中邀请 ID 前的片段
const linkFragment = "#/invite/"

// Link 生成带外分享的邀请链接
//
// 形如 trustlink://app#/invite/<id>。
func Link(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + linkFragment + id
}

// ParseLink 从链接或裸 ID 中解析邀请 ID
func ParseLink(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, linkFragment); i >= 0 {
		s = s[i+len(linkFragment):]
	}
	if j := strings.IndexAny(s, "?&/"); j >= 0 {
		s = s[:j]
	}
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != inviteIDSize {
		return "", ErrInvalidLink
	}
	return s, nil
}
