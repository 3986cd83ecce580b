package invite

import (
	"sort"

	"github.com/dep2p/go-trustlink/pkg/types"
)

func sortInvites(list []*types.Invite) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
