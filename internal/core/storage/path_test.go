package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{"顶层键", "presence", true},
		{"私有命名空间", "~abc/invites/x", true},
		{"信任键", "trust/a:b", true},
		{"空路径", "", false},
		{"前导斜杠", "/trust", false},
		{"尾随斜杠", "trust/", false},
		{"空段", "trust//a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPath)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	parent, key := Split("mailbox/bob/n1")
	assert.Equal(t, "mailbox/bob", parent)
	assert.Equal(t, "n1", key)

	parent, key = Split("presence")
	assert.Equal(t, "", parent)
	assert.Equal(t, "presence", key)

	assert.Equal(t, "~a/blocked/b", Join("~a", "blocked", "b"))
}
