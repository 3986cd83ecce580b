package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig("protocol/invite=debug, core/connmgr=warn ,error", "json")

	assert.Equal(t, slog.LevelError, cfg.DefaultLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor("protocol/invite"))
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor("core/connmgr"))
	assert.Equal(t, slog.LevelError, cfg.LevelFor("other"))
	assert.Equal(t, FormatJSON, cfg.Format)
}

func TestParseConfig_InvalidLevelIgnored(t *testing.T) {
	cfg := ParseConfig("foo=loud,verbose", "")

	assert.Equal(t, slog.LevelInfo, cfg.DefaultLevel)
	assert.Empty(t, cfg.ComponentLevels)
	assert.Equal(t, FormatText, cfg.Format)
}

func TestComponentHandler_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := ParseConfig("chatty=debug,warn", "")
	l := slog.New(NewHandler(buf, cfg))

	l.With("component", "quiet").Info("不应输出")
	assert.Empty(t, buf.String())

	l.With("component", "chatty").Debug("应该输出", "key", "value")
	require.Contains(t, buf.String(), "应该输出")
	assert.Contains(t, buf.String(), "key=value")
	assert.Contains(t, buf.String(), "component=chatty")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", TruncateID("abc", 8))
	assert.Equal(t, "abcdefgh", TruncateID("abcdefghijk", 8))
	assert.Equal(t, "", TruncateID("", 8))
}
