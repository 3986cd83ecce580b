package webrtc

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/dep2p/go-trustlink/pkg/lib/log"
)

// loggerFactory 将 pion 日志转发到 slog
//
// pion 的 Info 级别输出较多，统一降为 Debug。
type loggerFactory struct{}

var _ logging.LoggerFactory = loggerFactory{}

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{l: log.Logger("pion/" + scope)}
}

type leveledLogger struct {
	l *log.LazyLogger
}

func (p *leveledLogger) Trace(msg string) {}

func (p *leveledLogger) Tracef(format string, args ...interface{}) {}

func (p *leveledLogger) Debug(msg string) { p.l.Debug(msg) }

func (p *leveledLogger) Debugf(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...))
}

func (p *leveledLogger) Info(msg string) { p.l.Debug(msg) }

func (p *leveledLogger) Infof(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...))
}

func (p *leveledLogger) Warn(msg string) { p.l.Warn(msg) }

func (p *leveledLogger) Warnf(format string, args ...interface{}) {
	p.l.Warn(fmt.Sprintf(format, args...))
}

func (p *leveledLogger) Error(msg string) { p.l.Error(msg) }

func (p *leveledLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(fmt.Sprintf(format, args...))
}
