// Collectable log, (*testing.T).Log style: when a test is not running with
// -v, its logger output is captured and only surfaced, via t.Log, if the
// test ends up failing.

package testutil

import (
	"io"
	"testing"

	"github.com/aykutozdemir/fsmos/logx"
)

type collectableLog interface {
	GetLevel() any
	SetLevel(level any)
	GetOutput() io.Writer
	SetOutput(out io.Writer)
}

type LogCollect struct {
	log        collectableLog
	savedOut   io.Writer
	savedLevel any
	t          *testing.T
}

// NewLogCollect captures logx.RootLogger's output for the duration of a
// test. Pass a logrus.Level (e.g. logx.LevelDebug.Logrus()) to additionally
// raise the level for the duration, or nil to leave it untouched.
func NewLogCollect(t *testing.T, level any) *LogCollect {
	lc := &LogCollect{t: t}
	var log collectableLog = logx.RootLogger
	lc.log = log
	if !testing.Verbose() {
		lc.savedOut = log.GetOutput()
		log.SetOutput(lc)
	}
	if level != nil {
		lc.savedLevel = log.GetLevel()
		log.SetLevel(level)
	}
	return lc
}

func (lc *LogCollect) Write(buf []byte) (int, error) {
	n := len(buf)
	if n > 0 && buf[n-1] == '\n' {
		buf = buf[:n-1]
	}
	lc.t.Log(string(buf))
	return n, nil
}

func (lc *LogCollect) Restore() {
	if lc.log == nil {
		return
	}
	if lc.savedOut != nil {
		lc.log.SetOutput(lc.savedOut)
	}
	if lc.savedLevel != nil {
		lc.log.SetLevel(lc.savedLevel)
	}
}
