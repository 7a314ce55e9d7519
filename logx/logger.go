// Level-filtered, tagged log sink for the scheduler core.
//
// Formatting is externalized to logrus the same way the teacher's
// vmi/internal/logger.go does: a root logger that can be switched between
// text and JSON formatting, optionally written to a rotated file via
// lumberjack, with component sub-loggers tagging every record with a "comp"
// field and, for records originating from a task, a "task" field.

package logx

import (
	"io"
	"os"
	"path"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ConfigUseJSONDefault      = false
	ConfigLevelDefault        = "info"
	ConfigDisableSrcDefault   = false
	ConfigLogFileDefault      = "" // i.e. stderr
	ConfigLogFileMaxSizeMB    = 10
	ConfigLogFileMaxBackupNum = 1

	DefaultLevel    = logrus.InfoLevel
	TimestampFormat = time.RFC3339

	// Extra fields added to every record:
	ComponentFieldName = "comp"
	TaskFieldName      = "task"
)

// CollectableLogger wraps logrus.Logger with the accessors testutil's log
// collector needs (GetOutput/SetOutput/GetLevel/SetLevel), plus a cached
// debug-enabled flag so hot paths can skip expensive formatting.
type CollectableLogger struct {
	logrus.Logger
	IsEnabledForDebug bool
}

func (log *CollectableLogger) GetOutput() io.Writer {
	return log.Out
}

func (log *CollectableLogger) GetLevel() any { return log.Logger.GetLevel() }

func (log *CollectableLogger) SetLevel(level any) {
	if lvl, ok := level.(logrus.Level); ok {
		log.Logger.SetLevel(lvl)
		log.IsEnabledForDebug = log.IsLevelEnabled(logrus.DebugLevel)
	}
}

// Config configures the root logger; it is the LoggerConfig section of the
// top-level YAML config.
type Config struct {
	UseJSON             bool   `yaml:"use_json"`
	Level               string `yaml:"level"`
	DisableSrcFile      bool   `yaml:"disable_src_file"`
	LogFile             string `yaml:"log_file"`
	LogFileMaxSizeMB    int    `yaml:"log_file_max_size_mb"`
	LogFileMaxBackupNum int    `yaml:"log_file_max_backup_num"`
}

func DefaultConfig() *Config {
	return &Config{
		UseJSON:             ConfigUseJSONDefault,
		Level:               ConfigLevelDefault,
		DisableSrcFile:      ConfigDisableSrcDefault,
		LogFile:             ConfigLogFileDefault,
		LogFileMaxSizeMB:    ConfigLogFileMaxSizeMB,
		LogFileMaxBackupNum: ConfigLogFileMaxBackupNum,
	}
}

var textFormatter = &logrus.TextFormatter{
	DisableColors:   true,
	FullTimestamp:   true,
	TimestampFormat: TimestampFormat,
}

var jsonFormatter = &logrus.JSONFormatter{
	TimestampFormat: TimestampFormat,
}

// RootLogger is the single logger instance every component logger derives
// from, mirroring the teacher's package-level RootLogger singleton.
var RootLogger = &CollectableLogger{
	Logger: logrus.Logger{
		Out:          os.Stderr,
		Formatter:    textFormatter,
		Level:        DefaultLevel,
		ReportCaller: false,
	},
}

// Apply configures RootLogger from cfg, which may be nil (defaults apply).
func Apply(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if cfg.Level != "" {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		RootLogger.SetLevel(level)
	}

	if cfg.UseJSON {
		RootLogger.SetFormatter(jsonFormatter)
	} else {
		RootLogger.SetFormatter(textFormatter)
	}
	RootLogger.SetReportCaller(!cfg.DisableSrcFile)

	switch logFile := cfg.LogFile; logFile {
	case "stderr":
		RootLogger.SetOutput(os.Stderr)
	case "stdout":
		RootLogger.SetOutput(os.Stdout)
	case "":
		// leave as-is
	default:
		dir := path.Dir(logFile)
		if _, err := os.Stat(dir); err != nil {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return err
			}
		}
		RootLogger.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: cfg.LogFileMaxBackupNum,
		})
	}

	return nil
}

// NewCompLogger returns a sub-logger tagging every record with
// comp=compName, mirroring the teacher's per-component loggers.
func NewCompLogger(compName string) *logrus.Entry {
	return RootLogger.WithField(ComponentFieldName, compName)
}

// Level mirrors the four levels spec.md §4.6 calls out explicitly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logrus returns the logrus.Level this Level maps to, for callers (tests,
// mostly) that need to hand a concrete level to SetLevel.
func (l Level) Logrus() logrus.Level { return l.logrus() }

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Record is a level-filtered, tagged log emission; taskID is nullable (nil
// means the record did not originate from a task).
func Record(comp string, taskID *uint8, level Level, msg string) {
	entry := RootLogger.WithField(ComponentFieldName, comp)
	if taskID != nil {
		entry = entry.WithField(TaskFieldName, *taskID)
	}
	entry.Log(level.logrus(), msg)
}

// SetLevelFloor sets the minimum level the root logger will emit, the
// compile/init-time "Log-level floor" configurable option.
func SetLevelFloor(level Level) {
	RootLogger.SetLevel(level.logrus())
}
