package gst

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DebugLevel is the verbosity of a debug category.
type DebugLevel int32

const (
	LevelNone DebugLevel = iota
	LevelError
	LevelWarning
	LevelFixme
	LevelInfo
	LevelDebug
	LevelLog
	LevelTrace
)

func (l DebugLevel) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARN"
	case LevelFixme:
		return "FIXME"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelLog:
		return "LOG"
	case LevelTrace:
		return "TRACE"
	default:
		return "unknown"
	}
}

func (l DebugLevel) logrusLevel() logrus.Level {
	switch l {
	case LevelError:
		return logrus.ErrorLevel
	case LevelWarning, LevelFixme:
		return logrus.WarnLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

var (
	loggerMu sync.RWMutex
	logger   = newDefaultLogger()
)

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.TraceLevel)
	return l
}

// Logger returns the logger every debug category writes to.
func Logger() *logrus.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the logger every debug category writes to.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = newDefaultLogger()
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// DebugCategory groups log output of one subsystem under a name with its own threshold.
type DebugCategory struct {
	name        string
	description string
	threshold   atomic.Int32
}

var categories = struct {
	sync.RWMutex
	byName   map[string]*DebugCategory
	patterns []thresholdPattern
	def      DebugLevel
}{byName: make(map[string]*DebugCategory), def: LevelWarning}

type thresholdPattern struct {
	glob  string
	level DebugLevel
}

// NewDebugCategory returns the category with the given name, creating it if needed.
func NewDebugCategory(name, description string) *DebugCategory {
	categories.Lock()
	defer categories.Unlock()
	if c, ok := categories.byName[name]; ok {
		return c
	}
	c := &DebugCategory{name: name, description: description}
	c.threshold.Store(int32(thresholdFor(name)))
	categories.byName[name] = c
	return c
}

// thresholdFor must be called with categories locked.
func thresholdFor(name string) DebugLevel {
	level := categories.def
	for _, p := range categories.patterns {
		if ok, _ := path.Match(p.glob, name); ok {
			level = p.level
		}
	}
	return level
}

// DebugCategories returns all registered categories.
func DebugCategories() []*DebugCategory {
	categories.RLock()
	defer categories.RUnlock()
	out := make([]*DebugCategory, 0, len(categories.byName))
	for _, c := range categories.byName {
		out = append(out, c)
	}
	return out
}

// SetDebugThresholdFromString applies a GST_DEBUG style string such as
// "*:2,pad:5". When reset is true previously applied patterns are dropped.
func SetDebugThresholdFromString(spec string, reset bool) error {
	var patterns []thresholdPattern
	def := DebugLevel(-1)
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		glob, lvl, found := strings.Cut(item, ":")
		if !found {
			lvl, glob = glob, "*"
		}
		level, err := parseDebugLevel(lvl)
		if err != nil {
			return fmt.Errorf("invalid debug spec %q: %w", item, err)
		}
		if glob == "*" {
			def = level
			continue
		}
		patterns = append(patterns, thresholdPattern{glob: glob, level: level})
	}

	categories.Lock()
	defer categories.Unlock()
	if reset {
		categories.patterns = nil
		categories.def = LevelWarning
	}
	if def >= 0 {
		categories.def = def
	}
	categories.patterns = append(categories.patterns, patterns...)
	for name, c := range categories.byName {
		c.threshold.Store(int32(thresholdFor(name)))
	}
	return nil
}

func parseDebugLevel(s string) (DebugLevel, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < int(LevelNone) || n > int(LevelTrace) {
			return 0, fmt.Errorf("level %d out of range", n)
		}
		return DebugLevel(n), nil
	}
	for l := LevelNone; l <= LevelTrace; l++ {
		if strings.EqualFold(l.String(), s) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// Name returns the category name.
func (c *DebugCategory) Name() string { return c.name }

// Description returns the category description.
func (c *DebugCategory) Description() string { return c.description }

// Threshold returns the current threshold.
func (c *DebugCategory) Threshold() DebugLevel { return DebugLevel(c.threshold.Load()) }

// SetThreshold overrides the threshold of this category only.
func (c *DebugCategory) SetThreshold(l DebugLevel) { c.threshold.Store(int32(l)) }

// Enabled reports whether messages at level l are emitted.
func (c *DebugCategory) Enabled(l DebugLevel) bool {
	return l != LevelNone && l <= c.Threshold()
}

func (c *DebugCategory) entry(obj any) *logrus.Entry {
	e := Logger().WithField("category", c.name)
	if obj != nil {
		e = e.WithField("object", debugObjectName(obj))
	}
	return e
}

func (c *DebugCategory) log(l DebugLevel, obj any, format string, args ...any) {
	if !c.Enabled(l) {
		return
	}
	c.entry(obj).Logf(l.logrusLevel(), format, args...)
}

func (c *DebugCategory) Error(obj any, format string, args ...any) {
	c.log(LevelError, obj, format, args...)
}

func (c *DebugCategory) Warning(obj any, format string, args ...any) {
	c.log(LevelWarning, obj, format, args...)
}

func (c *DebugCategory) Fixme(obj any, format string, args ...any) {
	c.log(LevelFixme, obj, format, args...)
}

func (c *DebugCategory) Info(obj any, format string, args ...any) {
	c.log(LevelInfo, obj, format, args...)
}

func (c *DebugCategory) Debug(obj any, format string, args ...any) {
	c.log(LevelDebug, obj, format, args...)
}

func (c *DebugCategory) Log(obj any, format string, args ...any) {
	c.log(LevelLog, obj, format, args...)
}

func (c *DebugCategory) Trace(obj any, format string, args ...any) {
	c.log(LevelTrace, obj, format, args...)
}

// WithFields returns a logrus entry scoped to this category and object for
// callers that want structured fields.
func (c *DebugCategory) WithFields(obj any, fields logrus.Fields) *logrus.Entry {
	return c.entry(obj).WithFields(fields)
}

type debugNamer interface {
	PathString() string
}

func debugObjectName(obj any) string {
	switch o := obj.(type) {
	case debugNamer:
		return o.PathString()
	case fmt.Stringer:
		return o.String()
	default:
		return fmt.Sprintf("%T", obj)
	}
}

// Categories used by the core.
var (
	catDefault    = NewDebugCategory("default", "default category")
	catMiniObject = NewDebugCategory("miniobject", "refcounted value types")
	catPads       = NewDebugCategory("pad", "pads and dataflow")
	catProbes     = NewDebugCategory("probe", "pad probes")
	catElement    = NewDebugCategory("element", "elements and state changes")
	catBus        = NewDebugCategory("bus", "message bus")
	catClock      = NewDebugCategory("clock", "clocks")
	catTask       = NewDebugCategory("task", "streaming tasks and task pools")
	catRegistry   = NewDebugCategory("registry", "plugin registry")
	catPromise    = NewDebugCategory("promise", "promises")
	catPool       = NewDebugCategory("bufferpool", "buffer pools")
	catTracer     = NewDebugCategory("tracer", "tracing subsystem")
	catMeta       = NewDebugCategory("meta", "buffer metadata")
	catCaps       = NewDebugCategory("caps", "caps negotiation")
)
