// Package log provides the contextual, key/value structured logger used
// throughout this repository. It mirrors the module-registry pattern the
// rest of the codebase was built against: a package declares
//
//	var logger = log.NewModuleLogger(log.Stamper)
//
// once, and calls logger.Info/Warn/Error/Debug/Trace with alternating
// key/value pairs, the same shape as log.New("database", file) elsewhere.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Lvl is a logging level.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// Module names registered by packages in this repository, following the
// log.StorageDatabase / log.CmdUtils convention.
const (
	Journal       = "JOURNAL"
	CalendarStore = "CALSTORE"
	Calendar      = "CALENDAR"
	Aggregator    = "AGGREGATOR"
	Stamper       = "STAMPER"
	BitcoinRPC    = "BTCRPC"
	Backup        = "BACKUP"
	HTTPServer    = "HTTPAPI"
	CmdUtils      = "CMDUTILS"
)

// Logger is the interface every component logs through.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type logger struct {
	ctx []interface{}
}

var (
	mu     sync.Mutex
	level  = LvlInfo
	writer io.Writer = os.Stderr
)

// SetLevel sets the process-wide minimum level written.
func SetLevel(l Lvl) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects where formatted records are written; tests use this
// to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	writer = w
}

// Root returns the base logger with no bound context.
func Root() Logger {
	return &logger{}
}

// New returns a logger bound with the given key/value context pairs.
func New(ctx ...interface{}) Logger {
	return &logger{ctx: append([]interface{}{}, ctx...)}
}

// NewModuleLogger returns a logger pre-bound with module=<name>.
func NewModuleLogger(module string) Logger {
	return New("module", module)
}

func (l *logger) New(ctx ...interface{}) Logger {
	nctx := make([]interface{}, 0, len(l.ctx)+len(ctx))
	nctx = append(nctx, l.ctx...)
	nctx = append(nctx, ctx...)
	return &logger{ctx: nctx}
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > level {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	fmt.Fprintf(writer, "%s [%s] %s", ts, lvl, msg)
	all := append(append([]interface{}{}, l.ctx...), ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(writer, " %v=%v", all[i], all[i+1])
	}
	if len(all)%2 == 1 {
		fmt.Fprintf(writer, " %v=MISSING", all[len(all)-1])
	}
	fmt.Fprintln(writer)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }
