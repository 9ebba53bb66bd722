package log

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/squareup/ksession/errors"
)

// Facility is the fixed source name attached to every diagnostic line written by a session.
const Facility = "ksession"

// Config contains the configuration for the global logger.
type Config struct {
	Format string `help:"Format to write log lines in" enum:"text,json" default:"text"`
	Level  string `help:"Lowest log level that will be emitted" enum:"trace,debug,info,warn,error" default:"info"`
	File   string `help:"File to direct logs to. If left blank, or '-', logs will go to stdout" default:"-"`
	Syslog bool   `help:"Also send log lines to the local syslog daemon, tagged with the facility name"`
}

// Configure the global logger
func (cfg *Config) Configure() error {
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.Create(cfg.File)
		if err != nil {
			return errors.WithStack(err)
		}
		log.SetOutput(f)
	}
	if cfg.Level != "" {
		level, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return errors.WithStack(err)
		}
		log.SetLevel(level)
	}
	switch cfg.Format {
	case "", "text":
		// default, do nothing
		break
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.NewInvalidConfigurationError("log format must be either text or json")
	}
	if cfg.Syslog {
		if err := addSyslogHook(); err != nil {
			return err
		}
	}
	return nil
}

// Logger writes diagnostics for one component. Lines are tagged with the facility and component fields and their
// message reads "<component> - <message>[: <error>]".
type Logger struct {
	component string
	entry     *log.Entry
}

func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		entry:     log.WithFields(log.Fields{"facility": Facility, "component": component}),
	}
}

func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) format(err error, format string, args []interface{}) string {
	msg := fmt.Sprintf("%s - %s", l.component, fmt.Sprintf(format, args...))
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return msg
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if log.IsLevelEnabled(log.DebugLevel) {
		l.entry.Debug(l.format(nil, format, args))
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry.Info(l.format(nil, format, args))
}

func (l *Logger) Warnf(err error, format string, args ...interface{}) {
	l.entry.Warn(l.format(err, format, args))
}

// Errorf logs a non-fatal failure. err may be nil.
func (l *Logger) Errorf(err error, format string, args ...interface{}) {
	l.entry.Error(l.format(err, format, args))
}
