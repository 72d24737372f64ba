package log

import "github.com/cyclopcam/logs"

// PrefixLogger writes to the underlying log, with every message prefixed by a fixed string
type PrefixLogger struct {
	Log    logs.Log
	Prefix string
}

// Create a new PrefixLogger. A space is inserted between 'prefix' and the message.
// If log is nil, messages are discarded.
func NewPrefixLogger(log logs.Log, prefix string) *PrefixLogger {
	return &PrefixLogger{
		Log:    log,
		Prefix: prefix + " ",
	}
}

func (l *PrefixLogger) Close() {
	if l.Log != nil {
		l.Log.Close()
	}
}

func (l *PrefixLogger) Debugf(format string, a ...interface{}) {
	if l.Log != nil {
		l.Log.Debugf(l.Prefix+format, a...)
	}
}

func (l *PrefixLogger) Infof(format string, a ...interface{}) {
	if l.Log != nil {
		l.Log.Infof(l.Prefix+format, a...)
	}
}

func (l *PrefixLogger) Warnf(format string, a ...interface{}) {
	if l.Log != nil {
		l.Log.Warnf(l.Prefix+format, a...)
	}
}

func (l *PrefixLogger) Errorf(format string, a ...interface{}) {
	if l.Log != nil {
		l.Log.Errorf(l.Prefix+format, a...)
	}
}

func (l *PrefixLogger) Criticalf(format string, a ...interface{}) {
	if l.Log != nil {
		l.Log.Criticalf(l.Prefix+format, a...)
	}
}
