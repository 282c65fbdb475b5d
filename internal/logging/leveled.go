package logging

import (
	"fmt"

	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
)

// Leveled adapts an apiclient.Logger to the key/value logger interface used by
// go-retryablehttp.
type Leveled struct {
	logger apiclient.Logger
}

// NewLeveled wraps logger. A nil logger discards everything.
func NewLeveled(logger apiclient.Logger) *Leveled {
	if logger == nil {
		logger = apiclient.NopLogger()
	}

	return &Leveled{logger: logger}
}

// Error logs at error level.
func (l *Leveled) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, pairs(keysAndValues))
}

// Info logs at info level.
func (l *Leveled) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, pairs(keysAndValues))
}

// Debug logs at debug level.
func (l *Leveled) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, pairs(keysAndValues))
}

// Warn logs at warn level.
func (l *Leveled) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, pairs(keysAndValues))
}

// pairs turns alternating keys and values into a field map. A trailing key
// without a value is kept with a nil value.
func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2+1)

	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])

		var value interface{}
		if i+1 < len(keysAndValues) {
			value = keysAndValues[i+1]
		}

		fields[key] = value
	}

	return fields
}
