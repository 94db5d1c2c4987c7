package logger

import (
	"time"
)

// StageLogger logs the start and outcome of one pipeline stage with its
// elapsed time and any fields collected along the way.
type StageLogger struct {
	logger    Logger
	stage     string
	fields    Fields
	startTime time.Time
}

// NewStageLogger creates a stage logger and logs the stage start at debug.
func NewStageLogger(stage string, logger Logger) *StageLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	sl := &StageLogger{
		logger:    logger,
		stage:     stage,
		fields:    Fields{"stage": stage},
		startTime: time.Now(),
	}

	sl.logger.WithFields(sl.fields).Debug("Starting stage")
	return sl
}

// WithField adds a field reported on completion
func (sl *StageLogger) WithField(key string, value interface{}) *StageLogger {
	sl.fields[key] = value
	return sl
}

// WithFields adds multiple fields reported on completion
func (sl *StageLogger) WithFields(fields Fields) *StageLogger {
	for k, v := range fields {
		sl.fields[k] = v
	}
	return sl
}

func (sl *StageLogger) snapshot(status string) Fields {
	out := make(Fields, len(sl.fields)+2)
	for k, v := range sl.fields {
		out[k] = v
	}
	out["status"] = status
	out["duration"] = time.Since(sl.startTime).String()
	return out
}

// Success logs stage completion at info
func (sl *StageLogger) Success(message string) {
	sl.logger.WithFields(sl.snapshot("success")).Info(message)
}

// Error logs stage failure
func (sl *StageLogger) Error(err error, message string) {
	sl.logger.WithError(err).WithFields(sl.snapshot("error")).Error(message)
}

// TimedStage executes fn and logs timing information for the stage.
func TimedStage(stage string, logger Logger, fn func(sl *StageLogger) error) error {
	sl := NewStageLogger(stage, logger)

	if err := fn(sl); err != nil {
		sl.Error(err, "Stage failed")
		return err
	}

	sl.Success("Stage completed")
	return nil
}
