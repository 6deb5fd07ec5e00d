package broker

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// slogAdapter adapts log/slog to watermill.LoggerAdapter, following the
// same slog-wraps-third-party-interface shape used for the plugin
// logger adapter elsewhere in the pack.
type slogAdapter struct {
	logger *slog.Logger
	fields watermill.LogFields
}

func newSlogAdapter() watermill.LoggerAdapter {
	return &slogAdapter{logger: slog.Default()}
}

func (a *slogAdapter) with(fields watermill.LogFields) *slog.Logger {
	args := make([]any, 0, len(a.fields)+len(fields)*2)
	for k, v := range a.fields {
		args = append(args, k, v)
	}
	for k, v := range fields {
		args = append(args, k, v)
	}
	return a.logger.With(args...)
}

func (a *slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.with(fields).Error(msg, "error", err)
}

func (a *slogAdapter) Info(msg string, fields watermill.LogFields) {
	a.with(fields).Info(msg)
}

func (a *slogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.with(fields).Debug(msg)
}

func (a *slogAdapter) Trace(msg string, fields watermill.LogFields) {
	a.with(fields).Debug(msg)
}

func (a *slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(a.fields)+len(fields))
	for k, v := range a.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &slogAdapter{logger: a.logger, fields: merged}
}
