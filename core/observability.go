package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

func (s *Service) logInfo(msg string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Info(msg, args...)
}

func (s *Service) logError(msg string, err error, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	fields := append([]any{"error", err}, args...)
	s.logger.Error(msg, fields...)
}

// observe records a counter per operation outcome. Tags carry the provider
// kind and result only, never identifiers or credential material.
func (s *Service) observe(ctx context.Context, operation string, kind ProviderKind, err error) {
	if s == nil || s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.Counter(ctx, "finsync."+operation, 1, map[string]string{
		"provider": string(kind),
		"result":   result,
	})
}

// ContextLogger binds the service logger to the request context so
// correlation fields carried on the context flow into log lines.
func (s *Service) ContextLogger(ctx context.Context) Logger {
	if s == nil || s.logger == nil {
		return glog.Nop()
	}
	return glog.Ensure(s.logger.WithContext(ctx))
}
