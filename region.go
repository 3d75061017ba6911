package txsample

import (
	"context"

	"go.uber.org/zap"
)

// Region notices entry into the named operation for the execution context
// carried by ctx, and returns a function that notices the matching exit. If
// ctx carries no execution context, or no trace is being built for it, both
// are no-ops. Protocol violations are logged rather than returned.
//
//	defer s.Region(ctx, "Database/users/find")()
func (s *Sampler) Region(ctx context.Context, metricName string) (finish func()) {
	id, ok := ExecIDFrom(ctx)
	if !ok {
		return func() {}
	}

	if err := s.NoticeEntry(id, metricName); err != nil {
		s.logger.Debug("region entry failed", zap.String("name", metricName), zap.Error(err))
		return func() {}
	}

	return func() {
		if err := s.NoticeExit(id, metricName); err != nil {
			s.logger.Debug("region exit failed", zap.String("name", metricName), zap.Error(err))
		}
	}
}

// NoticeSQLContext is like NoticeSQL, for the execution context carried by ctx.
func (s *Sampler) NoticeSQLContext(ctx context.Context, sql string) error {
	id, ok := ExecIDFrom(ctx)
	if !ok {
		return nil
	}
	return s.NoticeSQL(id, sql)
}
