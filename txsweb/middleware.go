package txsweb

import (
	"net/http"
	"time"

	"github.com/peterbourgon/txsample"
	"github.com/peterbourgon/txsample/internal/txsutil"
	"go.uber.org/zap"
)

// Middleware decorates an HTTP handler so that each request is a transaction
// reported to the sampler. The transaction path is determined by the
// categorize function, request query parameters become the trace's request
// params, and the handler runs within a segment named after the path.
//
// The request context carries the transaction's execution context ID, so
// handlers can record nested operations via Sampler.Region.
func Middleware(
	s *txsample.Sampler,
	categorize func(*http.Request) string,
	logger *zap.Logger,
) func(http.Handler) http.Handler {
	logger = loggerOrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				id   = txsample.NewExecID()
				path = categorize(r)
			)

			s.NoticeFirstEntry(id)

			if err := s.NoticeTransactionInfo(id, path, r, queryParams(r)); err != nil {
				logger.Debug("notice transaction info", zap.Error(err))
			}

			iw := newInterceptor(w)

			defer func(begin time.Time) {
				if err := s.NoticeCompletion(id); err != nil {
					logger.Warn("transaction completion failed", zap.String("path", path), zap.Error(err))
				}
				logger.Debug("request",
					zap.String("method", r.Method),
					zap.String("uri", r.URL.String()),
					zap.Int("code", iw.Code()),
					zap.String("sent", txsutil.HumanizeBytes(iw.Written())),
					zap.String("took", txsutil.HumanizeDuration(time.Since(begin))),
				)
			}(time.Now())

			ctx := txsample.WithExecID(r.Context(), id)
			func() {
				defer s.Region(ctx, path)()
				next.ServeHTTP(iw, r.WithContext(ctx))
			}()
		})
	}
}

// CategorizeByPath is a categorize function for Middleware which uses the
// method and URL path of the request.
func CategorizeByPath(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

func queryParams(r *http.Request) map[string]any {
	urlquery := r.URL.Query()
	if len(urlquery) <= 0 {
		return nil
	}
	params := make(map[string]any, len(urlquery))
	for k, vs := range urlquery {
		switch len(vs) {
		case 0:
			continue
		case 1:
			params[k] = vs[0]
		default:
			params[k] = vs
		}
	}
	return params
}

//
//
//

type interceptor struct {
	http.ResponseWriter

	flush func()
	code  int
	n     int
}

func newInterceptor(w http.ResponseWriter) *interceptor {
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	return &interceptor{ResponseWriter: w, flush: flush}
}

func (i *interceptor) WriteHeader(code int) {
	if i.code == 0 {
		i.code = code
	}
	i.ResponseWriter.WriteHeader(code)
}

func (i *interceptor) Write(p []byte) (int, error) {
	n, err := i.ResponseWriter.Write(p)
	i.n += n
	return n, err
}

func (i *interceptor) Code() int {
	if i.code == 0 {
		return http.StatusOK
	}
	return i.code
}

func (i *interceptor) Written() int {
	return i.n
}

func (i *interceptor) Flush() {
	i.flush()
}
