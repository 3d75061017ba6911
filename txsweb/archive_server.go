package txsweb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/peterbourgon/txsample/txsarchive"
	"go.uber.org/zap"
)

// Archive is the read side of a trace archive. It's satisfied by
// *txsarchive.Store.
type Archive interface {
	List(ctx context.Context, limit int) ([]txsarchive.Record, error)
	Get(ctx context.Context, id string) (txsarchive.Record, error)
}

var _ Archive = (*txsarchive.Store)(nil)

// ArchiveServer serves the harvested slowest traces from an archive. With an
// id query parameter, the full archived trace is returned. Otherwise, the
// most recent n records are listed, without trace bodies.
type ArchiveServer struct {
	// Archive of harvested traces. Required.
	Archive Archive

	// Logger receives diagnostics. Optional.
	Logger *zap.Logger
}

// ArchiveResponse is returned by the archive server when listing records.
type ArchiveResponse struct {
	Records []txsarchive.Record `json:"records"`
}

func (s *ArchiveServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		ctx      = r.Context()
		logger   = loggerOrNop(s.Logger)
		urlquery = r.URL.Query()
	)

	if r.Method != "GET" {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	if id := urlquery.Get("id"); id != "" {
		rec, err := s.Archive.Get(ctx, id)
		switch {
		case errors.Is(err, txsarchive.ErrNotFound):
			renderError(logger, w, http.StatusNotFound, err)
		case err != nil:
			logger.Error("archive get", zap.String("id", id), zap.Error(err))
			renderError(logger, w, http.StatusInternalServerError, fmt.Errorf("get trace: %w", err))
		default:
			renderJSON(logger, w, http.StatusOK, rec)
		}
		return
	}

	n := parseRange(urlquery.Get("n"), strconv.Atoi, 1, 10, 1000)
	records, err := s.Archive.List(ctx, n)
	if err != nil {
		logger.Error("archive list", zap.Error(err))
		renderError(logger, w, http.StatusInternalServerError, fmt.Errorf("list traces: %w", err))
		return
	}

	if records == nil {
		records = []txsarchive.Record{}
	}

	renderJSON(logger, w, http.StatusOK, ArchiveResponse{Records: records})
}
