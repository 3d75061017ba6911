package txsweb

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/peterbourgon/txsample/internal/txsutil"
	"go.uber.org/zap"
)

func renderJSON(logger *zap.Logger, w http.ResponseWriter, code int, data any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")

	if err := enc.Encode(data); err != nil {
		code = http.StatusInternalServerError
		logger.Error("marshal JSON", zap.Error(err))
		buf.Reset()
		buf.WriteString(`{"error":"failed to marshal response"}`)
	} else {
		logger.Debug("marshaled JSON response", zap.String("size", txsutil.HumanizeBytes(buf.Len())))
	}

	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	buf.WriteTo(w)
}

type errorResponse struct {
	Error string `json:"error"`
}

func renderError(logger *zap.Logger, w http.ResponseWriter, code int, err error) {
	renderJSON(logger, w, code, errorResponse{Error: err.Error()})
}

func requestExplicitlyAccepts(r *http.Request, acceptable ...string) bool {
	accept := parseAcceptMediaTypes(r)
	for _, want := range acceptable {
		if _, ok := accept[want]; ok {
			return true
		}
	}
	return false
}

func parseAcceptMediaTypes(r *http.Request) map[string]map[string]string {
	mediaTypes := map[string]map[string]string{} // type: params
	for _, a := range strings.Split(r.Header.Get("accept"), ",") {
		mediaType, params, err := mime.ParseMediaType(a)
		if err != nil {
			continue
		}
		mediaTypes[mediaType] = params
	}
	return mediaTypes
}
