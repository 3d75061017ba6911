package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/txsample/txsweb"
)

type clientConfig struct {
	*rootConfig

	uri         string
	pathPrefix  string
	minDuration time.Duration
	ids         []string
	output      string
}

func (cfg *clientConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'u', LongName: "uri" /*    */, Value: ffval.NewValueDefault(&cfg.uri, "localhost:8080") /* */, Usage: "diagnostics URI of the instance", Placeholder: "URI"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'p', LongName: "path" /*   */, Value: ffval.NewValue(&cfg.pathPrefix) /*                  */, Usage: "only traces with this transaction path prefix", Placeholder: "PREFIX"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'm', LongName: "min" /*    */, Value: ffval.NewValue(&cfg.minDuration) /*                 */, Usage: "only traces with at least this duration"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "id" /*     */, Value: ffval.NewUniqueList(&cfg.ids) /*                   */, Usage: "only traces with this ID (repeatable)", Placeholder: "ID"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'o', LongName: "output" /* */, Value: ffval.NewEnum(&cfg.output, "ndjson", "prettyjson") /* */, Usage: "output format: ndjson, prettyjson", Placeholder: "FORMAT"})
}

func (cfg *clientConfig) newClient() (*txsweb.Client, error) {
	uri := strings.TrimSpace(cfg.uri)
	if !strings.HasPrefix(uri, "http") {
		uri = "http://" + uri
	}
	return txsweb.NewClient(http.DefaultClient, uri)
}

func (cfg *clientConfig) query(limit int) txsweb.Query {
	return txsweb.Query{
		Limit:       limit,
		MinDuration: cfg.minDuration,
		PathPrefix:  cfg.pathPrefix,
		IDs:         cfg.ids,
	}
}

func (cfg *clientConfig) newEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	if cfg.output == "prettyjson" {
		enc.SetIndent("", "    ")
	}
	return enc
}

func (cfg *clientConfig) write(enc *json.Encoder, v any) error {
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
