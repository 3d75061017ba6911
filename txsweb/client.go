package txsweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/peterbourgon/txsample"
)

// HTTPClient models the subset of *http.Client used by clients.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// RemoteTrace is a trace decoded from its JSON form.
type RemoteTrace struct {
	ID           string         `json:"id"`
	Start        time.Time      `json:"start"`
	Duration     time.Duration  `json:"duration"`
	Path         string         `json:"path,omitempty"`
	URI          string         `json:"uri,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	SegmentCount int            `json:"segment_count"`
	Frozen       bool           `json:"frozen"`
	Root         *RemoteSegment `json:"root,omitempty"`
}

// RemoteSegment is a segment decoded from its JSON form.
type RemoteSegment struct {
	Name     string          `json:"name"`
	Entry    time.Duration   `json:"entry"`
	Exit     time.Duration   `json:"exit"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Children []RemoteSegment `json:"children,omitempty"`
}

// RemoteSamplesResponse is a SamplesResponse decoded from its JSON form.
type RemoteSamplesResponse struct {
	Stats   txsample.Stats `json:"stats"`
	Total   int            `json:"total"`
	Matched int            `json:"matched"`
	Samples []RemoteTrace  `json:"samples"`
}

// Query selects traces from the samples and stream servers.
type Query struct {
	Limit       int
	MinDuration time.Duration
	PathPrefix  string
	IDs         []string
}

func (q Query) encode(u *url.URL) {
	urlquery := u.Query()
	if q.Limit > 0 {
		urlquery.Set("n", strconv.Itoa(q.Limit))
	}
	if q.MinDuration > 0 {
		urlquery.Set("min", q.MinDuration.String())
	}
	if q.PathPrefix != "" {
		urlquery.Set("path", q.PathPrefix)
	}
	for _, id := range q.IDs {
		urlquery.Add("id", id)
	}
	u.RawQuery = urlquery.Encode()
}

// Client queries a remote diagnostics handler, see NewHandler.
type Client struct {
	client HTTPClient
	uri    *url.URL
}

// NewClient returns a client for the diagnostics handler at baseURI.
func NewClient(client HTTPClient, baseURI string) (*Client, error) {
	if client == nil {
		client = http.DefaultClient
	}

	u, err := url.Parse(baseURI)
	if err != nil {
		return nil, fmt.Errorf("parse base URI: %w", err)
	}

	return &Client{
		client: client,
		uri:    u,
	}, nil
}

func (c *Client) endpoint(path string, q Query) string {
	u := *c.uri
	u.Path = singleJoiningSlash(u.Path, path)
	q.encode(&u)
	return u.String()
}

// Samples fetches the recent traces that match the query.
func (c *Client) Samples(ctx context.Context, q Query) (*RemoteSamplesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint("/samples", q), nil)
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}

	req.Header.Set("accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute HTTP request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP response %d %s", res.StatusCode, http.StatusText(res.StatusCode))
	}

	var samples RemoteSamplesResponse
	if err := json.NewDecoder(res.Body).Decode(&samples); err != nil {
		return nil, fmt.Errorf("decode samples response: %w", err)
	}

	return &samples, nil
}

// Stream completed traces that match the query to the channel, until the
// context is canceled or a non-recoverable error occurs. The query limit is
// ignored. The onStats callback, if non-nil, receives every stats event.
//
// Transport errors, server errors, and dropped connections are recoverable:
// the stream reconnects after the retry interval. Cancelation returns nil.
func (c *Client) Stream(ctx context.Context, q Query, retry time.Duration, ch chan<- RemoteTrace, onStats func(txsample.StreamStats)) error {
	if retry <= 0 {
		retry = 3 * time.Second
	}

	var (
		uri    = c.endpoint("/stream", q)
		lastID string
	)
	for {
		recoverable, err := c.stream(ctx, uri, &lastID, ch, onStats)
		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil:
			return nil
		case !recoverable:
			return err
		}

		select {
		case <-time.After(retry):
		case <-ctx.Done():
			return nil
		}
	}
}

// stream reads events from a single connection. The request is bound to the
// context, so cancelation unblocks the decoder.
func (c *Client) stream(ctx context.Context, uri string, lastID *string, ch chan<- RemoteTrace, onStats func(txsample.StreamStats)) (recoverable bool, _ error) {
	req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return false, fmt.Errorf("create HTTP request: %w", err)
	}

	req.Header.Set("accept", "text/event-stream")
	req.Header.Set("cache-control", "no-cache")
	if *lastID != "" {
		req.Header.Set("last-event-id", *lastID)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("execute HTTP request: %w", err)
	}
	defer res.Body.Close()

	switch mediatype, _, _ := mime.ParseMediaType(res.Header.Get("content-type")); {
	case res.StatusCode >= 500:
		return true, fmt.Errorf("HTTP response %d %s", res.StatusCode, http.StatusText(res.StatusCode))
	case res.StatusCode == http.StatusNoContent:
		return false, nil
	case res.StatusCode != http.StatusOK:
		return false, fmt.Errorf("HTTP response %d %s", res.StatusCode, http.StatusText(res.StatusCode))
	case mediatype != "text/event-stream":
		return false, fmt.Errorf("invalid content type %q", res.Header.Get("content-type"))
	}

	dec := eventsource.NewDecoder(res.Body)
	for {
		var ev eventsource.Event
		err := dec.Decode(&ev)
		if errors.Is(err, eventsource.ErrInvalidEncoding) {
			continue
		}
		if err != nil {
			return true, fmt.Errorf("read server-sent event: %w", err)
		}

		if len(ev.Data) <= 0 {
			continue
		}
		if ev.ID != "" || ev.ResetID {
			*lastID = ev.ID
		}

		switch ev.Type {
		case "trace":
			var tr RemoteTrace
			if err := json.Unmarshal(ev.Data, &tr); err != nil {
				return false, fmt.Errorf("decode trace event: %w", err)
			}
			select {
			case ch <- tr:
			case <-ctx.Done():
				return false, ctx.Err()
			}

		case "stats":
			var stats txsample.StreamStats
			if err := json.Unmarshal(ev.Data, &stats); err != nil {
				return false, fmt.Errorf("decode stats event: %w", err)
			}
			if onStats != nil {
				onStats(stats)
			}
		}
	}
}

func singleJoiningSlash(a, b string) string {
	switch aslash, bslash := len(a) > 0 && a[len(a)-1] == '/', len(b) > 0 && b[0] == '/'; {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
