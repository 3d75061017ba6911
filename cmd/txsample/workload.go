package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/peterbourgon/txsample"
	"go.uber.org/zap"
)

// step is a synthetic operation, with a cost in units of the workload scale,
// optional SQL, and nested operations.
type step struct {
	name     string
	cost     int
	sql      string
	children []step
}

// action is a synthetic controller action, i.e. one kind of transaction.
type action struct {
	path   string
	uri    string
	params map[string]any
	root   step
}

var actions = []action{
	{
		path:   "Controller/users/index",
		uri:    "/users",
		params: map[string]any{"controller": "users", "action": "index", "page": "1"},
		root: step{name: "Controller/users/index", cost: 2, children: []step{
			{name: "Database/User/find", cost: 5, sql: "SELECT * FROM users ORDER BY created_at DESC LIMIT 25"},
			{name: "View/users/index", cost: 3, children: []step{
				{name: "View/users/_user", cost: 1},
			}},
		}},
	},
	{
		path:   "Controller/users/show",
		uri:    "/users/42",
		params: map[string]any{"controller": "users", "action": "show", "id": "42"},
		root: step{name: "Controller/users/show", cost: 1, children: []step{
			{name: "Database/User/find", cost: 2, sql: "SELECT * FROM users WHERE id = 42"},
			{name: "Database/Post/find", cost: 4, sql: "SELECT * FROM posts WHERE user_id = 42"},
			{name: "View/users/show", cost: 2},
		}},
	},
	{
		path:   "Controller/reports/monthly",
		uri:    "/reports/monthly",
		params: map[string]any{"controller": "reports", "action": "monthly", "month": "2024-01"},
		root: step{name: "Controller/reports/monthly", cost: 3, children: []step{
			{name: "Database/Order/aggregate", cost: 40, sql: "SELECT date(created_at), sum(total) FROM orders GROUP BY 1"},
			{name: "External/billing/invoices", cost: 15},
			{name: "View/reports/monthly", cost: 8},
		}},
	},
}

type workload struct {
	sampler   *txsample.Sampler
	logger    *zap.Logger
	interval  time.Duration
	scale     time.Duration
	faultRate float64
}

// Run the workload on n worker goroutines until the context is canceled.
// Each worker is a single execution context, which is reused for every
// transaction it performs.
func (w *workload) Run(ctx context.Context, n int) error {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.runWorker(ctx, rand.New(rand.NewSource(time.Now().UnixNano()+int64(i))))
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (w *workload) runWorker(ctx context.Context, rng *rand.Rand) {
	id := txsample.NewExecID()
	ctx = txsample.WithExecID(ctx, id)

	for ctx.Err() == nil {
		a := actions[rng.Intn(len(actions))]
		fault := w.faultRate > 0 && rng.Float64() < w.faultRate
		if err := w.transaction(ctx, id, a, rng, fault); err != nil {
			w.logger.Warn("transaction failed", zap.String("path", a.path), zap.Error(err))
			w.sampler.Abandon(id)
		}
		contextSleep(ctx, w.interval)
	}
}

func (w *workload) transaction(ctx context.Context, id txsample.ExecID, a action, rng *rand.Rand, fault bool) error {
	w.sampler.NoticeFirstEntry(id)

	req := &http.Request{Method: "GET", URL: &url.URL{Path: a.uri}}
	if err := w.sampler.NoticeTransactionInfo(id, a.path, req, a.params); err != nil {
		return fmt.Errorf("transaction info: %w", err)
	}

	if err := w.perform(ctx, id, a.root, rng); err != nil {
		return err
	}

	if fault {
		// Instrumentation which exits a different operation than it entered.
		if err := w.sampler.NoticeEntry(id, "View/layouts/application"); err != nil {
			return err
		}
		if err := w.sampler.NoticeExit(id, "View/layouts/default"); err != nil {
			return err
		}
	}

	return w.sampler.NoticeCompletion(id)
}

func (w *workload) perform(ctx context.Context, id txsample.ExecID, st step, rng *rand.Rand) error {
	if err := w.sampler.NoticeEntry(id, st.name); err != nil {
		return err
	}

	if st.sql != "" {
		if err := w.sampler.NoticeSQL(id, st.sql); err != nil {
			return err
		}
	}

	contextSleep(ctx, w.cost(st.cost, rng))

	for _, c := range st.children {
		if err := w.perform(ctx, id, c, rng); err != nil {
			return err
		}
	}

	return w.sampler.NoticeExit(id, st.name)
}

// cost returns a jittered duration between 0.5x and 1.5x units of scale.
func (w *workload) cost(units int, rng *rand.Rand) time.Duration {
	if units <= 0 || w.scale <= 0 {
		return 0
	}
	base := time.Duration(units) * w.scale
	return base/2 + time.Duration(rng.Int63n(int64(base)+1))
}

// ServeHTTP performs the action named by the request path, e.g. /work/users/show,
// or a random action. The request must already be a transaction, see
// txsweb.Middleware.
func (w *workload) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context()
		name = strings.TrimPrefix(r.URL.Path, "/work/")
		rng  = rand.New(rand.NewSource(time.Now().UnixNano()))
		a    = actions[rng.Intn(len(actions))]
	)

	for _, candidate := range actions {
		if strings.TrimPrefix(candidate.path, "Controller/") == name {
			a = candidate
			break
		}
	}

	w.performRegions(ctx, a.root, rng)

	rw.Header().Set("content-type", "application/json; charset=utf-8")
	json.NewEncoder(rw).Encode(map[string]string{"action": a.path})
}

// performRegions is like perform, for a transaction carried by the context.
func (w *workload) performRegions(ctx context.Context, st step, rng *rand.Rand) {
	defer w.sampler.Region(ctx, st.name)()

	if st.sql != "" {
		if err := w.sampler.NoticeSQLContext(ctx, st.sql); err != nil {
			w.logger.Debug("notice SQL", zap.Error(err))
		}
	}

	contextSleep(ctx, w.cost(st.cost, rng))

	for _, c := range st.children {
		w.performRegions(ctx, c, rng)
	}
}
