// Package policysim is the public entry point for running policy-effect
// calibration batches and browsing their results.
package policysim

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"policysim/internal/axis"
	"policysim/internal/metrics"
	"policysim/internal/model"
	"policysim/internal/pipeline"
	"policysim/internal/stats"
	"policysim/internal/storage"
)

const (
	defaultResultsDir = "results"
	defaultDBPath     = "policysim.db"
)

var ErrRunNotFound = errors.New("run not found")

type Options struct {
	StoreKind  string
	DBPath     string
	ResultsDir string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type Client struct {
	store   storage.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	resultsDir string

	mu    sync.Mutex
	ready bool
}

type RunRequest struct {
	Config pipeline.Config
	// Workers overrides Config.Workers when positive.
	Workers int
	// OutDir overrides Config.SaveDir and the client's results directory.
	OutDir string
}

type RunSummary struct {
	RunID      string
	ResultPath string
	Attempted  int
	Missing    map[string]int
	Estimates  []model.EffectEstimate
	Elapsed    time.Duration
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID      string
	CreatedAt  time.Time
	Kind       string
	Population float64
	Seed       uint64
	Samples    int
	ResultPath string
	Estimates  []model.EffectEstimate
}

type ShowRequest struct {
	RunID  string
	Latest bool
}

type LoadSummary struct {
	Populations []float64
	Paths       []string
	// Coefficients are stacked along the "pop" axis ahead of
	// (gamma, sigma, sample, lhs, regressor).
	Coefficients *axis.Tensor
	Effects      [][]stats.EffectSummary
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	resultsDir := opts.ResultsDir
	if resultsDir == "" {
		resultsDir = defaultResultsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     logger,
		metrics:    opts.Metrics,
		resultsDir: resultsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Run simulates and regresses one batch, writes the result file and
// indexes the run.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}
	started := time.Now()

	opts := []pipeline.Option{pipeline.WithLogger(c.logger), pipeline.WithMetrics(c.metrics)}
	if req.Workers > 0 {
		opts = append(opts, pipeline.WithWorkers(req.Workers))
	}
	res, err := pipeline.SimulateAndRegress(ctx, req.Config, opts...)
	if err != nil {
		return RunSummary{}, err
	}

	outDir := c.resultsDir
	switch {
	case req.OutDir != "":
		outDir = req.OutDir
	case req.Config.SaveDir != "":
		outDir = req.Config.SaveDir
	}
	path, err := stats.SaveResult(outDir, res)
	if err != nil {
		return RunSummary{}, err
	}
	record, err := stats.IndexRecord(res, filepath.Clean(path))
	if err != nil {
		return RunSummary{}, err
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		return RunSummary{}, fmt.Errorf("index run %s: %w", record.ID, err)
	}

	return RunSummary{
		RunID:      record.ID,
		ResultPath: record.ResultPath,
		Attempted:  record.Attempted,
		Missing:    record.Missing,
		Estimates:  record.Estimates,
		Elapsed:    time.Since(started),
	}, nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	records, err := c.store.ListRuns(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(records))
	for _, r := range records {
		out = append(out, RunItem{
			RunID:      r.ID,
			CreatedAt:  r.CreatedAt,
			Kind:       r.Kind,
			Population: r.Population,
			Seed:       r.Seed,
			Samples:    r.Samples,
			ResultPath: r.ResultPath,
			Estimates:  r.Estimates,
		})
	}
	return out, nil
}

func (c *Client) Show(ctx context.Context, req ShowRequest) (model.RunRecord, error) {
	if req.RunID != "" && req.Latest {
		return model.RunRecord{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return model.RunRecord{}, errors.New("show requires run id or latest")
	}
	if err := c.ensureStore(ctx); err != nil {
		return model.RunRecord{}, err
	}
	if req.Latest {
		records, err := c.store.ListRuns(ctx, 1)
		if err != nil {
			return model.RunRecord{}, err
		}
		if len(records) == 0 {
			return model.RunRecord{}, fmt.Errorf("%w: no runs indexed", ErrRunNotFound)
		}
		return records[0], nil
	}
	record, ok, err := c.store.GetRun(ctx, req.RunID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, req.RunID)
	}
	return record, nil
}

// Delete removes a run from the index. The result file is left in place.
func (c *Client) Delete(ctx context.Context, runID string) error {
	if err := c.ensureStore(ctx); err != nil {
		return err
	}
	if _, err := c.Show(ctx, ShowRequest{RunID: runID}); err != nil {
		return err
	}
	return c.store.DeleteRun(ctx, runID)
}

// Load reads every result file in dir, or the client's results directory
// when dir is empty.
func (c *Client) Load(_ context.Context, dir string) (LoadSummary, error) {
	if dir == "" {
		dir = c.resultsDir
	}
	set, err := stats.LoadResults(dir)
	if err != nil {
		return LoadSummary{}, err
	}
	coef, err := set.Coefficients()
	if err != nil {
		return LoadSummary{}, err
	}
	out := LoadSummary{
		Populations:  set.Populations,
		Paths:        set.Paths,
		Coefficients: coef,
	}
	for _, res := range set.Results {
		effects, err := stats.Summarize(res)
		if err != nil {
			return LoadSummary{}, err
		}
		out.Effects = append(out.Effects, effects)
	}
	return out, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.ready = true
	return nil
}
