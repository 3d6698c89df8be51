package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"policysim/internal/axis"
	"policysim/internal/pipeline"
)

// PopulationAxis is the axis a ResultSet stacks results along.
const PopulationAxis = "pop"

var ErrNoResults = errors.New("no result files")

var resultName = regexp.MustCompile(`^pop_(\d+)_lag_([0-9-]*)\.json$`)

// ResultFileName is pop_<population>_lag_<l1-l2-...>.json.
func ResultFileName(population float64, lags []int) string {
	parts := make([]string, len(lags))
	for i, l := range lags {
		parts[i] = strconv.Itoa(l)
	}
	return fmt.Sprintf("pop_%d_lag_%s.json", int64(population), strings.Join(parts, "-"))
}

// SaveResult writes res into dir and returns the file path. A result for
// the same population and lags overwrites the previous one.
func SaveResult(dir string, res *pipeline.Result) (string, error) {
	if res == nil {
		return "", errors.New("result is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ResultFileName(res.Config.Population, res.Config.RegLags))
	if err := writeJSON(path, res); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return path, nil
}

func ReadResult(path string) (*pipeline.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res pipeline.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", filepath.Base(path), err)
	}
	return &res, nil
}

// ResultSet holds results ordered by population.
type ResultSet struct {
	Populations []float64
	Paths       []string
	Results     []*pipeline.Result
}

// LoadResults reads every result file in dir. Hidden files and files
// not named like ResultFileName are skipped.
func LoadResults(dir string) (ResultSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ResultSet{}, err
	}

	type loaded struct {
		pop  float64
		path string
		res  *pipeline.Result
	}
	var all []loaded
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		m := resultName.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		pop, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return ResultSet{}, fmt.Errorf("population in %s: %w", name, err)
		}
		path := filepath.Join(dir, name)
		res, err := ReadResult(path)
		if err != nil {
			return ResultSet{}, err
		}
		all = append(all, loaded{pop: pop, path: path, res: res})
	}
	if len(all) == 0 {
		return ResultSet{}, fmt.Errorf("%w in %s", ErrNoResults, dir)
	}
	slices.SortStableFunc(all, func(a, b loaded) int {
		switch {
		case a.pop < b.pop:
			return -1
		case a.pop > b.pop:
			return 1
		}
		return strings.Compare(a.path, b.path)
	})

	var set ResultSet
	for _, l := range all {
		set.Populations = append(set.Populations, l.pop)
		set.Paths = append(set.Paths, l.path)
		set.Results = append(set.Results, l.res)
	}
	return set, nil
}

// Coefficients stacks the coefficient tensors along PopulationAxis. All
// results must share the same grid, samples, outcomes and regressors.
func (s ResultSet) Coefficients() (*axis.Tensor, error) {
	return s.stack(func(r *pipeline.Result) *axis.Tensor { return r.Coefficients })
}

// Observable stacks one daily observable along PopulationAxis.
func (s ResultSet) Observable(name string) (*axis.Tensor, error) {
	return s.stack(func(r *pipeline.Result) *axis.Tensor { return r.Observables[name] })
}

func (s ResultSet) stack(pick func(*pipeline.Result) *axis.Tensor) (*axis.Tensor, error) {
	parts := make([]*axis.Tensor, 0, len(s.Results))
	for i, r := range s.Results {
		tn := pick(r)
		if tn == nil {
			return nil, fmt.Errorf("result %s has no such variable", s.Paths[i])
		}
		parts = append(parts, tn)
	}
	out, err := axis.Stack(PopulationAxis, parts...)
	if err != nil {
		return nil, fmt.Errorf("stack results: %w", err)
	}
	return out, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
