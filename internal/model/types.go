package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord indexes one simulate-and-regress run. The full result bundle
// lives in the file at ResultPath.
type RunRecord struct {
	VersionedRecord
	ID          string           `json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	Kind        string           `json:"kind"`
	Population  float64          `json:"population"`
	Seed        uint64           `json:"seed"`
	Samples     int              `json:"samples"`
	Days        int              `json:"days"`
	Lags        []int            `json:"lags"`
	Policies    []string         `json:"policies"`
	ResultPath  string           `json:"result_path,omitempty"`
	Attempted   int              `json:"regressions_attempted"`
	Missing     map[string]int   `json:"regressions_missing,omitempty"`
	NonPhysical int              `json:"nonphysical_draws"`
	Estimates   []EffectEstimate `json:"estimates"`
}

// EffectEstimate is the sample mean of one regression coefficient next to
// the true effect it should recover. Nil values were not estimable.
type EffectEstimate struct {
	LHS        string   `json:"lhs"`
	Regressor  string   `json:"regressor"`
	Mean       *float64 `json:"mean,omitempty"`
	Fitted     int      `json:"fitted"`
	TrueEffect *float64 `json:"true_effect,omitempty"`
}
