package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	modelFileName    = "baseline_model.json"
	metadataFileName = "baseline_metadata.json"
)

// ModelArtifact is the serialized fitted model: classifier, scaler, and
// the ordered feature-name list that defines the vector layout it
// expects. Immutable once persisted; a retrain supersedes it.
type ModelArtifact struct {
	ModelType    string         `json:"model_type"`
	FeatureNames []string       `json:"feature_names"`
	Model        LogisticModel  `json:"model"`
	Scaler       StandardScaler `json:"scaler"`
}

// ModelParams records the hyperparameters a model was trained with.
type ModelParams struct {
	Solver       string  `json:"solver"`
	ClassWeight  string  `json:"class_weight"`
	MaxIter      int     `json:"max_iter"`
	LearningRate float64 `json:"learning_rate"`
	L2Penalty    float64 `json:"l2_penalty"`
	RandomState  int64   `json:"random_state"`
}

// FeatureWeight pairs one feature column with its fitted coefficient.
// A positive weight increases the predicted churn likelihood.
type FeatureWeight struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// Metrics holds the evaluation results of one training run. All values
// are rounded to four decimal places; non-finite values are omitted
// rather than persisted.
type Metrics struct {
	AUC           float64         `json:"auc,omitempty"`
	TopFeatures   []FeatureWeight `json:"top_features"`
	TotalFeatures int             `json:"total_features"`
	TrainSamples  int             `json:"train_samples"`
	TestSamples   int             `json:"test_samples"`
	PositiveRate  float64         `json:"positive_rate"`
}

// Preprocessing describes the feature groups used by a training run.
type Preprocessing struct {
	NumericFeatures     []string `json:"numeric_features"`
	CategoricalFeatures []string `json:"categorical_features"`
	BooleanFeatures     []string `json:"boolean_features"`
}

// Metadata is persisted together with its ModelArtifact; the two must
// never disagree about feature layout.
type Metadata struct {
	ModelType     string        `json:"model_type"`
	FeatureNames  []string      `json:"feature_names"`
	TrainingDate  string        `json:"training_date"`
	ModelParams   ModelParams   `json:"model_params"`
	Preprocessing Preprocessing `json:"preprocessing"`
	Metrics       Metrics       `json:"metrics"`
}

// ModelCache persists the (artifact, metadata) pair as a unit under a
// fixed model name. There is no versioning beyond "most recent": a save
// overwrites any prior pair unconditionally.
type ModelCache struct {
	dir string
	mu  sync.Mutex
}

// NewModelCache creates a cache rooted at dir.
func NewModelCache(dir string) *ModelCache {
	return &ModelCache{dir: dir}
}

// Dir returns the cache directory.
func (c *ModelCache) Dir() string { return c.dir }

// Save writes both artifacts, each via temp-file-and-rename so a crash
// never leaves a half-written file. A crash between the two renames
// leaves a partial pair, which Load treats as absent.
func (c *ModelCache) Save(artifact *ModelArtifact, metadata *Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	if err := c.writeAtomic(modelFileName, artifact); err != nil {
		return fmt.Errorf("write model artifact: %w", err)
	}
	if err := c.writeAtomic(metadataFileName, metadata); err != nil {
		return fmt.Errorf("write model metadata: %w", err)
	}
	return nil
}

// Load reads the pair. Either file missing yields ErrModelNotFound: a
// partial pair counts as absent (fail closed). Files that are present
// but unreadable, or that disagree about feature layout, yield
// ErrCacheCorrupt.
func (c *ModelCache) Load() (*ModelArtifact, *Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	modelRaw, err := os.ReadFile(filepath.Join(c.dir, modelFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrModelNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	metaRaw, err := os.ReadFile(filepath.Join(c.dir, metadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrModelNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}

	var artifact ModelArtifact
	if err := json.Unmarshal(modelRaw, &artifact); err != nil {
		return nil, nil, fmt.Errorf("%w: decode %s: %v", ErrCacheCorrupt, modelFileName, err)
	}
	var metadata Metadata
	if err := json.Unmarshal(metaRaw, &metadata); err != nil {
		return nil, nil, fmt.Errorf("%w: decode %s: %v", ErrCacheCorrupt, metadataFileName, err)
	}

	if !sameFeatureNames(artifact.FeatureNames, metadata.FeatureNames) {
		return nil, nil, fmt.Errorf("%w: model and metadata disagree about feature layout", ErrCacheCorrupt)
	}
	return &artifact, &metadata, nil
}

func (c *ModelCache) writeAtomic(name string, v interface{}) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(c.dir, name))
}

func sameFeatureNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
