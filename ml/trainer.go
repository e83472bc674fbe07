package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const modelType = "logistic_regression"

// DataSource supplies the rows a training run learns from.
type DataSource interface {
	FetchTrainingRows(ctx context.Context) ([]CustomerRow, error)
}

// Publisher receives training lifecycle events. Implementations must not
// block; the trainer calls Publish while holding its lock.
type Publisher interface {
	Publish(eventType string, data interface{})
}

// ModelSummary is the caller-facing view of a fitted model.
type ModelSummary struct {
	AUC         float64         `json:"auc,omitempty"`
	TopFeatures []FeatureWeight `json:"top_features"`
}

// TrainingInfo summarizes the data a model was fitted on.
type TrainingInfo struct {
	TotalSamples  int     `json:"total_samples"`
	TotalFeatures int     `json:"total_features"`
	TrainSamples  int     `json:"train_samples"`
	TestSamples   int     `json:"test_samples"`
	PositiveRate  float64 `json:"positive_rate"`
}

// Result is the outcome of LoadOrTrain or ForceRetrain. Status is
// "loaded" when a cached model was reused and "success" when a fresh
// training run produced it.
type Result struct {
	Status       string        `json:"status"`
	Message      string        `json:"message"`
	Model        ModelSummary  `json:"model"`
	TrainingInfo *TrainingInfo `json:"training_info,omitempty"`
}

// Info describes the cached model without loading or training anything.
type Info struct {
	ModelExists   bool    `json:"model_exists"`
	ModelType     string  `json:"model_type,omitempty"`
	TrainingDate  string  `json:"training_date,omitempty"`
	AUC           float64 `json:"auc,omitempty"`
	TotalFeatures int     `json:"total_features,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// Trainer owns the baseline model lifecycle: load the cached pair when
// present, train and persist when absent, retrain on demand. A mutex
// serializes the whole lifecycle so at most one training run is in
// flight and concurrent callers converge on one model.
type Trainer struct {
	source       DataSource
	cache        *ModelCache
	logger       *zap.Logger
	publisher    Publisher
	fetchTimeout time.Duration

	mu       sync.Mutex
	artifact *ModelArtifact
	metadata *Metadata
}

// NewTrainer wires a trainer to its data source and artifact cache.
// publisher may be nil when no event fanout is configured.
func NewTrainer(source DataSource, cache *ModelCache, logger *zap.Logger, publisher Publisher, fetchTimeout time.Duration) *Trainer {
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	return &Trainer{
		source:       source,
		cache:        cache,
		logger:       logger,
		publisher:    publisher,
		fetchTimeout: fetchTimeout,
	}
}

// LoadOrTrain returns the current baseline model, training one only when
// no cached pair exists. A corrupt cache is surfaced as ErrCacheCorrupt,
// never silently retrained over.
func (t *Trainer) LoadOrTrain(ctx context.Context) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.artifact != nil && t.metadata != nil {
		return t.loadedResult(), nil
	}

	artifact, metadata, err := t.cache.Load()
	if err == nil {
		t.artifact, t.metadata = artifact, metadata
		t.logger.Info("loaded cached baseline model",
			zap.String("training_date", metadata.TrainingDate),
			zap.Int("features", len(metadata.FeatureNames)))
		return t.loadedResult(), nil
	}
	if !errors.Is(err, ErrModelNotFound) {
		return nil, err
	}

	t.logger.Info("no cached baseline model, training")
	return t.trainAndSave(ctx)
}

// ForceRetrain unconditionally trains a new model and replaces the
// cached pair.
func (t *Trainer) ForceRetrain(ctx context.Context) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trainAndSave(ctx)
}

// CachedInfo reports on the cached pair without triggering training.
func (t *Trainer) CachedInfo() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	metadata := t.metadata
	if metadata == nil {
		var err error
		_, metadata, err = t.cache.Load()
		if errors.Is(err, ErrCacheCorrupt) {
			return Info{ModelExists: false, Message: "model cache is corrupt; retrain to replace it"}
		}
		if err != nil {
			return Info{ModelExists: false, Message: "no trained model found"}
		}
	}
	return Info{
		ModelExists:   true,
		ModelType:     metadata.ModelType,
		TrainingDate:  metadata.TrainingDate,
		AUC:           metadata.Metrics.AUC,
		TotalFeatures: metadata.Metrics.TotalFeatures,
	}
}

// Invalidate drops the in-memory pair so the next LoadOrTrain re-reads
// the cache. Called when the artifact files change on disk.
func (t *Trainer) Invalidate() {
	t.mu.Lock()
	t.artifact = nil
	t.metadata = nil
	t.mu.Unlock()
}

func (t *Trainer) loadedResult() *Result {
	metrics := t.metadata.Metrics
	return &Result{
		Status:  "loaded",
		Message: "baseline model loaded from cache",
		Model: ModelSummary{
			AUC:         metrics.AUC,
			TopFeatures: metrics.TopFeatures,
		},
		TrainingInfo: &TrainingInfo{
			TotalSamples:  metrics.TrainSamples + metrics.TestSamples,
			TotalFeatures: metrics.TotalFeatures,
			TrainSamples:  metrics.TrainSamples,
			TestSamples:   metrics.TestSamples,
			PositiveRate:  metrics.PositiveRate,
		},
	}
}

// trainAndSave runs the full pipeline and persists the resulting pair.
// Caller holds t.mu.
func (t *Trainer) trainAndSave(ctx context.Context) (*Result, error) {
	started := time.Now()
	t.publish("model_training_started", map[string]interface{}{
		"model_type": modelType,
	})

	result, err := t.runPipeline(ctx)
	if err != nil {
		t.publish("model_training_failed", map[string]interface{}{
			"error": err.Error(),
		})
		t.logger.Error("baseline training failed", zap.Error(err))
		return nil, err
	}

	t.publish("model_training_completed", map[string]interface{}{
		"auc":         result.Model.AUC,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	t.logger.Info("baseline model trained",
		zap.Float64("auc", result.Model.AUC),
		zap.Int("train_samples", result.TrainingInfo.TrainSamples),
		zap.Int("test_samples", result.TrainingInfo.TestSamples),
		zap.Duration("elapsed", time.Since(started)))
	return result, nil
}

func (t *Trainer) runPipeline(ctx context.Context) (*Result, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
	defer cancel()

	rows, err := t.source.FetchTrainingRows(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	table, err := Preprocess(rows)
	if err != nil {
		return nil, err
	}
	matrix, names, err := EncodeFeatures(table)
	if err != nil {
		return nil, err
	}

	trainIdx, testIdx := stratifiedSplit(table.Labels, testRatio, randomSeed)
	xTrain, yTrain := selectRows(matrix, table.Labels, trainIdx)
	xTest, yTest := selectRows(matrix, table.Labels, testIdx)

	scaler := &StandardScaler{}
	if err := scaler.Fit(xTrain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}
	xTrainScaled, err := scaler.Transform(xTrain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}
	xTestScaled, err := scaler.Transform(xTest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}

	model, err := fitLogistic(xTrainScaled, yTrain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}

	scores := make([]float64, len(xTestScaled))
	for i, row := range xTestScaled {
		scores[i], _ = model.PredictProba(row)
	}
	auc := rocAUC(yTest, scores)

	var positives int
	for _, label := range table.Labels {
		positives += label
	}
	positiveRate, _ := roundFP(float64(positives)/float64(len(table.Labels)), 4)

	metrics := Metrics{
		TopFeatures:   topFeatures(names, model.Weights, 10),
		TotalFeatures: len(names),
		TrainSamples:  len(trainIdx),
		TestSamples:   len(testIdx),
		PositiveRate:  positiveRate,
	}
	if rounded, ok := roundFP(auc, 4); ok {
		metrics.AUC = rounded
	}

	artifact := &ModelArtifact{
		ModelType:    modelType,
		FeatureNames: names,
		Model:        *model,
		Scaler:       *scaler,
	}
	metadata := &Metadata{
		ModelType:    modelType,
		FeatureNames: names,
		TrainingDate: time.Now().UTC().Format(time.RFC3339),
		ModelParams: ModelParams{
			Solver:       "gradient_descent",
			ClassWeight:  "balanced",
			MaxIter:      maxIter,
			LearningRate: learningRate,
			L2Penalty:    l2Penalty,
			RandomState:  randomSeed,
		},
		Preprocessing: Preprocessing{
			NumericFeatures:     NumericFeatures(),
			CategoricalFeatures: CategoricalFeatures(),
			BooleanFeatures:     FlagFeatures(),
		},
		Metrics: metrics,
	}

	if err := t.cache.Save(artifact, metadata); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}
	t.artifact, t.metadata = artifact, metadata

	return &Result{
		Status:  "success",
		Message: "baseline model trained and saved",
		Model: ModelSummary{
			AUC:         metrics.AUC,
			TopFeatures: metrics.TopFeatures,
		},
		TrainingInfo: &TrainingInfo{
			TotalSamples:  len(table.Labels),
			TotalFeatures: len(names),
			TrainSamples:  len(trainIdx),
			TestSamples:   len(testIdx),
			PositiveRate:  positiveRate,
		},
	}, nil
}

// topFeatures ranks features by absolute coefficient and keeps the top
// limit of them. Weights are rounded for reporting; non-finite weights
// are dropped from the ranking entirely.
func topFeatures(names []string, weights []float64, limit int) []FeatureWeight {
	ranked := make([]FeatureWeight, 0, len(names))
	for i, name := range names {
		w, ok := roundFP(weights[i], 4)
		if !ok {
			continue
		}
		ranked = append(ranked, FeatureWeight{Feature: name, Weight: w})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Weight) > math.Abs(ranked[j].Weight)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func (t *Trainer) publish(eventType string, data interface{}) {
	if t.publisher != nil {
		t.publisher.Publish(eventType, data)
	}
}
