package ml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSource struct {
	rows    []CustomerRow
	err     error
	fetches int
}

func (f *fakeSource) FetchTrainingRows(ctx context.Context) ([]CustomerRow, error) {
	f.fetches++
	return f.rows, f.err
}

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) Publish(eventType string, data interface{}) {
	f.events = append(f.events, eventType)
}

// trainingRows builds a learnable data set: 30 churned of 100, with
// churn correlated to short tenure and the X contract.
func trainingRows(n, churned int) []CustomerRow {
	rows := make([]CustomerRow, n)
	for i := range rows {
		isChurn := i < churned
		tenure := float64(40 + i%20)
		contract := "Two year"
		if isChurn {
			tenure = float64(1 + i%10)
			contract = "Month-to-month"
		}
		monthly := float64(30 + i%60)
		rows[i] = CustomerRow{
			Churned:        isChurn,
			Tenure:         &tenure,
			MonthlyCharges: &monthly,
			Contract:       contract,
			PaymentMethod:  "Credit card",
			OnlineSecurity: "No",
			TechSupport:    "No",
		}
	}
	return rows
}

func newTestTrainer(t *testing.T, source *fakeSource, publisher Publisher) (*Trainer, *ModelCache) {
	t.Helper()
	cache := NewModelCache(t.TempDir())
	trainer := NewTrainer(source, cache, zap.NewNop(), publisher, 5*time.Second)
	return trainer, cache
}

func TestLoadOrTrainTrainsWhenCacheEmpty(t *testing.T) {
	source := &fakeSource{rows: trainingRows(100, 30)}
	publisher := &fakePublisher{}
	trainer, _ := newTestTrainer(t, source, publisher)

	result, err := trainer.LoadOrTrain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != "success" {
		t.Errorf("status = %q, want success", result.Status)
	}
	if result.TrainingInfo == nil {
		t.Fatal("training_info missing on fresh run")
	}
	if result.TrainingInfo.TotalSamples != 100 {
		t.Errorf("total_samples = %d, want 100", result.TrainingInfo.TotalSamples)
	}
	if result.TrainingInfo.PositiveRate != 0.3 {
		t.Errorf("positive_rate = %v, want 0.3", result.TrainingInfo.PositiveRate)
	}
	if result.TrainingInfo.TrainSamples+result.TrainingInfo.TestSamples != 100 {
		t.Errorf("split sizes %d + %d != 100",
			result.TrainingInfo.TrainSamples, result.TrainingInfo.TestSamples)
	}
	if len(result.Model.TopFeatures) == 0 || len(result.Model.TopFeatures) > 10 {
		t.Errorf("top_features length = %d, want 1..10", len(result.Model.TopFeatures))
	}
	want := []string{"model_training_started", "model_training_completed"}
	if len(publisher.events) != 2 || publisher.events[0] != want[0] || publisher.events[1] != want[1] {
		t.Errorf("events = %v, want %v", publisher.events, want)
	}
}

func TestLoadOrTrainReusesCachedModel(t *testing.T) {
	source := &fakeSource{rows: trainingRows(100, 30)}
	trainer, _ := newTestTrainer(t, source, nil)

	if _, err := trainer.LoadOrTrain(context.Background()); err != nil {
		t.Fatal(err)
	}
	result, err := trainer.LoadOrTrain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != "loaded" {
		t.Errorf("status = %q, want loaded", result.Status)
	}
	if source.fetches != 1 {
		t.Errorf("fetches = %d, want 1 (second call must not retrain)", source.fetches)
	}
	// The loaded path carries the same training_info as the run that
	// produced the cached model.
	if result.TrainingInfo == nil {
		t.Fatal("training_info missing on loaded path")
	}
	if result.TrainingInfo.TotalSamples != 100 {
		t.Errorf("total_samples = %d, want 100", result.TrainingInfo.TotalSamples)
	}
	if result.TrainingInfo.TrainSamples+result.TrainingInfo.TestSamples != result.TrainingInfo.TotalSamples {
		t.Errorf("split sizes %d + %d != %d", result.TrainingInfo.TrainSamples,
			result.TrainingInfo.TestSamples, result.TrainingInfo.TotalSamples)
	}
	if result.TrainingInfo.PositiveRate != 0.3 {
		t.Errorf("positive_rate = %v, want 0.3", result.TrainingInfo.PositiveRate)
	}
}

func TestLoadOrTrainReadsCacheAcrossInstances(t *testing.T) {
	source := &fakeSource{rows: trainingRows(100, 30)}
	trainer, cache := newTestTrainer(t, source, nil)
	if _, err := trainer.LoadOrTrain(context.Background()); err != nil {
		t.Fatal(err)
	}

	second := NewTrainer(source, cache, zap.NewNop(), nil, time.Second)
	result, err := second.LoadOrTrain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != "loaded" {
		t.Errorf("status = %q, want loaded from disk cache", result.Status)
	}
	if source.fetches != 1 {
		t.Errorf("fetches = %d, want 1", source.fetches)
	}
}

func TestForceRetrainAlwaysFetches(t *testing.T) {
	source := &fakeSource{rows: trainingRows(100, 30)}
	trainer, _ := newTestTrainer(t, source, nil)

	if _, err := trainer.LoadOrTrain(context.Background()); err != nil {
		t.Fatal(err)
	}
	result, err := trainer.ForceRetrain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != "success" {
		t.Errorf("status = %q, want success", result.Status)
	}
	if source.fetches != 2 {
		t.Errorf("fetches = %d, want 2", source.fetches)
	}
}

func TestLoadOrTrainDataUnavailable(t *testing.T) {
	source := &fakeSource{err: errors.New("connection refused")}
	publisher := &fakePublisher{}
	trainer, _ := newTestTrainer(t, source, publisher)

	_, err := trainer.LoadOrTrain(context.Background())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if len(publisher.events) != 2 || publisher.events[1] != "model_training_failed" {
		t.Errorf("events = %v, want failure event", publisher.events)
	}
}

func TestLoadOrTrainSingleClass(t *testing.T) {
	source := &fakeSource{rows: trainingRows(50, 0)}
	trainer, _ := newTestTrainer(t, source, nil)

	_, err := trainer.LoadOrTrain(context.Background())
	if !errors.Is(err, ErrTrainingFailed) {
		t.Fatalf("expected ErrTrainingFailed, got %v", err)
	}
}

func TestLoadOrTrainSurfacesCorruptCache(t *testing.T) {
	source := &fakeSource{rows: trainingRows(100, 30)}
	trainer, cache := newTestTrainer(t, source, nil)
	if _, err := trainer.LoadOrTrain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cache.Dir(), modelFileName), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	trainer.Invalidate()

	_, err := trainer.LoadOrTrain(context.Background())
	if !errors.Is(err, ErrCacheCorrupt) {
		t.Fatalf("corrupt cache must surface, not retrain: got %v", err)
	}
	if source.fetches != 1 {
		t.Errorf("fetches = %d, want 1 (no silent retrain over corrupt cache)", source.fetches)
	}
}

func TestCachedInfo(t *testing.T) {
	source := &fakeSource{rows: trainingRows(100, 30)}
	trainer, _ := newTestTrainer(t, source, nil)

	info := trainer.CachedInfo()
	if info.ModelExists {
		t.Error("model should not exist before training")
	}

	if _, err := trainer.LoadOrTrain(context.Background()); err != nil {
		t.Fatal(err)
	}
	info = trainer.CachedInfo()
	if !info.ModelExists {
		t.Fatal("model should exist after training")
	}
	if info.ModelType != modelType {
		t.Errorf("model_type = %q, want %q", info.ModelType, modelType)
	}
	if info.TrainingDate == "" {
		t.Error("training_date missing")
	}
}

func TestCachedInfoReportsCorruptCache(t *testing.T) {
	source := &fakeSource{rows: trainingRows(100, 30)}
	trainer, cache := newTestTrainer(t, source, nil)
	if _, err := trainer.LoadOrTrain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cache.Dir(), metadataFileName), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	trainer.Invalidate()

	info := trainer.CachedInfo()
	if info.ModelExists {
		t.Fatal("corrupt cache must not report an existing model")
	}
	missing := NewTrainer(source, NewModelCache(t.TempDir()), zap.NewNop(), nil, time.Second).CachedInfo()
	if info.Message == missing.Message {
		t.Error("corrupt cache and missing model must be distinguishable")
	}
}

func TestInvalidatePicksUpNewArtifacts(t *testing.T) {
	source := &fakeSource{rows: trainingRows(100, 30)}
	trainer, cache := newTestTrainer(t, source, nil)
	if _, err := trainer.LoadOrTrain(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Another process replaces the pair on disk.
	other := NewTrainer(&fakeSource{rows: trainingRows(120, 40)}, cache, zap.NewNop(), nil, time.Second)
	if _, err := other.ForceRetrain(context.Background()); err != nil {
		t.Fatal(err)
	}

	trainer.Invalidate()
	result, err := trainer.LoadOrTrain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != "loaded" {
		t.Errorf("status = %q, want loaded", result.Status)
	}
	if source.fetches != 1 {
		t.Errorf("fetches = %d, want 1", source.fetches)
	}
}

func TestTopFeaturesRanking(t *testing.T) {
	names := []string{"a", "b", "c", "d"}
	weights := []float64{0.1, -0.9, 0.5, -0.2}
	got := topFeatures(names, weights, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Feature != "b" || got[1].Feature != "c" || got[2].Feature != "d" {
		t.Errorf("ranking = %v, want b, c, d by absolute weight", got)
	}
	if got[0].Weight != -0.9 {
		t.Errorf("weight keeps its sign: got %v", got[0].Weight)
	}
}
