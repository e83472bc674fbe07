// Command train_model trains the baseline churn model from the command
// line and prints its metrics. Useful for refreshing the artifact cache
// without going through the API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"churnlens/db"
	"churnlens/logging"
	"churnlens/ml"
)

func main() {
	dbPath := flag.String("db", "./data/churn.db", "path to customers database")
	modelDir := flag.String("models", "./models", "model artifact directory")
	force := flag.Bool("force", false, "retrain even when a cached model exists")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall training timeout")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "warn"})
	defer logger.Sync()

	store, err := db.NewStore(*dbPath, logger)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	if err := os.MkdirAll(*modelDir, 0o755); err != nil {
		log.Fatalf("create model dir: %v", err)
	}
	trainer := ml.NewTrainer(store, ml.NewModelCache(*modelDir), logger, nil, *timeout)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var result *ml.Result
	if *force {
		result, err = trainer.ForceRetrain(ctx)
	} else {
		result, err = trainer.LoadOrTrain(ctx)
	}
	if err != nil {
		log.Fatalf("training: %v", err)
	}

	fmt.Printf("status:   %s\n", result.Status)
	fmt.Printf("message:  %s\n", result.Message)
	fmt.Printf("auc:      %.4f\n", result.Model.AUC)
	if result.TrainingInfo != nil {
		fmt.Printf("samples:  %d total, %d train, %d test\n",
			result.TrainingInfo.TotalSamples,
			result.TrainingInfo.TrainSamples,
			result.TrainingInfo.TestSamples)
		fmt.Printf("features: %d\n", result.TrainingInfo.TotalFeatures)
		fmt.Printf("positive: %.4f\n", result.TrainingInfo.PositiveRate)
	}
	fmt.Println("top features by weight:")
	for _, fw := range result.Model.TopFeatures {
		fmt.Printf("  %-40s %+.4f\n", fw.Feature, fw.Weight)
	}
}
