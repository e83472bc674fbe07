// Command import_csv loads a telco customers CSV into the database,
// cleaning values the way the analytics queries expect: blank numerics
// stay NULL, TotalCharges is coerced to a number, SeniorCitizen
// defaults to 0.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"churnlens/db"
	"churnlens/logging"
)

const batchSize = 500

func main() {
	dbPath := flag.String("db", "./data/churn.db", "path to customers database")
	csvPath := flag.String("csv", "", "path to customers CSV (required)")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.New(logging.Config{Level: "warn"})
	defer logger.Sync()

	store, err := db.NewStore(*dbPath, logger)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	file, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		log.Fatalf("read header: %v", err)
	}
	col := indexColumns(header)

	ctx := context.Background()
	var batch []db.Customer
	total := 0
	skipped := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("read csv: %v", err)
		}
		customer, ok := parseCustomer(record, col)
		if !ok {
			skipped++
			continue
		}
		batch = append(batch, customer)
		if len(batch) >= batchSize {
			if err := store.InsertCustomers(ctx, batch); err != nil {
				log.Fatalf("insert batch: %v", err)
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := store.InsertCustomers(ctx, batch); err != nil {
			log.Fatalf("insert batch: %v", err)
		}
		total += len(batch)
	}

	fmt.Printf("imported %d customers (%d skipped)\n", total, skipped)
}

func indexColumns(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	return col
}

func parseCustomer(record []string, col map[string]int) (db.Customer, bool) {
	get := func(name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	id := get("customerID")
	if id == "" {
		return db.Customer{}, false
	}

	senior := 0
	if v, err := strconv.Atoi(get("SeniorCitizen")); err == nil {
		senior = v
	}

	return db.Customer{
		CustomerID:       id,
		Gender:           get("gender"),
		SeniorCitizen:    senior,
		Partner:          get("Partner"),
		Dependents:       get("Dependents"),
		Tenure:           parseFloat(get("tenure")),
		PhoneService:     get("PhoneService"),
		MultipleLines:    get("MultipleLines"),
		InternetService:  get("InternetService"),
		OnlineSecurity:   get("OnlineSecurity"),
		OnlineBackup:     get("OnlineBackup"),
		DeviceProtection: get("DeviceProtection"),
		TechSupport:      get("TechSupport"),
		StreamingTV:      get("StreamingTV"),
		StreamingMovies:  get("StreamingMovies"),
		Contract:         get("Contract"),
		PaperlessBilling: get("PaperlessBilling"),
		PaymentMethod:    get("PaymentMethod"),
		MonthlyCharges:   parseFloat(get("MonthlyCharges")),
		TotalCharges:     parseFloat(get("TotalCharges")),
		Churned:          get("Churn") == "Yes",
	}, true
}

// parseFloat keeps blanks and garbage as NULL instead of zero, so the
// imputation downstream sees them as missing.
func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
