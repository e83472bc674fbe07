package ml

import (
	"errors"
	"testing"
)

func fp(v float64) *float64 { return &v }

func TestPreprocessEmptyInput(t *testing.T) {
	_, err := Preprocess(nil)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestPreprocessMedianImputation(t *testing.T) {
	rows := []CustomerRow{
		{Tenure: fp(1), MonthlyCharges: fp(10)},
		{Tenure: fp(3), MonthlyCharges: fp(20)},
		{Tenure: fp(5), MonthlyCharges: fp(30)},
		{Tenure: nil, MonthlyCharges: fp(40)},
	}
	table, err := Preprocess(rows)
	if err != nil {
		t.Fatal(err)
	}
	// Median of the present tenures {1, 3, 5} is 3.
	if got := table.Numeric["tenure"][3]; got != 3 {
		t.Errorf("imputed tenure = %v, want 3", got)
	}
	if got := table.Numeric["monthly_charges"][1]; got != 20 {
		t.Errorf("monthly_charges[1] = %v, want 20", got)
	}
}

func TestPreprocessMedianIsRunDependent(t *testing.T) {
	rowsA := []CustomerRow{
		{Tenure: fp(2), MonthlyCharges: fp(1)},
		{Tenure: fp(4), MonthlyCharges: fp(1)},
		{Tenure: nil, MonthlyCharges: fp(1)},
	}
	rowsB := []CustomerRow{
		{Tenure: fp(20), MonthlyCharges: fp(1)},
		{Tenure: fp(40), MonthlyCharges: fp(1)},
		{Tenure: nil, MonthlyCharges: fp(1)},
	}
	a, _ := Preprocess(rowsA)
	b, _ := Preprocess(rowsB)
	if a.Numeric["tenure"][2] == b.Numeric["tenure"][2] {
		t.Error("imputation value should follow the input rows")
	}
	if a.Numeric["tenure"][2] != 3 || b.Numeric["tenure"][2] != 30 {
		t.Errorf("got %v and %v, want 3 and 30",
			a.Numeric["tenure"][2], b.Numeric["tenure"][2])
	}
}

func TestPreprocessCategoricalUnknownFill(t *testing.T) {
	rows := []CustomerRow{
		{Tenure: fp(1), MonthlyCharges: fp(1), Contract: "Month-to-month", PaymentMethod: ""},
		{Tenure: fp(1), MonthlyCharges: fp(1), Contract: "", PaymentMethod: "Credit card"},
	}
	table, err := Preprocess(rows)
	if err != nil {
		t.Fatal(err)
	}
	if got := table.Categorical["payment_method"][0]; got != "Unknown" {
		t.Errorf("payment_method[0] = %q, want Unknown", got)
	}
	if got := table.Categorical["contract"][1]; got != "Unknown" {
		t.Errorf("contract[1] = %q, want Unknown", got)
	}
	if got := table.Categorical["contract"][0]; got != "Month-to-month" {
		t.Errorf("contract[0] = %q, want original value", got)
	}
}

func TestPreprocessFlagMapping(t *testing.T) {
	rows := []CustomerRow{
		{Tenure: fp(1), MonthlyCharges: fp(1), OnlineSecurity: "Yes", TechSupport: "No"},
		{Tenure: fp(1), MonthlyCharges: fp(1), OnlineSecurity: "No internet service", TechSupport: ""},
	}
	table, err := Preprocess(rows)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]float64{
		"online_security": {1, 0},
		"tech_support":    {0, 0},
	}
	for name, expected := range want {
		for i, v := range expected {
			if table.Flags[name][i] != v {
				t.Errorf("%s[%d] = %v, want %v", name, i, table.Flags[name][i], v)
			}
		}
	}
}

func TestPreprocessLabels(t *testing.T) {
	rows := []CustomerRow{
		{Churned: true, Tenure: fp(1), MonthlyCharges: fp(1)},
		{Churned: false, Tenure: fp(1), MonthlyCharges: fp(1)},
	}
	table, err := Preprocess(rows)
	if err != nil {
		t.Fatal(err)
	}
	if table.Labels[0] != 1 || table.Labels[1] != 0 {
		t.Errorf("labels = %v, want [1 0]", table.Labels)
	}
}
