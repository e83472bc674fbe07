package ml

import (
	"sort"
)

// Feature group declaration order defines the layout of every encoded
// feature vector: numerics first, then flags, then one-hot categoricals.
var (
	numericFeatures     = []string{"tenure", "monthly_charges"}
	flagFeatures        = []string{"online_security", "tech_support"}
	categoricalFeatures = []string{"contract", "payment_method"}
)

// NumericFeatures returns the numeric feature columns in declaration order.
func NumericFeatures() []string { return append([]string(nil), numericFeatures...) }

// FlagFeatures returns the boolean feature columns in declaration order.
func FlagFeatures() []string { return append([]string(nil), flagFeatures...) }

// CategoricalFeatures returns the categorical feature columns in declaration order.
func CategoricalFeatures() []string { return append([]string(nil), categoricalFeatures...) }

// CustomerRow is one customer as retrieved from the data source. The
// training query only returns rows where tenure and monthly charges are
// present, but the preprocessor still imputes nil numerics so it works on
// arbitrary row sets. Empty strings mean the source value was NULL.
type CustomerRow struct {
	Churned        bool
	Tenure         *float64
	MonthlyCharges *float64
	Contract       string
	PaymentMethod  string
	OnlineSecurity string
	TechSupport    string
}

// CleanedTable is the preprocessor output: same row count as the input,
// no missing values remaining.
type CleanedTable struct {
	Labels      []int
	Numeric     map[string][]float64
	Flags       map[string][]float64
	Categorical map[string][]string
}

// Rows returns the number of rows in the table.
func (t *CleanedTable) Rows() int { return len(t.Labels) }

// Preprocess turns raw customer rows into a numerically clean table.
// Missing numerics are filled with the column median computed over the
// given rows, missing categoricals become "Unknown", and the tri-state
// flags map Yes to 1 with everything else (No or absent) to 0.
func Preprocess(rows []CustomerRow) (*CleanedTable, error) {
	if len(rows) == 0 {
		return nil, ErrDataUnavailable
	}

	t := &CleanedTable{
		Labels:      make([]int, len(rows)),
		Numeric:     make(map[string][]float64, len(numericFeatures)),
		Flags:       make(map[string][]float64, len(flagFeatures)),
		Categorical: make(map[string][]string, len(categoricalFeatures)),
	}

	tenureMedian := medianOf(rows, func(r CustomerRow) *float64 { return r.Tenure })
	monthlyMedian := medianOf(rows, func(r CustomerRow) *float64 { return r.MonthlyCharges })

	tenure := make([]float64, len(rows))
	monthly := make([]float64, len(rows))
	security := make([]float64, len(rows))
	support := make([]float64, len(rows))
	contract := make([]string, len(rows))
	payment := make([]string, len(rows))

	for i, r := range rows {
		if r.Churned {
			t.Labels[i] = 1
		}
		tenure[i] = fillNumeric(r.Tenure, tenureMedian)
		monthly[i] = fillNumeric(r.MonthlyCharges, monthlyMedian)
		security[i] = flagValue(r.OnlineSecurity)
		support[i] = flagValue(r.TechSupport)
		contract[i] = fillCategory(r.Contract)
		payment[i] = fillCategory(r.PaymentMethod)
	}

	t.Numeric["tenure"] = tenure
	t.Numeric["monthly_charges"] = monthly
	t.Flags["online_security"] = security
	t.Flags["tech_support"] = support
	t.Categorical["contract"] = contract
	t.Categorical["payment_method"] = payment
	return t, nil
}

func fillNumeric(v *float64, median float64) float64 {
	if v == nil {
		return median
	}
	return *v
}

func fillCategory(v string) string {
	if v == "" {
		return "Unknown"
	}
	return v
}

func flagValue(v string) float64 {
	if v == "Yes" {
		return 1
	}
	return 0
}

// medianOf computes the median over the present values of one numeric
// column. The imputation value is run-dependent: it comes from the
// retrieved rows, not from a global constant.
func medianOf(rows []CustomerRow, get func(CustomerRow) *float64) float64 {
	values := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v := get(r); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}
