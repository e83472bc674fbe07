package ml

import (
	"fmt"
	"sort"
)

// EncodeFeatures builds the feature matrix and its ordered column names
// from a cleaned table. Numeric columns come first in declaration order,
// then flag columns, then one-hot columns per categorical field with
// categories sorted ascending and the first dropped as the reference
// level. The matrix and the name list must travel together: the matrix
// alone cannot be interpreted.
func EncodeFeatures(t *CleanedTable) ([][]float64, []string, error) {
	n := t.Rows()
	if n == 0 {
		return nil, nil, ErrDataUnavailable
	}

	var columns [][]float64
	var names []string

	for _, name := range numericFeatures {
		col, ok := t.Numeric[name]
		if !ok {
			return nil, nil, fmt.Errorf("missing numeric column %s", name)
		}
		columns = append(columns, col)
		names = append(names, name)
	}

	for _, name := range flagFeatures {
		col, ok := t.Flags[name]
		if !ok {
			return nil, nil, fmt.Errorf("missing flag column %s", name)
		}
		columns = append(columns, col)
		names = append(names, name)
	}

	for _, name := range categoricalFeatures {
		col, ok := t.Categorical[name]
		if !ok {
			return nil, nil, fmt.Errorf("missing categorical column %s", name)
		}
		// Category set comes from this run's data, not a fixed vocabulary.
		// A field with a single observed category contributes no columns.
		for _, category := range encodedCategories(col) {
			oneHot := make([]float64, n)
			for i, v := range col {
				if v == category {
					oneHot[i] = 1
				}
			}
			columns = append(columns, oneHot)
			names = append(names, name+"_"+category)
		}
	}

	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("%w: no features available", ErrTrainingFailed)
	}

	matrix := make([][]float64, n)
	for i := range matrix {
		row := make([]float64, len(columns))
		for j, col := range columns {
			row[j] = col[i]
		}
		matrix[i] = row
	}
	return matrix, names, nil
}

// encodedCategories returns the observed categories sorted ascending with
// the lexicographically smallest dropped.
func encodedCategories(col []string) []string {
	seen := make(map[string]struct{})
	for _, v := range col {
		seen[v] = struct{}{}
	}
	categories := make([]string, 0, len(seen))
	for v := range seen {
		categories = append(categories, v)
	}
	sort.Strings(categories)
	if len(categories) <= 1 {
		return nil
	}
	return categories[1:]
}
