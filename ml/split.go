package ml

import (
	"math"
	"math/rand"
	"sort"
)

// stratifiedSplit partitions row indices into train and test sets while
// preserving the label proportions in each. The seed fixes the shuffle:
// identical input always produces an identical partition.
func stratifiedSplit(labels []int, testRatio float64, seed int64) (trainIdx, testIdx []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}

	byClass := make(map[int][]int)
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	rnd := rand.New(rand.NewSource(seed))
	for _, class := range classes {
		indices := byClass[class]
		rnd.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		testN := int(math.Round(float64(len(indices)) * testRatio))
		testIdx = append(testIdx, indices[:testN]...)
		trainIdx = append(trainIdx, indices[testN:]...)
	}

	sort.Ints(trainIdx)
	sort.Ints(testIdx)
	return trainIdx, testIdx
}

func selectRows(matrix [][]float64, labels []int, indices []int) ([][]float64, []int) {
	x := make([][]float64, len(indices))
	y := make([]int, len(indices))
	for i, idx := range indices {
		x[i] = matrix[idx]
		y[i] = labels[idx]
	}
	return x, y
}
