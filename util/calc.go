package util

import "math"

// CalcMean returns the arithmetic mean of numbers.
func CalcMean(numbers []float64) float64 {
	sum := 0.0
	for _, num := range numbers {
		sum += num
	}
	return sum / float64(len(numbers))
}

// CalcStandardDeviation returns the population standard deviation of
// numbers.
func CalcStandardDeviation(numbers []float64) float64 {
	mean := CalcMean(numbers)
	variance := 0.0
	for _, num := range numbers {
		diff := num - mean
		variance += diff * diff
	}
	variance /= float64(len(numbers))
	return math.Sqrt(variance)
}
