package logic

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MedianFrequency converts an interval history (microseconds, 0 = empty slot)
// into a frequency in Hz. It returns 0 when fewer than MinSamples intervals
// are present. For even sample counts the lower-middle interval is used.
func MedianFrequency(intervals []uint32) float64 {
	samples := make([]float64, 0, len(intervals))
	for _, iv := range intervals {
		if iv > 0 {
			samples = append(samples, float64(iv))
		}
	}
	if len(samples) < MinSamples {
		return 0
	}

	// Empirical quantile at 0.5 picks x[ceil(n/2)-1].
	stat.SortWeighted(samples, nil)
	median := stat.Quantile(0.5, stat.Empirical, samples, nil)
	return 1e6 / median
}

// Classify returns the number of the car whose nominal frequency is closest
// to freq and strictly within FrequencyTolerance, or NoCar.
// Ties go to the lower car number.
func Classify(freq float64) int {
	best := NoCar
	bestDiff := FrequencyTolerance
	for _, car := range Cars {
		diff := math.Abs(freq - car.Frequency)
		if diff < bestDiff {
			bestDiff = diff
			best = car.Number
		}
	}
	return best
}

// NominalFrequency returns the nominal frequency of a car, or 0 if the number
// is not in the table.
func NominalFrequency(car int) float64 {
	for _, c := range Cars {
		if c.Number == car {
			return c.Frequency
		}
	}
	return 0
}

// IntervalFor returns the pulse interval in microseconds for a frequency,
// rounded to the nearest microsecond.
func IntervalFor(freq float64) uint32 {
	if freq <= 0 {
		return 0
	}
	return uint32(math.Round(1e6 / freq))
}
