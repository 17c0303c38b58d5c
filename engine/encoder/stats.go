package encoder

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Aggregation selects how normalization statistics are pooled.
type Aggregation string

const (
	// AggFeatures keeps one mean and std per embedding column.
	AggFeatures Aggregation = "features"
	// AggTotal keeps a single mean and std over every entry.
	AggTotal Aggregation = "total"
)

// ParseAggregation validates an aggregation mode name.
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(s); a {
	case AggFeatures, AggTotal:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAggregation, s)
	}
}

// Statistics holds the mean and unbiased std used to normalize a table. With
// AggTotal both slices have a single element.
type Statistics struct {
	Aggregation Aggregation
	Mean        []float64
	Std         []float64
}

// computeStatistics pools over the given rows of table; a nil rows means every row.
func computeStatistics(table *mat.Dense, rows []int, agg Aggregation) (*Statistics, error) {
	r, c := table.Dims()
	if rows == nil {
		rows = make([]int, r)
		for i := range rows {
			rows[i] = i
		}
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: need at least two rows, have %d", ErrDegenerateStatistics, len(rows))
	}
	s := &Statistics{Aggregation: agg}
	switch agg {
	case AggFeatures:
		s.Mean = make([]float64, c)
		s.Std = make([]float64, c)
		col := make([]float64, len(rows))
		for j := 0; j < c; j++ {
			for i, row := range rows {
				col[i] = table.At(row, j)
			}
			s.Mean[j], s.Std[j] = stat.MeanStdDev(col, nil)
		}
	case AggTotal:
		all := make([]float64, 0, len(rows)*c)
		for _, row := range rows {
			all = append(all, table.RawRowView(row)...)
		}
		m, sd := stat.MeanStdDev(all, nil)
		s.Mean, s.Std = []float64{m}, []float64{sd}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregation, agg)
	}
	for j, sd := range s.Std {
		if sd == 0 {
			return nil, fmt.Errorf("%w at column %d", ErrDegenerateStatistics, j)
		}
	}
	return s, nil
}

// apply normalizes every row of table in place.
func (s *Statistics) apply(table *mat.Dense) {
	table.Apply(func(_, j int, v float64) float64 {
		if s.Aggregation == AggTotal {
			j = 0
		}
		return (v - s.Mean[j]) / s.Std[j]
	}, table)
}

// usedIDs lists the vocabulary ids that count towards statistics: every id
// below rows, minus "[unused" placeholders when filterUnused is set.
func usedIDs(vocab map[string]int, rows int, filterUnused bool) []int {
	if !filterUnused {
		ids := make([]int, rows)
		for i := range ids {
			ids[i] = i
		}
		return ids
	}
	seen := make([]bool, rows)
	for token, id := range vocab {
		if id < 0 || id >= rows || strings.Contains(token, "[unused") {
			continue
		}
		seen[id] = true
	}
	ids := make([]int, 0, rows)
	for id, ok := range seen {
		if ok {
			ids = append(ids, id)
		}
	}
	return ids
}
