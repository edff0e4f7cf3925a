// Package stats aggregates the measurements of many runs per output variable.
//
// Numeric variables (Number and Unit types) report mean, median and sample
// standard deviation with NaN measurements skipped. Label and Text
// variables report a histogram, and Bool variables the fraction of true
// values.
package stats

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/exar/internal/model"
)

// Kind selects which fields of an Aggregate are meaningful.
type Kind string

const (
	Numeric     Kind = "numeric"
	Histogram   Kind = "histogram"
	Probability Kind = "probability"
)

// Float is a statistic that may be undefined (NaN), e.g. the standard
// deviation of a single sample. Undefined values encode as JSON null.
type Float float64

// Defined reports whether f holds a finite number.
func (f Float) Defined() bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

func (f Float) String() string {
	if !f.Defined() {
		return "-"
	}
	return strconv.FormatFloat(float64(f), 'g', 6, 64)
}

func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Defined() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

// Bucket is one histogram entry.
type Bucket struct {
	Value string `json:"value" yaml:"value"`
	Count int    `json:"count" yaml:"count"`
}

// Aggregate summarises one output variable over a set of runs. Only the
// fields for its Kind are encoded.
type Aggregate struct {
	Variable string
	Type     string
	Kind     Kind

	// Samples is the number of values aggregated, after NaN and missing
	// measurements are dropped.
	Samples int

	Mean   Float
	Median Float
	StdDev Float

	Histogram []Bucket

	Probability Float
}

type numericFields struct {
	Variable string `json:"variable" yaml:"variable"`
	Type     string `json:"type" yaml:"type"`
	Kind     Kind   `json:"kind" yaml:"kind"`
	Samples  int    `json:"samples" yaml:"samples"`
	Mean     Float  `json:"mean" yaml:"mean"`
	Median   Float  `json:"median" yaml:"median"`
	StdDev   Float  `json:"std_dev" yaml:"std_dev"`
}

type histogramFields struct {
	Variable  string   `json:"variable" yaml:"variable"`
	Type      string   `json:"type" yaml:"type"`
	Kind      Kind     `json:"kind" yaml:"kind"`
	Samples   int      `json:"samples" yaml:"samples"`
	Histogram []Bucket `json:"histogram" yaml:"histogram"`
}

type probabilityFields struct {
	Variable    string `json:"variable" yaml:"variable"`
	Type        string `json:"type" yaml:"type"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Samples     int    `json:"samples" yaml:"samples"`
	Probability Float  `json:"probability" yaml:"probability"`
}

func (a Aggregate) fields() any {
	switch a.Kind {
	case Numeric:
		return numericFields{a.Variable, a.Type, a.Kind, a.Samples, a.Mean, a.Median, a.StdDev}
	case Probability:
		return probabilityFields{a.Variable, a.Type, a.Kind, a.Samples, a.Probability}
	}
	buckets := a.Histogram
	if buckets == nil {
		buckets = []Bucket{}
	}
	return histogramFields{a.Variable, a.Type, a.Kind, a.Samples, buckets}
}

func (a Aggregate) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.fields())
}

func (a Aggregate) MarshalYAML() (any, error) {
	return a.fields(), nil
}

// Summary is the result of aggregating a set of runs.
type Summary struct {
	Runs       int         `json:"runs" yaml:"runs"`
	Aggregates []Aggregate `json:"aggregates" yaml:"aggregates"`
}

// Summarize aggregates runs per Output declaration in decls. Aggregates are
// ordered by variable name. Measurements that cannot be parsed as the
// declared type are skipped like missing ones.
func Summarize(decls []model.Decl, runs []model.RunSummary) Summary {
	outputs := make([]model.Decl, 0, len(decls))
	for _, d := range decls {
		if d.Kind == model.Output {
			outputs = append(outputs, d)
		}
	}
	model.SortDecls(outputs)

	s := Summary{Runs: len(runs), Aggregates: make([]Aggregate, 0, len(outputs))}
	for _, d := range outputs {
		s.Aggregates = append(s.Aggregates, aggregate(d, collect(d, runs)))
	}
	return s
}

func collect(d model.Decl, runs []model.RunSummary) []model.Value {
	values := make([]model.Value, 0, len(runs))
	for _, run := range runs {
		for _, m := range run.Measurements {
			if m.VarName != d.Name {
				continue
			}
			v, err := model.ParseValue(d.Type, m.Value)
			if err == nil {
				values = append(values, v)
			}
			break
		}
	}
	return values
}

func aggregate(d model.Decl, values []model.Value) Aggregate {
	a := Aggregate{Variable: d.Name, Type: d.Type.String()}
	switch {
	case d.Type.Numeric():
		a.Kind = Numeric
		xs := make([]float64, 0, len(values))
		for _, v := range values {
			if n, ok := v.(model.Numeric); ok && !math.IsNaN(float64(n)) {
				xs = append(xs, float64(n))
			}
		}
		a.Samples = len(xs)
		a.Mean = Float(Mean(xs))
		a.Median = Float(Median(xs))
		a.StdDev = Float(StdDev(xs))
	case d.Type.Class == model.ClassBool:
		a.Kind = Probability
		a.Samples = len(values)
		trues := 0
		for _, v := range values {
			if b, ok := v.(model.BoolValue); ok && bool(b) {
				trues++
			}
		}
		a.Probability = Float(math.NaN())
		if len(values) > 0 {
			a.Probability = Float(float64(trues) / float64(len(values)))
		}
	default:
		a.Kind = Histogram
		a.Samples = len(values)
		a.Histogram = histogram(values)
	}
	return a
}

// histogram counts distinct values, most frequent first and ties by value.
func histogram(values []model.Value) []Bucket {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v.String()]++
	}
	buckets := make([]Bucket, 0, len(counts))
	for value, n := range counts {
		buckets = append(buckets, Bucket{Value: value, Count: n})
	}
	slices.SortFunc(buckets, func(a, b Bucket) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Value, b.Value)
	})
	return buckets
}

// Mean returns the arithmetic mean of xs, or NaN when xs is empty.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Median returns the middle value of xs (the mean of the two middle values
// for even lengths), or NaN when xs is empty. xs is not modified.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// StdDev returns the sample standard deviation of xs, or NaN for fewer
// than two values.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	mean := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Columns flattens a summary into a header and one row, the shape used for
// table and CSV output.
func (s Summary) Columns() (header, row []string) {
	header = []string{"Runs"}
	row = []string{strconv.Itoa(s.Runs)}
	for _, a := range s.Aggregates {
		switch a.Kind {
		case Numeric:
			header = append(header, a.Variable+" (mean)", a.Variable+" (median)", a.Variable+" (std. dev.)")
			row = append(row, a.Mean.String(), a.Median.String(), a.StdDev.String())
		case Probability:
			header = append(header, a.Variable+" (probability)")
			row = append(row, a.Probability.String())
		case Histogram:
			parts := make([]string, len(a.Histogram))
			for i, b := range a.Histogram {
				parts[i] = b.Value + ": " + strconv.Itoa(b.Count)
			}
			header = append(header, a.Variable)
			row = append(row, strings.Join(parts, "; "))
		}
	}
	return header, row
}
