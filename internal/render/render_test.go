package render

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/stats"
)

var epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func fixtureVersions() Versions {
	return Versions{
		{
			ID:          "VERAAAAAAAAAAAAA",
			Experiment:  "Perf1",
			Label:       "v1",
			Date:        epoch,
			Description: "runtime benchmark",
			Researchers: []string{"Ada", "Grace"},
		},
		{
			ID:          "VERBBBBBBBBBBBBB",
			Experiment:  "Perf1",
			Label:       "v2",
			Date:        epoch.Add(25*time.Hour + 30*time.Minute),
			Researchers: []string{},
		},
	}
}

func fixtureRuns() Runs {
	return Runs{
		{
			Run:        model.Run{ID: "RUNAAAAAAAAAAAAA", InstanceID: "INSTAAAAAAAAAAAA", Date: epoch.Add(time.Second)},
			Experiment: "Perf1",
			VersionID:  "VERAAAAAAAAAAAAA",
			Measurements: []model.Measurement{
				{RunID: "RUNAAAAAAAAAAAAA", VarName: "Runtime", Value: "10"},
				{RunID: "RUNAAAAAAAAAAAAA", VarName: "Correct", Value: "true"},
			},
		},
		{
			Run:        model.Run{ID: "RUNBBBBBBBBBBBBB", InstanceID: "INSTAAAAAAAAAAAA", Date: epoch.Add(2 * time.Second)},
			Experiment: "Perf1",
			VersionID:  "VERAAAAAAAAAAAAA",
			Measurements: []model.Measurement{
				{RunID: "RUNBBBBBBBBBBBBB", VarName: "Runtime", Value: "12.5"},
			},
		},
	}
}

func fixtureStatistics() Statistics {
	return Statistics{
		{
			InstanceID: "INSTAAAAAAAAAAAA",
			Inputs:     map[string]string{"Dataset": "A"},
			Summary: stats.Summary{
				Runs: 2,
				Aggregates: []stats.Aggregate{
					{Variable: "Correct", Type: "Bool", Kind: stats.Probability, Samples: 1, Probability: 1},
					{Variable: "Runtime", Type: "Unit(ms)", Kind: stats.Numeric, Samples: 2, Mean: 11.25, Median: 11.25, StdDev: 1.76777},
				},
			},
		},
		{
			InstanceID: "INSTBBBBBBBBBBBB",
			Inputs:     map[string]string{"Dataset": "B"},
			Summary: stats.Summary{
				Runs: 1,
				Aggregates: []stats.Aggregate{
					{Variable: "Correct", Type: "Bool", Kind: stats.Probability, Samples: 1, Probability: 0},
					{Variable: "Runtime", Type: "Unit(ms)", Kind: stats.Numeric, Samples: 1, Mean: 9, Median: 9, StdDev: stats.Float(math.NaN())},
				},
			},
		},
	}
}

func fixtureVariables() Variables {
	return Variables{
		{Variable: model.Variable{Name: "Dataset", Type: model.Label}, Kind: model.Input},
		{Variable: model.Variable{Name: "Runtime", Description: "wall time", Type: model.UnitOf("ms")}, Kind: model.Output},
	}
}

func render(t *testing.T, f Format, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f, v))
	return buf.Bytes()
}

func TestGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name   string
		format Format
		value  any
	}{
		{"versions_table", FormatTable, fixtureVersions()},
		{"versions_csv", FormatCSV, fixtureVersions()},
		{"versions_json", FormatJSON, fixtureVersions()},
		{"runs_table", FormatTable, fixtureRuns()},
		{"runs_csv", FormatCSV, fixtureRuns()},
		{"statistics_table", FormatTable, fixtureStatistics()},
		{"variables_json", FormatJSON, fixtureVariables()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, render(t, tt.format, tt.value))
		})
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":      FormatTable,
		"text":  FormatTable,
		"TABLE": FormatTable,
		"csv":   FormatCSV,
		"json":  FormatJSON,
		"yml":   FormatYAML,
		"yaml":  FormatYAML,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestWriteYAML_MatchesJSONFields(t *testing.T) {
	out := render(t, FormatYAML, fixtureVersions())

	var back []map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	require.Len(t, back, 2)
	assert.Equal(t, "VERAAAAAAAAAAAAA", back[0]["id"])
	assert.Equal(t, "v1", back[0]["version"])
	assert.Equal(t, "2024-01-01T09:00:00Z", back[0]["date"], "dates stay strings")
	assert.Equal(t, []any{"Ada", "Grace"}, back[0]["researchers"])
	assert.NotContains(t, string(out), "{")
}

func TestWriteYAML_QuotesAmbiguousStrings(t *testing.T) {
	out := render(t, FormatYAML, Measurements{{RunID: "R", VarName: "Correct", Value: "true"}})

	var back []map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "true", back[0]["value"])
}

func TestWrite_NotTabular(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, FormatTable, map[string]int{"a": 1})
	assert.ErrorContains(t, err, "no tabular form")

	buf.Reset()
	require.NoError(t, Write(&buf, FormatJSON, map[string]int{"a": 1}))
	assert.JSONEq(t, `{"a": 1}`, buf.String())
}

func TestTable_Empty(t *testing.T) {
	out := render(t, FormatTable, Experiments{})
	assert.Equal(t, "Name\n", string(out))

	out = render(t, FormatJSON, Experiments{})
	assert.Equal(t, "[]\n", string(out))

	tbl := Statistics{}.Table()
	assert.Equal(t, []string{"Instance", "Runs"}, tbl.Header)
}

func TestTable_MultilineCells(t *testing.T) {
	out := render(t, FormatTable, Measurements{{VarName: "Log", Value: "a\nb"}})
	assert.Equal(t, "Variable  Value\nLog       a b\n", string(out))

	out = render(t, FormatCSV, Measurements{{VarName: "Log", Value: "a\nb"}})
	assert.Equal(t, "Variable,Value\nLog,\"a\nb\"\n", string(out))
}

func TestInstances_Table(t *testing.T) {
	tbl := Instances{
		{Instance: model.Instance{ID: "I1", Created: epoch}, Inputs: map[string]string{"Threads": "4", "Dataset": "A"}},
		{Instance: model.Instance{ID: "I2"}, Inputs: map[string]string{"Dataset": "B"}},
	}.Table()
	assert.Equal(t, []string{"ID", "Created", "Dataset", "Threads"}, tbl.Header)
	assert.Equal(t, []string{"I1", "2024-01-01 09:00:00", "A", "4"}, tbl.Rows[0])
	assert.Equal(t, []string{"I2", "", "B", ""}, tbl.Rows[1])
}
