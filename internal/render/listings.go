package render

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/stats"
)

// TimeLayout is used for every date column.
const TimeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// Experiments lists experiments.
type Experiments []model.Experiment

func (l Experiments) Table() Table {
	t := Table{Header: []string{"Name"}, Rows: make([][]string, 0, len(l))}
	for _, e := range l {
		t.Rows = append(t.Rows, []string{e.Name})
	}
	return t
}

// Versions lists versions of one experiment.
type Versions []model.Version

func (l Versions) Table() Table {
	t := Table{
		Header: []string{"ID", "Experiment", "Version", "Date", "Researchers", "Description"},
		Rows:   make([][]string, 0, len(l)),
	}
	for _, v := range l {
		t.Rows = append(t.Rows, []string{
			v.ID, v.Experiment, v.Label, formatTime(v.Date),
			strings.Join(v.Researchers, ", "), v.Description,
		})
	}
	return t
}

// Variables lists the declarations of a version.
type Variables []model.Decl

type variableJSON struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

func (l Variables) Table() Table {
	t := Table{Header: []string{"Name", "Kind", "Type", "Description"}, Rows: make([][]string, 0, len(l))}
	for _, d := range l {
		t.Rows = append(t.Rows, []string{d.Name, string(d.Kind), d.Type.String(), d.Description})
	}
	return t
}

func (l Variables) MarshalJSON() ([]byte, error) {
	out := make([]variableJSON, len(l))
	for i, d := range l {
		out[i] = variableJSON{Name: d.Name, Kind: string(d.Kind), Type: d.Type.String(), Description: d.Description}
	}
	return json.Marshal(out)
}

// Instance is an instance together with its bound input values.
type Instance struct {
	model.Instance
	Inputs map[string]string `json:"inputs"`
}

// Instances lists instances of one version. Each input variable gets a column.
type Instances []Instance

func (l Instances) Table() Table {
	var names []string
	for _, inst := range l {
		for name := range inst.Inputs {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)

	t := Table{Header: append([]string{"ID", "Created"}, names...), Rows: make([][]string, 0, len(l))}
	for _, inst := range l {
		row := []string{inst.ID, formatTime(inst.Created)}
		for _, name := range names {
			row = append(row, inst.Inputs[name])
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Runs lists runs with their measurements. Each output variable gets a
// column, ordered by name.
type Runs []model.RunSummary

func (l Runs) Table() Table {
	var names []string
	for _, run := range l {
		for _, m := range run.Measurements {
			if !slices.Contains(names, m.VarName) {
				names = append(names, m.VarName)
			}
		}
	}
	slices.Sort(names)

	t := Table{Header: append([]string{"ID", "Date"}, names...), Rows: make([][]string, 0, len(l))}
	for _, run := range l {
		values := make(map[string]string, len(run.Measurements))
		for _, m := range run.Measurements {
			values[m.VarName] = m.Value
		}
		row := []string{run.ID, formatTime(run.Date)}
		for _, name := range names {
			row = append(row, values[name])
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Measurements lists the measurements of one run in recorded order.
type Measurements []model.Measurement

func (l Measurements) Table() Table {
	t := Table{Header: []string{"Variable", "Value"}, Rows: make([][]string, 0, len(l))}
	for _, m := range l {
		t.Rows = append(t.Rows, []string{m.VarName, m.Value})
	}
	return t
}

// Statistic is the aggregate of the runs below one instance.
type Statistic struct {
	InstanceID string            `json:"instance_id"`
	Inputs     map[string]string `json:"inputs,omitempty"`
	Summary    stats.Summary     `json:"summary"`
}

// Statistics lists run aggregates, one row per instance. Rows are expected
// to share declarations, as instances of one version do.
type Statistics []Statistic

func (l Statistics) Table() Table {
	var t Table
	var inputs []string
	for _, s := range l {
		for name := range s.Inputs {
			if !slices.Contains(inputs, name) {
				inputs = append(inputs, name)
			}
		}
	}
	slices.Sort(inputs)

	t.Header = append([]string{"Instance"}, inputs...)
	t.Rows = make([][]string, 0, len(l))
	for i, s := range l {
		header, cells := s.Summary.Columns()
		if i == 0 {
			t.Header = append(t.Header, header...)
		}
		row := []string{s.InstanceID}
		for _, name := range inputs {
			row = append(row, s.Inputs[name])
		}
		t.Rows = append(t.Rows, append(row, cells...))
	}
	if len(l) == 0 {
		t.Header = append(t.Header, "Runs")
	}
	return t
}
