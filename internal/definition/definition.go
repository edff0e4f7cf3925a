package definition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/exar/internal/archive"
	"github.com/roach88/exar/internal/model"
)

// File is one experiment version definition.
type File struct {
	Name            string     `yaml:"name" json:"name"`
	Version         string     `yaml:"version" json:"version"`
	Description     string     `yaml:"description,omitempty" json:"description,omitempty"`
	Researchers     []string   `yaml:"researchers,omitempty" json:"researchers,omitempty"`
	InputVariables  []Variable `yaml:"input_variables,omitempty" json:"input_variables,omitempty"`
	OutputVariables []Variable `yaml:"output_variables,omitempty" json:"output_variables,omitempty"`
}

// Variable is a variable entry in a definition file.
type Variable struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	DataType    DataType `yaml:"data_type" json:"data_type"`
}

// Error reports an invalid definition, with a position when one is known.
type Error struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.File != "":
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// Load reads the definition at path, choosing the format by extension.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("load definition: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(path, data)
	case ".cue", ".json":
		return ParseCUE(path, data)
	}
	return File{}, &Error{File: path, Message: "unsupported extension (want .yaml, .yml, .cue or .json)"}
}

// ParseYAML decodes a YAML definition. Unknown keys are rejected.
func ParseYAML(filename string, data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, yamlError(filename, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, withFile(filename, err)
	}
	return f, nil
}

func yamlError(filename string, err error) error {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return &Error{File: filename, Message: strings.Join(typeErr.Errors, "; ")}
	}
	return &Error{File: filename, Message: strings.TrimPrefix(err.Error(), "yaml: ")}
}

func withFile(filename string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.File == "" {
		e.File = filename
	}
	return err
}

// Validate checks the definition for problems the archive would reject
// later: missing names and variables declared twice.
func (f File) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return &Error{Message: "name is required"}
	}
	if strings.TrimSpace(f.Version) == "" {
		return &Error{Message: "version is required"}
	}
	seen := make(map[string]bool)
	check := func(section string, vars []Variable) error {
		for i, v := range vars {
			name := model.NormalizeName(v.Name)
			if name == "" {
				return &Error{Message: fmt.Sprintf("%s[%d]: name is required", section, i)}
			}
			if !model.DataType(v.DataType).Valid() {
				return &Error{Message: fmt.Sprintf("%s[%d]: data_type is required", section, i)}
			}
			if seen[name] {
				return &Error{Message: fmt.Sprintf("variable %q declared more than once", name)}
			}
			seen[name] = true
		}
		return nil
	}
	if err := check("input_variables", f.InputVariables); err != nil {
		return err
	}
	return check("output_variables", f.OutputVariables)
}

// VersionSpec converts the definition into the archive's version request.
// Inputs come first, then outputs, each in file order.
func (f File) VersionSpec() archive.VersionSpec {
	decls := make([]model.Decl, 0, len(f.InputVariables)+len(f.OutputVariables))
	for _, v := range f.InputVariables {
		decls = append(decls, v.decl(model.Input))
	}
	for _, v := range f.OutputVariables {
		decls = append(decls, v.decl(model.Output))
	}
	researchers := f.Researchers
	if researchers == nil {
		researchers = []string{}
	}
	return archive.VersionSpec{
		Experiment:  f.Name,
		Label:       f.Version,
		Description: f.Description,
		Researchers: researchers,
		Variables:   decls,
	}
}

func (v Variable) decl(kind model.Kind) model.Decl {
	return model.Decl{
		Variable: model.Variable{
			Name:        v.Name,
			Description: v.Description,
			Type:        model.DataType(v.DataType),
		},
		Kind: kind,
	}
}

// FromVersion builds a definition from a stored version and its declarations,
// the inverse of VersionSpec.
func FromVersion(v model.Version, decls []model.Decl) File {
	f := File{
		Name:        v.Experiment,
		Version:     v.Label,
		Description: v.Description,
		Researchers: v.Researchers,
	}
	for _, d := range decls {
		entry := Variable{Name: d.Name, Description: d.Description, DataType: DataType(d.Type)}
		if d.Kind == model.Input {
			f.InputVariables = append(f.InputVariables, entry)
		} else {
			f.OutputVariables = append(f.OutputVariables, entry)
		}
	}
	return f
}

// DataType is a model.DataType as written in definition files: one of
// Number, Label, Text, Bool, or a mapping {unit: <unit>}.
type DataType model.DataType

func parseTypeName(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number":
		return DataType(model.Number), nil
	case "label":
		return DataType(model.Label), nil
	case "text", "none":
		return DataType(model.Text), nil
	case "bool", "boolean":
		return DataType(model.Bool), nil
	}
	return DataType{}, fmt.Errorf("unknown data_type %q (want Number, Label, Text, Bool or {unit: ...})", s)
}

// UnmarshalYAML accepts a type name or a {unit: ...} mapping.
func (d *DataType) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := parseTypeName(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*d = parsed
		return nil
	case yaml.MappingNode:
		var m map[string]string
		if err := node.Decode(&m); err != nil {
			return err
		}
		unit, ok := m["unit"]
		if !ok || len(m) != 1 || unit == "" {
			return fmt.Errorf("line %d: data_type mapping must be {unit: <unit>}", node.Line)
		}
		*d = DataType(model.UnitOf(unit))
		return nil
	}
	return fmt.Errorf("line %d: data_type must be a name or {unit: <unit>}", node.Line)
}

// MarshalYAML writes the form UnmarshalYAML reads.
func (d DataType) MarshalYAML() (any, error) {
	if d.Class == model.ClassUnit {
		return map[string]string{"unit": d.Unit}, nil
	}
	return string(d.Class), nil
}

// UnmarshalJSON accepts the same shapes as UnmarshalYAML.
func (d *DataType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := parseTypeName(name)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode data_type: %w", err)
	}
	unit, ok := m["unit"]
	if !ok || len(m) != 1 || unit == "" {
		return fmt.Errorf("data_type mapping must be {unit: <unit>}")
	}
	*d = DataType(model.UnitOf(unit))
	return nil
}

// MarshalJSON writes the form UnmarshalJSON reads.
func (d DataType) MarshalJSON() ([]byte, error) {
	v, _ := d.MarshalYAML()
	return json.Marshal(v)
}
