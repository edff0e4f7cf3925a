package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind tells whether a variable is bound per instance (Input) or observed per run (Output).
type Kind string

const (
	Input  Kind = "Input"
	Output Kind = "Output"
)

// Valid reports whether k is one of the two declared kinds.
func (k Kind) Valid() bool {
	return k == Input || k == Output
}

// ParseKind accepts "input"/"output" in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "input", "in":
		return Input, nil
	case "output", "out":
		return Output, nil
	}
	return "", fmt.Errorf("invalid variable kind %q: must be Input or Output", s)
}

// MarshalJSON stores the kind as a JSON string ("Input"/"Output").
func (k Kind) MarshalJSON() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid variable kind %q", string(k))
	}
	return json.Marshal(string(k))
}

// UnmarshalJSON rejects anything but the two kinds.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode kind: %w", err)
	}
	parsed := Kind(s)
	if !parsed.Valid() {
		return fmt.Errorf("invalid variable kind %q", s)
	}
	*k = parsed
	return nil
}

// TypeClass is the family a DataType belongs to.
type TypeClass string

const (
	ClassUnit   TypeClass = "Unit"
	ClassNumber TypeClass = "Number"
	ClassLabel  TypeClass = "Label"
	ClassText   TypeClass = "Text"
	ClassBool   TypeClass = "Bool"
)

// DataType is the declared type of a variable. Unit types are numeric with
// a free-text unit attached ("ms", "count", "MiB/s").
type DataType struct {
	Class TypeClass
	Unit  string
}

var (
	Number = DataType{Class: ClassNumber}
	Label  = DataType{Class: ClassLabel}
	Text   = DataType{Class: ClassText}
	Bool   = DataType{Class: ClassBool}
)

// UnitOf returns a numeric DataType carrying unit.
func UnitOf(unit string) DataType {
	return DataType{Class: ClassUnit, Unit: unit}
}

// Valid reports whether d is one of the five type classes.
func (d DataType) Valid() bool {
	switch d.Class {
	case ClassUnit, ClassNumber, ClassLabel, ClassText, ClassBool:
		return true
	}
	return false
}

// Numeric reports whether values of this type are numbers.
func (d DataType) Numeric() bool {
	return d.Class == ClassUnit || d.Class == ClassNumber
}

func (d DataType) String() string {
	if d.Class == ClassUnit {
		return fmt.Sprintf("Unit(%s)", d.Unit)
	}
	return string(d.Class)
}

// ParseDataType maps the free-text type column used by callers onto a DataType.
//
//	"Number"           → Number
//	"Label"            → Label
//	"Text", "none", "" → Text
//	"Bool", "boolean"  → Bool
//	"Unit(ms)", "ms"   → Unit(ms)
func ParseDataType(s string) DataType {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "number", "numeric":
		return Number
	case "label":
		return Label
	case "text", "none", "":
		return Text
	case "bool", "boolean":
		return Bool
	}
	if strings.HasPrefix(trimmed, "Unit(") && strings.HasSuffix(trimmed, ")") {
		return UnitOf(trimmed[len("Unit(") : len(trimmed)-1])
	}
	return UnitOf(trimmed)
}

// MarshalJSON writes the storage encoding: "Number" or {"Unit":"ms"}.
func (d DataType) MarshalJSON() ([]byte, error) {
	switch d.Class {
	case ClassUnit:
		return json.Marshal(map[string]string{"Unit": d.Unit})
	case ClassNumber, ClassLabel, ClassText, ClassBool:
		return json.Marshal(string(d.Class))
	}
	return nil, fmt.Errorf("invalid data type class %q", string(d.Class))
}

// UnmarshalJSON reads the storage encoding written by MarshalJSON.
func (d *DataType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch TypeClass(name) {
		case ClassNumber, ClassLabel, ClassText, ClassBool:
			*d = DataType{Class: TypeClass(name)}
			return nil
		}
		return fmt.Errorf("invalid data type %q", name)
	}

	var unit map[string]string
	if err := json.Unmarshal(data, &unit); err != nil {
		return fmt.Errorf("decode data type: %w", err)
	}
	u, ok := unit["Unit"]
	if !ok || len(unit) != 1 {
		return fmt.Errorf("invalid data type %s", string(data))
	}
	*d = UnitOf(u)
	return nil
}

// Variable is a named, typed quantity shared between experiment versions.
type Variable struct {
	Name        string
	Description string
	Type        DataType
}

// Decl attaches a Variable to a version with a Kind.
type Decl struct {
	Variable
	Kind Kind
}

// SortDecls orders declarations by name for deterministic comparison and output.
func SortDecls(decls []Decl) {
	slices.SortFunc(decls, func(a, b Decl) int {
		return strings.Compare(a.Name, b.Name)
	})
}

// SameDecls reports whether two declaration sets are equal, ignoring order
// and descriptions. Descriptions are free text and never part of version identity.
func SameDecls(a, b []Decl) bool {
	if len(a) != len(b) {
		return false
	}
	index := make(map[string]Decl, len(a))
	for _, d := range a {
		index[NormalizeName(d.Name)] = d
	}
	for _, d := range b {
		other, ok := index[NormalizeName(d.Name)]
		if !ok || other.Kind != d.Kind || other.Type != d.Type {
			return false
		}
	}
	return true
}

// Experiment is the root of the hierarchy.
type Experiment struct {
	Name string `json:"name"`
}

// Version is one revision of an experiment's variable contract.
type Version struct {
	ID          string    `json:"id"`
	Experiment  string    `json:"experiment"`
	Label       string    `json:"version"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Researchers []string  `json:"researchers"`
}

// ResearcherSeparator joins researcher names in the stored column.
const ResearcherSeparator = ";"

// JoinResearchers produces the stored form of a researcher list.
func JoinResearchers(researchers []string) string {
	return strings.Join(researchers, ResearcherSeparator)
}

// SplitResearchers reverses JoinResearchers. An empty column yields no researchers.
func SplitResearchers(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ResearcherSeparator)
}

// Instance is one configuration (bound input values) of a version.
type Instance struct {
	ID         string    `json:"id"`
	Experiment string    `json:"experiment"`
	VersionID  string    `json:"version_id"`
	Created    time.Time `json:"created"`
}

// InValue is the bound value of an Input variable for one instance.
type InValue struct {
	InstanceID string `json:"instance_id"`
	VarName    string `json:"var_name"`
	Value      string `json:"value"`
}

// Run is one execution of an instance.
type Run struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	Date       time.Time `json:"date"`
}

// Measurement is an observed Output value for one run.
type Measurement struct {
	RunID   string `json:"run_id"`
	VarName string `json:"var_name"`
	Value   string `json:"value"`
}

// RunSummary is returned once a run has been committed.
type RunSummary struct {
	Run
	Experiment   string        `json:"experiment"`
	VersionID    string        `json:"version_id"`
	Measurements []Measurement `json:"measurements"`
}
