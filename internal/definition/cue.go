package definition

import (
	"bytes"
	_ "embed"
	"encoding/json"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// ParseCUE decodes a CUE (or JSON) definition after unifying it with the
// #Experiment schema.
func ParseCUE(filename string, data []byte) (File, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return File{}, formatCUEError(filename, err)
	}

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return File{}, formatCUEError(filename, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Experiment")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return File{}, formatCUEError(filename, err)
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return File{}, formatCUEError(filename, err)
	}

	var f File
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, &Error{File: filename, Message: err.Error()}
	}
	if err := f.Validate(); err != nil {
		return File{}, withFile(filename, err)
	}
	return f, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(filename string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{File: filename, Message: err.Error()}
	}
	first := errs[0]
	out := &Error{File: filename, Message: first.Error()}
	for _, pos := range errors.Positions(first) {
		if pos.Filename() == filename {
			out.Line = pos.Line()
			out.Column = pos.Column()
			break
		}
	}
	return out
}
