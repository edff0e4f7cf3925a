// Package definition loads experiment version definitions from files.
//
// A definition names the experiment, the version label and the variables
// the version declares. Files are YAML (.yaml, .yml) or CUE (.cue, .json);
// CUE input is unified with the embedded #Experiment schema before it is
// decoded, so structural mistakes are reported with file positions.
//
//	name: Perf1
//	version: v1
//	researchers: [Ada]
//	input_variables:
//	  - name: Dataset
//	    data_type: Label
//	output_variables:
//	  - name: Runtime
//	    data_type: {unit: ms}
package definition
