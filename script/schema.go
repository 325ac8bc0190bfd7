package script

import (
	"github.com/invopop/jsonschema"
)

// Record is the authored form of an instruction. It documents the union of all fields; which
// are required depends on Type.
type Record struct {
	Type string   `json:"type" jsonschema:"enum=position,enum=rotateTo,enum=origin,enum=delta,enum=direct,enum=intake,enum=scorer,enum=catapult,enum=arm,enum=shoot,enum=delay,enum=hold,enum=coast,enum=short,enum=sline"`
	Name string   `json:"name,omitempty" jsonschema:"description=label shown when listing the routine"`
	X    *float64 `json:"x,omitempty" jsonschema:"description=inches"`
	Y    *float64 `json:"y,omitempty" jsonschema:"description=inches"`
	O    *float64 `json:"o,omitempty" jsonschema:"description=heading in radians"`
	V    *float64 `json:"v,omitempty" jsonschema:"description=velocity as a fraction of the gearing"`
	T    *float64 `json:"t,omitempty" jsonschema:"description=seconds"`
	S    *bool    `json:"s,omitempty" jsonschema:"description=drive straight instead of along an arc"`
	R    any      `json:"r,omitempty" jsonschema:"description=reverse for position; right wheel fraction for direct"`
	L    *float64 `json:"l,omitempty" jsonschema:"description=left wheel fraction"`
	P    *float64 `json:"p,omitempty" jsonschema:"description=arm position"`
	D    *float64 `json:"d,omitempty" jsonschema:"description=inches"`
}

// Schema returns the JSON schema of a record.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Record{})
}
