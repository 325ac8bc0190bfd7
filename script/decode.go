package script

import (
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// typeKey is the record discriminator.
const typeKey = "type"

// aliases maps legacy type names to their kind.
var aliases = map[string]Kind{
	"rotation": KindRotateTo,
}

// required lists the fields a record of each kind must carry.
var required = map[Kind][]string{
	KindPosition: {"x", "y", "v", "t"},
	KindRotateTo: {"o", "v", "t"},
	KindOrigin:   {"x", "y", "o"},
	KindDelta:    {"x", "y", "o"},
	KindDirect:   {"l", "r", "t"},
	KindIntake:   {"v", "t"},
	KindScorer:   {"v", "t"},
	KindCatapult: {"v", "t"},
	KindArm:      {"p", "t"},
	KindDelay:    {"t"},
	KindSLine:    {"d", "v", "t"},
}

// Decode turns a record into an Instruction. Records of an unknown type decode to Unknown.
func Decode(record map[string]interface{}) (Instruction, error) {
	raw, ok := record[typeKey]
	if !ok {
		return nil, errors.New("record has no type")
	}
	typ, ok := raw.(string)
	if !ok {
		return nil, errors.Errorf("record type must be a string, got %T", raw)
	}
	kind := Kind(typ)
	if alias, ok := aliases[typ]; ok {
		kind = alias
	}

	var inst Instruction
	switch kind {
	case KindPosition:
		var p Position
		if err := decodeInto(kind, record, &p); err != nil {
			return nil, err
		}
		inst = p
	case KindRotateTo:
		var r RotateTo
		if err := decodeInto(kind, record, &r); err != nil {
			return nil, err
		}
		inst = r
	case KindOrigin:
		var o Origin
		if err := decodeInto(kind, record, &o); err != nil {
			return nil, err
		}
		inst = o
	case KindDelta:
		var d Delta
		if err := decodeInto(kind, record, &d); err != nil {
			return nil, err
		}
		inst = d
	case KindDirect:
		var d Direct
		if err := decodeInto(kind, record, &d); err != nil {
			return nil, err
		}
		inst = d
	case KindIntake, KindScorer, KindCatapult:
		e := Effector{Target: kind}
		if err := decodeInto(kind, record, &e); err != nil {
			return nil, err
		}
		inst = e
	case KindArm:
		var a Arm
		if err := decodeInto(kind, record, &a); err != nil {
			return nil, err
		}
		inst = a
	case KindShoot:
		var s Shoot
		if err := decodeInto(kind, record, &s); err != nil {
			return nil, err
		}
		inst = s
	case KindDelay:
		var d Delay
		if err := decodeInto(kind, record, &d); err != nil {
			return nil, err
		}
		inst = d
	case KindHold, KindCoast, KindShort:
		b := Brake{Mode: kind}
		if err := decodeInto(kind, record, &b); err != nil {
			return nil, err
		}
		inst = b
	case KindSLine:
		var s SLine
		if err := decodeInto(kind, record, &s); err != nil {
			return nil, err
		}
		inst = s
	default:
		u := Unknown{Type: typ}
		if err := decodeInto(kind, record, &u); err != nil {
			return nil, err
		}
		inst = u
	}
	return inst, nil
}

// DecodeAll decodes a routine. The first bad record fails the whole routine.
func DecodeAll(records []map[string]interface{}) ([]Instruction, error) {
	insts := make([]Instruction, 0, len(records))
	for i, record := range records {
		inst, err := Decode(record)
		if err != nil {
			return nil, errors.Wrapf(err, "step %d", i)
		}
		insts = append(insts, inst)
	}
	return insts, nil
}

func decodeInto(kind Kind, record map[string]interface{}, out interface{}) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		Metadata:         &md,
		Squash:           true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(record); err != nil {
		return errors.Wrapf(err, "cannot decode %s", kind)
	}
	if missing := lo.Intersect(required[kind], md.Unset); len(missing) != 0 {
		sort.Strings(missing)
		return errors.Errorf("%s is missing %v", kind, missing)
	}
	return nil
}
