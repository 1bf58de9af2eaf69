package miso

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// ToProto converts the row to a protobuf Struct. Identities and times become numbers and
// empty numbers become null.
func (r Row) ToProto() (*structpb.Struct, error) {
	fields := make(map[string]*structpb.Value, len(r))
	for name, v := range r {
		pv, err := protoValue(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		fields[name] = pv
	}
	return &structpb.Struct{Fields: fields}, nil
}

func protoValue(v interface{}) (*structpb.Value, error) {
	switch x := v.(type) {
	case RowID:
		return structpb.NewNumberValue(float64(x)), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return structpb.NewNullValue(), nil
		}
	}
	return structpb.NewValue(v)
}

// ToProto converts the rows, in position order, to a protobuf ListValue of Structs, the
// form parser.Proto reads back.
func (ds *Dataset) ToProto() (*structpb.ListValue, error) {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, ds.Len())}
	for pos := 0; pos < ds.Len(); pos++ {
		s, err := ds.rowAt(pos).ToProto()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", ds.idAt(pos), err)
		}
		list.Values = append(list.Values, structpb.NewStructValue(s))
	}
	return list, nil
}
