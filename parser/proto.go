package parser

import (
	"fmt"

	"github.com/jrhy/miso"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Proto parses a google.protobuf.ListValue whose elements are Structs, one per row, as
// written by miso.Dataset.ToProto. Columns are ordered by name. With JSON set the payload
// is the protobuf JSON encoding instead of the binary one.
type Proto struct {
	Options
	JSON bool
}

// Parse implements miso.Parser.
func (p Proto) Parse(payload []byte) (*miso.Built, error) {
	var list structpb.ListValue
	var err error
	if p.JSON {
		err = protojson.Unmarshal(payload, &list)
	} else {
		err = proto.Unmarshal(payload, &list)
	}
	if err != nil {
		return nil, invalid("proto: %w", err)
	}
	rows := make([]map[string]interface{}, 0, len(list.Values))
	for i, v := range list.Values {
		s := v.GetStructValue()
		if s == nil {
			return nil, invalid("proto: element %d is not a struct", i)
		}
		rows = append(rows, s.AsMap())
	}
	specs := rowSpecs(sortedKeys(rows), rows)
	p.Options.apply(specs)
	return &miso.Built{Columns: specs}, nil
}

func newProto(cfg map[string]string) (miso.Parser, error) {
	o, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("proto: %w", err)
	}
	return Proto{Options: o, JSON: cfg["encoding"] == "json"}, nil
}
