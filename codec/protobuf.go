package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoList encodes a sequence as a google.protobuf.ListValue of strings,
// which lets non-Go consumers read cached sequences with stock descriptors.
type ProtoList struct{}

func (ProtoList) Encode(ids []string) ([]byte, error) {
	lv := &structpb.ListValue{Values: make([]*structpb.Value, len(ids))}
	for i, id := range ids {
		lv.Values[i] = structpb.NewStringValue(id)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(lv)
}

func (ProtoList) Decode(b []byte) ([]string, error) {
	var lv structpb.ListValue
	if err := proto.Unmarshal(b, &lv); err != nil {
		return nil, err
	}
	ids := make([]string, len(lv.Values))
	for i, v := range lv.Values {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("codec: list element %d is not a string", i)
		}
		ids[i] = s.StringValue
	}
	return ids, nil
}
