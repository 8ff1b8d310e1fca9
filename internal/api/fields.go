package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func stringField(s *structpb.Struct, key string) string {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func boolField(s *structpb.Struct, key string) (value, ok bool) {
	v, ok := s.GetFields()[key]
	if !ok {
		return false, false
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return false, false
	}
	return v.GetBoolValue(), true
}

// intField reads a whole number, falling back to def when absent.
func intField(s *structpb.Struct, key string, def int) (int, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return def, nil
	}
	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s must be a number", key)
	}
	n := v.GetNumberValue()
	if n != float64(int(n)) {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s must be a whole number", key)
	}
	return int(n), nil
}

func stringListField(s *structpb.Struct, key string) []string {
	var out []string
	for _, v := range s.GetFields()[key].GetListValue().GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

func requireString(s *structpb.Struct, key string) (string, error) {
	v := stringField(s, key)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

func response(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toValue converts an arbitrary event payload into a structpb value through
// its JSON form.
func toValue(payload any) (*structpb.Value, error) {
	if payload == nil {
		return structpb.NewNullValue(), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return structpb.NewValue(generic)
}
