package api

import (
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/cascade/internal/types"
)

// ValueToProto converts an engine value to its wire form.
// Dates travel as 2006-01-02 strings; non-finite numbers become null.
func ValueToProto(v types.Value) *structpb.Value {
	switch v.Kind() {
	case types.KindString:
		s, _ := v.Str()
		return structpb.NewStringValue(s)
	case types.KindNumber:
		f, _ := v.Num()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return structpb.NewNullValue()
		}
		return structpb.NewNumberValue(f)
	case types.KindBool:
		b, _ := v.BoolValue()
		return structpb.NewBoolValue(b)
	case types.KindDate:
		return structpb.NewStringValue(v.Text())
	case types.KindArray:
		items := v.Items()
		list := make([]*structpb.Value, len(items))
		for i, item := range items {
			list[i] = ValueToProto(item)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: list})
	default:
		return structpb.NewNullValue()
	}
}

// ValueFromProto converts a wire value to an engine value.
// Nested objects have no engine representation and become null.
func ValueFromProto(v *structpb.Value) types.Value {
	if v == nil {
		return types.Null()
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return types.String(k.StringValue)
	case *structpb.Value_NumberValue:
		return types.FromAny(k.NumberValue)
	case *structpb.Value_BoolValue:
		return types.Bool(k.BoolValue)
	case *structpb.Value_ListValue:
		items := make([]types.Value, len(k.ListValue.GetValues()))
		for i, item := range k.ListValue.GetValues() {
			items[i] = ValueFromProto(item)
		}
		return types.Array(items...)
	default:
		return types.Null()
	}
}

// BagFromStruct converts a wire object into a ValueBag. A nil struct is empty.
func BagFromStruct(s *structpb.Struct) types.ValueBag {
	bag := make(types.ValueBag, len(s.GetFields()))
	for k, v := range s.GetFields() {
		bag[types.FieldID(k)] = ValueFromProto(v)
	}
	return bag
}

// BagToStruct converts a ValueBag into a wire object.
func BagToStruct(bag types.ValueBag) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(bag))
	for k, v := range bag {
		fields[string(k)] = ValueToProto(v)
	}
	return &structpb.Struct{Fields: fields}
}

// fieldList converts sorted field ids into a wire list.
func fieldList(ids []types.FieldID) *structpb.Value {
	list := make([]*structpb.Value, len(ids))
	for i, id := range ids {
		list[i] = structpb.NewStringValue(string(id))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

// StateToStruct renders a DerivedState as the Resolve response.
func StateToStruct(state types.DerivedState) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"hidden":      fieldList(state.Hidden.Sorted()),
		"required":    fieldList(state.Required.Sorted()),
		"recalculate": fieldList(state.Recalculate.Sorted()),
		"computed":    structpb.NewStructValue(BagToStruct(state.Computed)),
		"converged":   structpb.NewBoolValue(state.Converged),
		"passes":      structpb.NewNumberValue(float64(state.Passes)),
	}}
}
