package vm

import (
	"testing"

	"github.com/jhump/protoreflect/desc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// itemDescriptor builds a message descriptor covering the conversion
// surface: scalars, a repeated field, a nested message, and an enum.
func itemDescriptor(t *testing.T) *desc.MessageDescriptor {
	t.Helper()

	strType := descriptorpb.FieldDescriptorProto_TYPE_STRING
	int64Type := descriptorpb.FieldDescriptorProto_TYPE_INT64
	doubleType := descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	boolType := descriptorpb.FieldDescriptorProto_TYPE_BOOL
	msgType := descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	enumType := descriptorpb.FieldDescriptorProto_TYPE_ENUM
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED

	field := func(name string, number int32, ft descriptorpb.FieldDescriptorProto_Type, label descriptorpb.FieldDescriptorProto_Label, typeName string) *descriptorpb.FieldDescriptorProto {
		f := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(number),
			Type:   ft.Enum(),
			Label:  label.Enum(),
		}
		if typeName != "" {
			f.TypeName = proto.String(typeName)
		}
		return f
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("item.proto"),
		Package: proto.String("testpb"),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("Color"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("UNKNOWN"), Number: proto.Int32(0)},
				{Name: proto.String("RED"), Number: proto.Int32(1)},
				{Name: proto.String("GREEN"), Number: proto.Int32(2)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Inner"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("label", 1, strType, optional, ""),
				},
			},
			{
				Name: proto.String("Item"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("name", 1, strType, optional, ""),
					field("count", 2, int64Type, optional, ""),
					field("ratio", 3, doubleType, optional, ""),
					field("active", 4, boolType, optional, ""),
					field("tags", 5, strType, repeated, ""),
					field("inner", 6, msgType, optional, ".testpb.Inner"),
					field("color", 7, enumType, optional, ".testpb.Color"),
				},
			},
		},
	}

	fd, err := desc.CreateFileDescriptor(fdp)
	if err != nil {
		t.Fatalf("CreateFileDescriptor: %v", err)
	}
	md := fd.FindMessage("testpb.Item")
	if md == nil {
		t.Fatal("testpb.Item not found")
	}
	return md
}

func TestDictToProtoScalars(t *testing.T) {
	md := itemDescriptor(t)
	d := NewDict()
	d.SetStr("name", NewStr("widget"))
	d.SetStr("count", FromInt(7))
	d.SetStr("ratio", FromFloat64(2.5))
	d.SetStr("active", True)

	msg, err := dictToProto(d, md)
	if err != nil {
		t.Fatalf("dictToProto: %v", err)
	}
	if got := msg.GetFieldByName("name"); got != "widget" {
		t.Errorf("name = %v", got)
	}
	if got := msg.GetFieldByName("count"); got != int64(7) {
		t.Errorf("count = %v", got)
	}
	if got := msg.GetFieldByName("ratio"); got != 2.5 {
		t.Errorf("ratio = %v", got)
	}
	if got := msg.GetFieldByName("active"); got != true {
		t.Errorf("active = %v", got)
	}
}

func TestDictToProtoSkipsUnknownFields(t *testing.T) {
	md := itemDescriptor(t)
	d := NewDict()
	d.SetStr("name", NewStr("widget"))
	d.SetStr("no_such_field", FromInt(1))

	msg, err := dictToProto(d, md)
	if err != nil {
		t.Fatalf("dictToProto: %v", err)
	}
	if got := msg.GetFieldByName("name"); got != "widget" {
		t.Errorf("name = %v", got)
	}
}

func TestDictToProtoTypeMismatch(t *testing.T) {
	md := itemDescriptor(t)
	d := NewDict()
	d.SetStr("count", NewStr("seven"))

	if _, err := dictToProto(d, md); err == nil {
		t.Fatal("expected a conversion error for a str in an int64 field")
	}
}

func TestDictToProtoEnumByName(t *testing.T) {
	md := itemDescriptor(t)
	d := NewDict()
	d.SetStr("color", NewStr("GREEN"))

	msg, err := dictToProto(d, md)
	if err != nil {
		t.Fatalf("dictToProto: %v", err)
	}
	if got := msg.GetFieldByName("color"); got != int32(2) {
		t.Errorf("color = %v, want 2", got)
	}
}

func TestProtoDictRoundTrip(t *testing.T) {
	md := itemDescriptor(t)
	inner := NewDict()
	inner.SetStr("label", NewStr("in"))
	d := NewDict()
	d.SetStr("name", NewStr("widget"))
	d.SetStr("count", FromInt(7))
	d.SetStr("tags", NewListValue([]Value{NewStr("a"), NewStr("b")}))
	d.SetStr("inner", NewDictValue(inner))
	d.SetStr("color", NewStr("RED"))

	msg, err := dictToProto(d, md)
	if err != nil {
		t.Fatalf("dictToProto: %v", err)
	}
	back, err := protoToDict(msg)
	if err != nil {
		t.Fatalf("protoToDict: %v", err)
	}
	out := back.Object().Dict

	if v, _ := out.GetStr("name"); v.StrVal() != "widget" {
		t.Errorf("name = %s", Repr(v))
	}
	if v, _ := out.GetStr("count"); !v.IsInt() || v.Int() != 7 {
		t.Errorf("count = %s", Repr(v))
	}
	if v, _ := out.GetStr("tags"); Repr(v) != `['a', 'b']` {
		t.Errorf("tags = %s", Repr(v))
	}
	if v, ok := out.GetStr("inner"); !ok {
		t.Error("inner missing")
	} else if lbl, _ := v.Object().Dict.GetStr("label"); lbl.StrVal() != "in" {
		t.Errorf("inner.label = %s", Repr(lbl))
	}
	// Enums travel by name on the way out.
	if v, _ := out.GetStr("color"); v.StrVal() != "RED" {
		t.Errorf("color = %s", Repr(v))
	}
}

func TestRPCHandleValidation(t *testing.T) {
	_, err := lookupRPCClient(NewStr("nope"))
	wantRaised(t, err, "TypeError", "rpc handle must be an int")

	_, err = lookupRPCClient(FromInt(999999))
	wantRaised(t, err, "ValueError", "is not open")
}

func TestRPCCloseUnknownHandleIsNoop(t *testing.T) {
	v := New()
	res, err := builtinRPCClose(v, []Value{FromInt(424242)})
	if err != nil {
		t.Fatalf("rpc_close: %v", err)
	}
	if res != None {
		t.Errorf("rpc_close returned %s, want None", Repr(res))
	}
}
