package vm

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ---------------------------------------------------------------------------
// RPC client registry
// ---------------------------------------------------------------------------

// rpcClient wraps a gRPC connection with a server-reflection client so
// program code can call services without generated stubs.
type rpcClient struct {
	conn      *grpc.ClientConn
	refClient *grpcreflect.Client
	target    string
	closed    atomic.Bool
	mu        sync.Mutex
}

var rpcClientRegistry = struct {
	sync.RWMutex
	clients map[int64]*rpcClient
	nextID  int64
}{
	clients: make(map[int64]*rpcClient),
	nextID:  1,
}

func registerRPCClient(c *rpcClient) int64 {
	rpcClientRegistry.Lock()
	defer rpcClientRegistry.Unlock()

	id := rpcClientRegistry.nextID
	rpcClientRegistry.nextID++
	rpcClientRegistry.clients[id] = c
	return id
}

func lookupRPCClient(handle Value) (*rpcClient, error) {
	if !handle.IsInt() {
		return nil, typeErrorf("rpc handle must be an int, not %s", TypeName(handle))
	}
	rpcClientRegistry.RLock()
	c := rpcClientRegistry.clients[handle.Int()]
	rpcClientRegistry.RUnlock()
	if c == nil || c.closed.Load() {
		return nil, valueErrorf("rpc handle %d is not open", handle.Int())
	}
	return c, nil
}

func unregisterRPCClient(id int64) {
	rpcClientRegistry.Lock()
	defer rpcClientRegistry.Unlock()
	delete(rpcClientRegistry.clients, id)
}

// ---------------------------------------------------------------------------
// Method resolution
// ---------------------------------------------------------------------------

// resolveMethod resolves "package.Service/Method" to its descriptor via
// server reflection.
func resolveMethod(client *rpcClient, fullMethod string) (*desc.MethodDescriptor, error) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) != 2 {
		return nil, valueErrorf("invalid method format: %s (expected 'service/method')", fullMethod)
	}
	serviceName, methodName := parts[0], parts[1]

	svcDesc, err := client.refClient.ResolveService(serviceName)
	if err != nil {
		return nil, runtimeErrorf("cannot resolve service %s: %v", serviceName, err)
	}
	methodDesc := svcDesc.FindMethodByName(methodName)
	if methodDesc == nil {
		return nil, valueErrorf("method %s not found in service %s", methodName, serviceName)
	}
	return methodDesc, nil
}

// ---------------------------------------------------------------------------
// Dict <-> protobuf conversion
// ---------------------------------------------------------------------------

// dictToProto builds a dynamic message from a dict. Keys must be strings
// naming fields; unknown fields are skipped.
func dictToProto(d *Dict, msgDesc *desc.MessageDescriptor) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(msgDesc)

	for _, key := range d.Keys() {
		if !key.IsStr() {
			continue
		}
		fieldName := key.StrVal()
		field := msgDesc.FindFieldByName(fieldName)
		if field == nil {
			continue
		}
		val, _, err := d.GetItem(key)
		if err != nil {
			return nil, err
		}
		protoVal, err := valueToProtoField(val, field)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fieldName, err)
		}
		if err := msg.TrySetField(field, protoVal); err != nil {
			return nil, fmt.Errorf("setting field %s: %w", fieldName, err)
		}
	}
	return msg, nil
}

func valueToProtoField(val Value, field *desc.FieldDescriptor) (interface{}, error) {
	if field.IsRepeated() && !field.IsMap() {
		return valueToRepeatedField(val, field)
	}

	switch field.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_SINT32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		if val.IsInt() {
			return int32(val.Int()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_SINT64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		if val.IsInt() {
			return val.Int(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_UINT32,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		if val.IsInt() {
			return uint32(val.Int()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		if val.IsInt() {
			return uint64(val.Int()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		if val.IsFloat() {
			return float32(val.Float64()), nil
		}
		if val.IsInt() {
			return float32(val.Int()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		if val.IsFloat() {
			return val.Float64(), nil
		}
		if val.IsInt() {
			return float64(val.Int()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		return val == True, nil
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		if val.IsStr() {
			return val.StrVal(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		if val.isKind(KindBytes) {
			return val.Object().Bytes, nil
		}
		if val.IsStr() {
			return []byte(val.StrVal()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		if val.isKind(KindDict) {
			return dictToProto(val.Object().Dict, field.GetMessageType())
		}
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		if val.IsInt() {
			return int32(val.Int()), nil
		}
		if val.IsStr() {
			enumVal := field.GetEnumType().FindValueByName(val.StrVal())
			if enumVal != nil {
				return enumVal.GetNumber(), nil
			}
		}
	}

	return nil, fmt.Errorf("cannot convert %s value to proto type %v", TypeName(val), field.GetType())
}

func valueToRepeatedField(val Value, field *desc.FieldDescriptor) (interface{}, error) {
	var items []Value
	switch {
	case val.isKind(KindList):
		items = val.Object().List.Items()
	case val.isKind(KindTuple):
		items = val.Object().Tuple
	default:
		return nil, fmt.Errorf("expected list for repeated field, got %s", TypeName(val))
	}

	result := make([]interface{}, len(items))
	for i, elem := range items {
		protoVal, err := valueToProtoField(elem, field)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		result[i] = protoVal
	}
	return result, nil
}

// protoToDict converts a dynamic message into a dict keyed by field name.
func protoToDict(msg *dynamic.Message) (Value, error) {
	d := NewDict()

	for _, field := range msg.GetKnownFields() {
		if !msg.HasField(field) {
			continue
		}
		val := msg.GetField(field)
		converted, err := protoFieldToValue(val, field)
		if err != nil {
			return None, fmt.Errorf("field %s: %w", field.GetName(), err)
		}
		d.SetStr(field.GetName(), converted)
	}
	return NewDictValue(d), nil
}

func protoFieldToValue(val interface{}, field *desc.FieldDescriptor) (Value, error) {
	if field.IsMap() {
		return mapFieldToValue(val, field)
	}
	if field.IsRepeated() {
		return repeatedFieldToValue(val, field)
	}
	return protoElementToValue(val, field)
}

func repeatedFieldToValue(val interface{}, field *desc.FieldDescriptor) (Value, error) {
	slice := reflect.ValueOf(val)
	elements := make([]Value, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		converted, err := protoElementToValue(slice.Index(i).Interface(), field)
		if err != nil {
			return None, err
		}
		elements[i] = converted
	}
	return NewListValue(elements), nil
}

// protoElementToValue converts a single scalar or message, ignoring the
// field's repeated-ness.
func protoElementToValue(val interface{}, field *desc.FieldDescriptor) (Value, error) {
	switch field.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_SINT32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		return FromInt(int64(val.(int32))), nil
	case descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_SINT64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		return makeInt(val.(int64)), nil
	case descriptorpb.FieldDescriptorProto_TYPE_UINT32,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		return FromInt(int64(val.(uint32))), nil
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		return makeInt(int64(val.(uint64))), nil
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		return FromFloat64(float64(val.(float32))), nil
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		return FromFloat64(val.(float64)), nil
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		return FromBool(val.(bool)), nil
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		return NewStr(val.(string)), nil
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		return NewBytes(val.([]byte)), nil
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		return protoToDict(val.(*dynamic.Message))
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		enumNum := val.(int32)
		if enumVal := field.GetEnumType().FindValueByNumber(enumNum); enumVal != nil {
			return NewStr(enumVal.GetName()), nil
		}
		return FromInt(int64(enumNum)), nil
	}
	return None, fmt.Errorf("unsupported proto type: %v", field.GetType())
}

func mapFieldToValue(val interface{}, field *desc.FieldDescriptor) (Value, error) {
	mapVal, ok := val.(map[interface{}]interface{})
	if !ok {
		return None, fmt.Errorf("expected map, got %T", val)
	}

	d := NewDict()
	keyField := field.GetMapKeyType()
	valueField := field.GetMapValueType()

	for k, v := range mapVal {
		keyVal, err := protoElementToValue(k, keyField)
		if err != nil {
			return None, fmt.Errorf("map key conversion: %w", err)
		}
		valueVal, err := protoElementToValue(v, valueField)
		if err != nil {
			return None, fmt.Errorf("map value conversion: %w", err)
		}
		if err := d.SetItem(keyVal, valueVal); err != nil {
			return None, err
		}
	}
	return NewDictValue(d), nil
}

// ---------------------------------------------------------------------------
// RPC builtins
// ---------------------------------------------------------------------------

// installRPCBuiltins registers the builtins that let program code talk to
// gRPC services through server reflection: rpc_dial, rpc_call, rpc_close,
// rpc_services, rpc_methods.
func (vm *VirtualMachine) installRPCBuiltins() {
	register := func(name string, fn BuiltinFunc) {
		vm.Builtins.SetStr(name, NewBuiltin(name, fn))
	}

	register("rpc_dial", builtinRPCDial)
	register("rpc_call", builtinRPCCall)
	register("rpc_close", builtinRPCClose)
	register("rpc_services", builtinRPCServices)
	register("rpc_methods", builtinRPCMethods)
}

func builtinRPCDial(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) != 1 {
		return None, typeErrorf("rpc_dial() takes exactly one argument (%d given)", len(args))
	}
	if !args[0].IsStr() {
		return None, typeErrorf("rpc_dial() target must be a str, not %s", TypeName(args[0]))
	}
	target := args[0].StrVal()

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return None, runtimeErrorf("rpc connection to %s failed: %v", target, err)
	}
	client := &rpcClient{
		conn:      conn,
		refClient: grpcreflect.NewClientAuto(context.Background(), conn),
		target:    target,
	}
	return FromInt(registerRPCClient(client)), nil
}

func builtinRPCCall(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) != 3 {
		return None, typeErrorf("rpc_call() takes exactly 3 arguments (%d given)", len(args))
	}
	client, err := lookupRPCClient(args[0])
	if err != nil {
		return None, err
	}
	if !args[1].IsStr() {
		return None, typeErrorf("rpc_call() method must be a str, not %s", TypeName(args[1]))
	}
	if !args[2].isKind(KindDict) {
		return None, typeErrorf("rpc_call() request must be a dict, not %s", TypeName(args[2]))
	}

	method := args[1].StrVal()
	methodDesc, err := resolveMethod(client, method)
	if err != nil {
		return None, err
	}
	if methodDesc.IsClientStreaming() || methodDesc.IsServerStreaming() {
		return None, valueErrorf("rpc_call() only supports unary methods: %s", method)
	}

	reqMsg, err := dictToProto(args[2].Object().Dict, methodDesc.GetInputType())
	if err != nil {
		return None, valueErrorf("rpc request conversion: %v", err)
	}
	respMsg := dynamic.NewMessage(methodDesc.GetOutputType())

	if err := client.conn.Invoke(context.Background(), "/"+method, reqMsg, respMsg); err != nil {
		return None, runtimeErrorf("rpc call %s failed: %v", method, err)
	}

	respDict, err := protoToDict(respMsg)
	if err != nil {
		return None, runtimeErrorf("rpc response conversion: %v", err)
	}
	return respDict, nil
}

func builtinRPCClose(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) != 1 {
		return None, typeErrorf("rpc_close() takes exactly one argument (%d given)", len(args))
	}
	if !args[0].IsInt() {
		return None, typeErrorf("rpc handle must be an int, not %s", TypeName(args[0]))
	}
	id := args[0].Int()

	rpcClientRegistry.RLock()
	client := rpcClientRegistry.clients[id]
	rpcClientRegistry.RUnlock()
	if client == nil {
		return None, nil
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed.Load() {
		client.closed.Store(true)
		client.refClient.Reset()
		client.conn.Close()
		unregisterRPCClient(id)
	}
	return None, nil
}

func builtinRPCServices(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) != 1 {
		return None, typeErrorf("rpc_services() takes exactly one argument (%d given)", len(args))
	}
	client, err := lookupRPCClient(args[0])
	if err != nil {
		return None, err
	}

	services, err := client.refClient.ListServices()
	if err != nil {
		return None, runtimeErrorf("rpc service listing failed: %v", err)
	}
	elements := make([]Value, 0, len(services))
	for _, svc := range services {
		// The reflection service itself is plumbing, not program API.
		if strings.HasPrefix(svc, "grpc.reflection") {
			continue
		}
		elements = append(elements, NewStr(svc))
	}
	return NewListValue(elements), nil
}

func builtinRPCMethods(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) != 2 {
		return None, typeErrorf("rpc_methods() takes exactly 2 arguments (%d given)", len(args))
	}
	client, err := lookupRPCClient(args[0])
	if err != nil {
		return None, err
	}
	if !args[1].IsStr() {
		return None, typeErrorf("rpc_methods() service must be a str, not %s", TypeName(args[1]))
	}

	svcDesc, err := client.refClient.ResolveService(args[1].StrVal())
	if err != nil {
		return None, runtimeErrorf("cannot resolve service %s: %v", args[1].StrVal(), err)
	}
	methods := svcDesc.GetMethods()
	elements := make([]Value, len(methods))
	for i, m := range methods {
		elements[i] = NewStr(m.GetName())
	}
	return NewListValue(elements), nil
}
