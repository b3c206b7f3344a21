package grpcproxy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// testDescriptorSet builds a small FileDescriptorSet covering scalar,
// bytes, nested-message and map fields.
func testDescriptorSet(t *testing.T) []byte {
	t.Helper()

	strType := descriptorpb.FieldDescriptorProto_TYPE_STRING
	i32Type := descriptorpb.FieldDescriptorProto_TYPE_INT32
	bytesType := descriptorpb.FieldDescriptorProto_TYPE_BYTES
	msgType := descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED

	field := func(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name: proto.String(name), Number: proto.Int32(num), Type: &typ, Label: &optional,
		}
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("user.proto"),
		Package: proto.String("testpkg"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Address"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("street", 1, strType),
					field("city", 2, strType),
				},
			},
			{
				Name: proto.String("User"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("id", 1, strType),
					field("age", 2, i32Type),
					field("blob", 3, bytesType),
					{
						Name: proto.String("address"), Number: proto.Int32(4),
						Type: &msgType, Label: &optional,
						TypeName: proto.String(".testpkg.Address"),
					},
					{
						Name: proto.String("labels"), Number: proto.Int32(5),
						Type: &msgType, Label: &repeated,
						TypeName: proto.String(".testpkg.User.LabelsEntry"),
					},
				},
				NestedType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("LabelsEntry"),
						Field: []*descriptorpb.FieldDescriptorProto{
							field("key", 1, strType),
							field("value", 2, strType),
						},
						Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
					},
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("UserService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("GetUser"),
						InputType:  proto.String(".testpkg.User"),
						OutputType: proto.String(".testpkg.User"),
					},
				},
			},
		},
	}

	fds := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fdp}}
	data, err := proto.Marshal(fds)
	if err != nil {
		t.Fatalf("marshal descriptor set: %v", err)
	}
	return data
}

func newTestTranscoder(t *testing.T) *Transcoder {
	t.Helper()
	tr := NewTranscoder()
	if err := tr.LoadDescriptorSet(testDescriptorSet(t)); err != nil {
		t.Fatalf("load descriptor set: %v", err)
	}
	return tr
}

func TestLoadDescriptorSetBase64(t *testing.T) {
	tr := NewTranscoder()
	encoded := base64.StdEncoding.EncodeToString(testDescriptorSet(t))
	if err := tr.LoadDescriptorSetBase64(encoded); err != nil {
		t.Fatalf("load base64: %v", err)
	}

	services := tr.Services()
	if len(services) != 1 || services[0] != "testpkg.UserService" {
		t.Errorf("unexpected services: %v", services)
	}
}

func TestLoadDescriptorSetInvalid(t *testing.T) {
	tr := NewTranscoder()
	if err := tr.LoadDescriptorSetBase64("!!not-base64!!"); err == nil {
		t.Error("invalid base64 must fail")
	}
	if err := tr.LoadDescriptorSet([]byte("garbage-bytes-here")); err == nil {
		t.Error("invalid descriptor bytes must fail")
	}
}

func TestResolveMethod(t *testing.T) {
	tr := newTestTranscoder(t)

	m, ok := tr.ResolveMethod("/testpkg.UserService/GetUser")
	if !ok {
		t.Fatal("GetUser not resolved")
	}
	if string(m.Input.FullName()) != "testpkg.User" {
		t.Errorf("wrong input type: %s", m.Input.FullName())
	}

	if _, ok := tr.ResolveMethod("/testpkg.UserService/Missing"); ok {
		t.Error("missing method should not resolve")
	}
}

func TestJSONProtobufRoundTrip(t *testing.T) {
	tr := newTestTranscoder(t)

	in := map[string]interface{}{
		"id":   "u-1",
		"age":  float64(30),
		"blob": base64.StdEncoding.EncodeToString([]byte("raw")),
		"address": map[string]interface{}{
			"street": "1 Main St",
			"city":   "Springfield",
		},
		"labels": map[string]interface{}{"env": "prod", "tier": "gold"},
	}
	jsonIn, _ := json.Marshal(in)

	protoBytes, err := tr.JSONToProtobufByName(jsonIn, "testpkg.User")
	if err != nil {
		t.Fatalf("json→proto: %v", err)
	}

	jsonOut, err := tr.ProtobufToJSONByName(protoBytes, "testpkg.User")
	if err != nil {
		t.Fatalf("proto→json: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(jsonOut, &out); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if out["id"] != "u-1" {
		t.Errorf("id lost: %v", out["id"])
	}
	if out["blob"] != in["blob"] {
		t.Errorf("bytes must stay base64: %v", out["blob"])
	}
	addr, ok := out["address"].(map[string]interface{})
	if !ok || addr["city"] != "Springfield" {
		t.Errorf("nested message lost: %v", out["address"])
	}
	labels, ok := out["labels"].(map[string]interface{})
	if !ok || labels["env"] != "prod" {
		t.Errorf("map field must render as JSON object: %v", out["labels"])
	}

	// proto→json→proto reproduces the deterministic encoding
	// byte-for-byte.
	protoBytes2, err := tr.JSONToProtobufByName(jsonOut, "testpkg.User")
	if err != nil {
		t.Fatalf("json→proto second pass: %v", err)
	}
	if !bytes.Equal(protoBytes, protoBytes2) {
		t.Error("round trip is not byte-stable")
	}
}

func TestUnknownMessageType(t *testing.T) {
	tr := newTestTranscoder(t)
	if _, err := tr.JSONToProtobufByName([]byte(`{}`), "testpkg.Nope"); err == nil {
		t.Error("unknown message type must fail")
	}
}
