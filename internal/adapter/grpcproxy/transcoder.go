// Package grpcproxy implements the descriptor-pool-driven gRPC
// adapter: binary Protobuf is decoded against configured descriptors
// and re-encoded as JSON for the universal context, and back again on
// the response path. No static codegen is involved.
package grpcproxy

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Method is a resolved RPC: its full path and the input/output message
// descriptors.
type Method struct {
	FullPath   string // "/package.Service/Method"
	Input      protoreflect.MessageDescriptor
	Output     protoreflect.MessageDescriptor
	ClientStream bool
	ServerStream bool
}

// Transcoder holds the descriptor pool and converts between binary
// Protobuf and JSON.
type Transcoder struct {
	mu      sync.RWMutex
	files   *protoregistry.Files
	types   *dynamicpb.Types
	methods map[string]*Method // "/pkg.Service/Method" → resolved
}

// NewTranscoder creates an empty transcoder.
func NewTranscoder() *Transcoder {
	files := new(protoregistry.Files)
	return &Transcoder{
		files:   files,
		types:   dynamicpb.NewTypes(files),
		methods: make(map[string]*Method),
	}
}

// LoadDescriptorSet registers the messages and services in a compiled
// FileDescriptorSet.
func (t *Transcoder) LoadDescriptorSet(data []byte) error {
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &fds); err != nil {
		return fmt.Errorf("grpcproxy: decode descriptor set: %w", err)
	}

	files, err := protodesc.NewFiles(&fds)
	if err != nil {
		return fmt.Errorf("grpcproxy: build descriptor pool: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = files
	t.types = dynamicpb.NewTypes(files)
	t.methods = make(map[string]*Method)

	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		services := fd.Services()
		for i := 0; i < services.Len(); i++ {
			sd := services.Get(i)
			methods := sd.Methods()
			for j := 0; j < methods.Len(); j++ {
				md := methods.Get(j)
				path := fmt.Sprintf("/%s/%s", sd.FullName(), md.Name())
				t.methods[path] = &Method{
					FullPath:     path,
					Input:        md.Input(),
					Output:       md.Output(),
					ClientStream: md.IsStreamingClient(),
					ServerStream: md.IsStreamingServer(),
				}
			}
		}
		return true
	})
	return nil
}

// LoadDescriptorSetBase64 registers a base64-encoded FileDescriptorSet
// document, the form descriptor sets take in the config store.
func (t *Transcoder) LoadDescriptorSetBase64(encoded string) error {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("grpcproxy: base64 descriptor set: %w", err)
	}
	return t.LoadDescriptorSet(data)
}

// ResolveMethod looks up a registered RPC by its full path.
func (t *Transcoder) ResolveMethod(fullPath string) (*Method, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.methods[fullPath]
	return m, ok
}

// Services lists the registered service names.
func (t *Transcoder) Services() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for path := range t.methods {
		svc := path[1:strings.LastIndex(path, "/")]
		if _, ok := seen[svc]; !ok {
			seen[svc] = struct{}{}
			out = append(out, svc)
		}
	}
	return out
}

// messageDescriptor resolves a message by full name.
func (t *Transcoder) messageDescriptor(fullName string) (protoreflect.MessageDescriptor, error) {
	t.mu.RLock()
	files := t.files
	t.mu.RUnlock()

	desc, err := files.FindDescriptorByName(protoreflect.FullName(fullName))
	if err != nil {
		return nil, fmt.Errorf("grpcproxy: descriptor %s not found: %w", fullName, err)
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("grpcproxy: %s is not a message", fullName)
	}
	return md, nil
}

// ProtobufToJSON decodes binary protobuf against a message descriptor
// and renders canonical JSON: nested messages recurse, map keys are
// string-coerced, bytes fields are base64.
func (t *Transcoder) ProtobufToJSON(data []byte, md protoreflect.MessageDescriptor) ([]byte, error) {
	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("grpcproxy: decode %s: %w", md.FullName(), err)
	}

	t.mu.RLock()
	resolver := t.types
	t.mu.RUnlock()

	out, err := protojson.MarshalOptions{
		UseProtoNames: true,
		Resolver:      resolver,
	}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("grpcproxy: encode %s as JSON: %w", md.FullName(), err)
	}
	return out, nil
}

// ProtobufToJSONByName is ProtobufToJSON with a descriptor lookup.
func (t *Transcoder) ProtobufToJSONByName(data []byte, fullName string) ([]byte, error) {
	md, err := t.messageDescriptor(fullName)
	if err != nil {
		return nil, err
	}
	return t.ProtobufToJSON(data, md)
}

// JSONToProtobuf parses JSON against a message descriptor and encodes
// binary protobuf deterministically, so canonical-order round trips
// are byte-for-byte stable.
func (t *Transcoder) JSONToProtobuf(data []byte, md protoreflect.MessageDescriptor) ([]byte, error) {
	msg := dynamicpb.NewMessage(md)

	t.mu.RLock()
	resolver := t.types
	t.mu.RUnlock()

	if err := (protojson.UnmarshalOptions{
		Resolver:       resolver,
		DiscardUnknown: true,
	}).Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("grpcproxy: parse JSON for %s: %w", md.FullName(), err)
	}

	out, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("grpcproxy: encode %s: %w", md.FullName(), err)
	}
	return out, nil
}

// JSONToProtobufByName is JSONToProtobuf with a descriptor lookup.
func (t *Transcoder) JSONToProtobufByName(data []byte, fullName string) ([]byte, error) {
	md, err := t.messageDescriptor(fullName)
	if err != nil {
		return nil, err
	}
	return t.JSONToProtobuf(data, md)
}
