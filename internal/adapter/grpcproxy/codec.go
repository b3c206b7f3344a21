package grpcproxy

import "fmt"

// rawFrame carries an undecoded gRPC message body.
type rawFrame struct {
	data []byte
}

// rawCodec passes message bytes through untouched so the dynamic
// service can decode them itself against the descriptor pool.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("grpcproxy: rawCodec asked to marshal %T", v)
	}
	return f.data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("grpcproxy: rawCodec asked to unmarshal into %T", v)
	}
	f.data = data
	return nil
}

func (rawCodec) Name() string { return "proto" }
