package server

import "encoding/json"

// jsonCodec lets Connect handlers exchange plain Go structs as JSON.
// The runtime service has no generated protobuf types; every procedure
// speaks the Connect protocol with application/json bodies.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(message any) ([]byte, error) {
	return json.Marshal(message)
}

func (jsonCodec) Unmarshal(data []byte, message any) error {
	return json.Unmarshal(data, message)
}
