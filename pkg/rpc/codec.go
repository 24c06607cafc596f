// Package rpc is the RPC surface of spec §6: scheduler<->executor and
// client<->scheduler messages carried over real gRPC transport.
//
// No .proto/generated stub exists anywhere in the retrieval pack to
// ground a protobuf-wire implementation on, so message types here are
// plain Go structs marshaled with encoding/json through a grpc.Codec,
// and the service methods are wired through a hand-authored
// grpc.ServiceDesc — the artifact protoc-gen-go-grpc would otherwise
// emit. Everything else about the transport (interceptors, metadata,
// deadlines, status codes, streaming) is genuine grpc-go.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with google.golang.org/grpc/encoding. Clients
// select it via grpc.CallContentSubtype; the server looks it up in that
// registry from each request's content-subtype.
const CodecName = "flightdeck-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("flightdeck-json: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
