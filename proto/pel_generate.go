// Package pel contains the protobuf-generated Go bindings for the
// PELService gRPC interface used by internal/bus/grpc.
//
// To regenerate the Go source files from proto/pel.proto, use either:
//
//  1. From the repository root (recommended):
//
//     make proto
//
//  2. Via go generate (run from the repository root):
//
//     go generate ./proto/...
//
// Requires protoc, protoc-gen-go, and protoc-gen-go-grpc on PATH:
//
//	go install google.golang.org/protobuf/cmd/protoc-gen-go@latest
//	go install google.golang.org/grpc/cmd/protoc-gen-go-grpc@latest
//
//go:generate protoc --go_out=. --go_opt=paths=source_relative --go-grpc_out=. --go-grpc_opt=paths=source_relative pel.proto
package pel
