// Package engine defines the inference engine boundary used by the chat
// session and ships its implementations.
//
// The session treats an Engine as opaque: it loads a model file, streams
// generated text fragments, runs benchmarks and unloads. Callers must not
// overlap calls on one Engine; the session serialises them.
//
// Implementations:
//
//   - In-process llama (go-llama.cpp): enabled with `-tags=llama`.
//     Files: llama.go, llama_cgo.go (linker rpath hints).
//     Without the tag llama_stub.go is compiled and Load fails with a
//     dependency-unavailable error, keeping default builds CGO-free.
//
//   - llama-server subprocess: server.go spawns `llama-server -m <path>` per
//     loaded model (or attaches to a running server) and talks to it over HTTP.
//
// Stream (stream.go) adapts the callback-style Generate into a pull iterator
// for a single consumer.
package engine
