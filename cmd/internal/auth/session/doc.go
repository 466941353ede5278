// Package session implements chatline's client-side credential lifecycle.
//
// It provides the credential holder (Session), single-flight renewal against a
// refresh endpoint, a one-shot startup initialization latch, and pluggable
// persistence for the opaque credential (memory, file, Redis, Postgres).
//
// Transport (HTTP/WS) integration is intentionally out of scope here: the
// refresh call and the identity fetch are injected as interfaces.
package session
