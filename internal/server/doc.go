// Package server hosts the Fiber sidecar that exposes the object cache over
// HTTP. Writes publish through a staging file; /-/ paths serve diagnostics.
// Keep exports narrow and accept explicit dependencies so cmd entry points
// and tests can wire their own client.
package server
