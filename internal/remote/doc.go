// Package remote models references to remote objects and classifies raw
// targets into local filesystem paths or remote URLs. It performs no I/O
// against backends; Classify only stats the local filesystem.
package remote
