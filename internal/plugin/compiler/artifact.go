package compiler

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/runnit/runnit/internal/plugin/resolve"
)

// ErrArtifactConsumed is returned when an artifact is taken twice.
var ErrArtifactConsumed = errors.New("artifact already consumed")

// Artifact is the output of one compile. It is handed to a loader at most
// once and never cached.
type Artifact struct {
	// Path is the virtual path of the plugin source.
	Path string

	// Code is a CommonJS program; module.exports.default is the plugin's
	// default export.
	Code string

	// SourceMap is the v3 source map for Code. Its entry for the plugin
	// source is named exactly Path.
	SourceMap []byte

	// BridgeKey is the identifier the virtual modules read the capability
	// bridge from.
	BridgeKey string

	// GeneratedName is the file name the loader compiles Code under.
	GeneratedName string

	taken atomic.Bool
}

// Take returns the code and marks the artifact consumed.
func (a *Artifact) Take() (string, error) {
	if !a.taken.CompareAndSwap(false, true) {
		return "", ErrArtifactConsumed
	}
	return a.Code, nil
}

// Consumed reports whether Take has been called.
func (a *Artifact) Consumed() bool {
	return a.taken.Load()
}

// NewBridgeKey returns a fresh bridge identifier.
func NewBridgeKey() string {
	return resolve.BridgeKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
