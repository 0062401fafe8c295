package stack

import (
	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/xlog"
)

// Stack is the ordered, label-addressable pile of Layers backing one
// archive. Index 0 is the bottom-most (storage-facing) layer; the last
// entry is the top-most layer the catalogue reads/writes cleartext through.
type Stack struct {
	layers []Layer
	byName map[string]int
}

// New returns an empty Stack.
func New() *Stack {
	return &Stack{byName: make(map[string]int)}
}

// Push adds layer on top of the stack, enforcing the composition rule
// (spec §4.1): its mode must be compatible with the current top layer's
// mode, if any.
func Push(s *Stack, layer Layer) error {
	if len(s.layers) > 0 {
		top := s.layers[len(s.layers)-1]
		if !Compatible(top.Mode(), layer.Mode()) {
			return direrr.Newf(direrr.Libcall, "stack.Push",
				"layer %q mode %d incompatible with layer %q mode %d",
				layer.Label(), layer.Mode(), top.Label(), top.Mode())
		}
	}
	if _, dup := s.byName[layer.Label()]; dup {
		return direrr.Newf(direrr.Libcall, "stack.Push", "duplicate layer label %q", layer.Label())
	}
	s.byName[layer.Label()] = len(s.layers)
	s.layers = append(s.layers, layer)
	return nil
}

// Top returns the uppermost layer, the one the catalogue reads/writes
// cleartext through.
func (s *Stack) Top() Layer {
	if len(s.layers) == 0 {
		return nil
	}
	return s.layers[len(s.layers)-1]
}

// Bottom returns the storage-facing layer.
func (s *Stack) Bottom() Layer {
	if len(s.layers) == 0 {
		return nil
	}
	return s.layers[0]
}

// ByLabel looks up a layer without unwinding the stack.
func (s *Stack) ByLabel(label string) (Layer, bool) {
	i, ok := s.byName[label]
	if !ok {
		return nil, false
	}
	return s.layers[i], true
}

// Above returns the layer immediately above the one labeled label, if any.
func (s *Stack) Above(label string) (Layer, bool) {
	i, ok := s.byName[label]
	if !ok || i+1 >= len(s.layers) {
		return nil, false
	}
	return s.layers[i+1], true
}

// Below returns the layer immediately below the one labeled label, if any.
func (s *Stack) Below(label string) (Layer, bool) {
	i, ok := s.byName[label]
	if !ok || i == 0 {
		return nil, false
	}
	return s.layers[i-1], true
}

// Terminate finalizes every layer top-down (spec §4.1: "terminate
// propagates top-down; if any layer's terminate throws, the error is
// surfaced but the stack still attempts to finalize lower layers").
func (s *Stack) Terminate() error {
	var first error
	for i := len(s.layers) - 1; i >= 0; i-- {
		l := s.layers[i]
		if err := l.Terminate(); err != nil {
			xlog.Errorf(l, "terminate failed: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// SyncWrite flushes every layer top-down.
func (s *Stack) SyncWrite() error {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if err := s.layers[i].SyncWrite(); err != nil {
			return err
		}
	}
	return nil
}

// FlushRead discards read-ahead buffering top-down.
func (s *Stack) FlushRead() error {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if err := s.layers[i].FlushRead(); err != nil {
			return err
		}
	}
	return nil
}
