// Package ir implements the IR Loader/Validator (C3): parsing flow
// documents from either of the two on-disk encodings named in the
// spec (a YAML "tag-delimited tree" and a JSON "brace-delimited tree"),
// validating them against a JSON Schema, and indexing nodes by id for
// the executor.
package ir

import (
	"fmt"
	"sort"

	"github.com/aretw0/flowforge/internal/apperr"
)

// Composite/atomic type-name constants recognized directly by the
// executor; anything else is dispatched through the Node Registry.
const (
	TypeSequence = "Sequence"
	TypeIf       = "If"
	TypeSubflow  = "Subflow"
)

// NodeSpec is one node definition inside a flow document. Composite
// nodes (Sequence/If/Subflow) reference their children by node id so a
// document remains a flat, indexable list rather than a nested tree —
// matching the node_map indexing the original loader builds.
type NodeSpec struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Sequence
	Children []string `json:"children,omitempty" yaml:"children,omitempty"`

	// If: then/else are each run as an implicit Sequence of node ids.
	Cond string   `json:"cond,omitempty" yaml:"cond,omitempty"`
	Then []string `json:"then,omitempty" yaml:"then,omitempty"`
	Else []string `json:"else,omitempty" yaml:"else,omitempty"`

	// Subflow
	FlowRef    string            `json:"flow_ref,omitempty" yaml:"flow_ref,omitempty"`
	InputMap   map[string]string `json:"input_map,omitempty" yaml:"input_map,omitempty"`
	OutputMap  map[string]string `json:"output_map,omitempty" yaml:"output_map,omitempty"`
	ShareItems bool              `json:"share_items,omitempty" yaml:"share_items,omitempty"`
	// ShareState controls whether the subflow inherits the parent's
	// StateManager or runs against a scratch instance discarded on
	// exit; a nil pointer means "unset", which defaults to true.
	ShareState *bool `json:"share_state,omitempty" yaml:"share_state,omitempty"`
}

// ShareStateOrDefault returns ShareState's value, defaulting to true
// when the IR document left it unset.
func (n NodeSpec) ShareStateOrDefault() bool {
	if n.ShareState == nil {
		return true
	}
	return *n.ShareState
}

// Document is a single flow's full IR: an id+version identity, an
// entry node id, and the flat list of every node it contains.
type Document struct {
	ID      string     `json:"id" yaml:"id"`
	Version int        `json:"version" yaml:"version"`
	Entry   string     `json:"entry" yaml:"entry"`
	Nodes   []NodeSpec `json:"nodes" yaml:"nodes"`
}

// Ref returns the document's canonical "id@version" reference string.
func (d Document) Ref() string {
	return fmt.Sprintf("%s@%d", d.ID, d.Version)
}

// NodeMap builds an id -> NodeSpec index, failing on duplicate or
// missing ids exactly as the original loader's _build_node_map does.
func (d Document) NodeMap() (map[string]NodeSpec, error) {
	if d.Entry == "" {
		return nil, apperr.New(apperr.KindSchema, "IR document missing 'entry'")
	}
	out := make(map[string]NodeSpec, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return nil, apperr.New(apperr.KindSchema, "IR node missing 'id'")
		}
		if _, dup := out[n.ID]; dup {
			return nil, apperr.New(apperr.KindSchema, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		out[n.ID] = n
	}
	if _, ok := out[d.Entry]; !ok {
		return nil, apperr.New(apperr.KindSchema, fmt.Sprintf("entry node %q not found", d.Entry))
	}
	return out, nil
}

// SortedIDs returns every node id in the document, sorted — used for
// deterministic debug/introspection output.
func (d Document) SortedIDs() []string {
	ids := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	return ids
}
