// Package graph builds typed, indexed heterogeneous graphs from the JSON
// payloads emitted by the upstream activity collectors.
package graph

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Well-known node types and relations for behavioral pattern graphs.
const (
	MusicActivityNodeType = "MusicActivity"
	CalendarEventNodeType = "CalendarEvent"

	// PrecedesRelation marks the designated "A happens before B" relation
	// the contrastive objective trains on. Matching is substring-based so
	// variants like "PRECEDES_BY_20M" are picked up too.
	PrecedesRelation = "PRECEDES"
)

// NodePayload is a single node entry in an incoming graph payload.
type NodePayload struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Features []float64 `json:"features"`
}

// EdgePayload is a single edge entry in an incoming graph payload.
// TimeOffset is carried by the upstream collectors but not consumed by the
// model; it is accepted here so payloads round-trip without schema errors.
type EdgePayload struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	TimeOffset float64 `json:"timeOffset,omitempty"`
}

// Payload is the wire format for one graph instance.
type Payload struct {
	Nodes []NodePayload `json:"nodes"`
	Edges []EdgePayload `json:"edges"`
}

// EdgeKey identifies an edge type as the (source type, relation, target type)
// triple.
type EdgeKey struct {
	SourceType string
	Relation   string
	TargetType string
}

// String renders the key in "SourceType|RELATION|TargetType" form, which is
// also how edge types are recorded in checkpoints.
func (k EdgeKey) String() string {
	return k.SourceType + "|" + k.Relation + "|" + k.TargetType
}

// ParseEdgeKey is the inverse of EdgeKey.String.
func ParseEdgeKey(s string) (EdgeKey, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return EdgeKey{}, fmt.Errorf("malformed edge key %q", s)
	}
	return EdgeKey{SourceType: parts[0], Relation: parts[1], TargetType: parts[2]}, nil
}

// IsPrecedes reports whether this edge type carries the designated
// "precedes" relation.
func (k EdgeKey) IsPrecedes() bool {
	return strings.Contains(k.Relation, PrecedesRelation)
}

// EdgeIndex holds the resolved local-index pairs of one edge type in the
// transposed two-row layout: Sources[i] and Targets[i] describe edge i.
type EdgeIndex struct {
	Sources []int
	Targets []int
}

// Len returns the number of edges of this edge type.
func (e *EdgeIndex) Len() int { return len(e.Sources) }

// NodeRef locates a node as (type, local index within that type).
type NodeRef struct {
	Type  string
	Index int
}

// Graph is an immutable typed heterogeneous graph. Nodes are partitioned by
// type; within a type they are indexed 0..n-1 in first-seen order.
type Graph struct {
	// NodeTypes and EdgeTypes list the type vocabulary in discovery order.
	NodeTypes []string
	EdgeTypes []EdgeKey

	// Features maps node type to its (count × featureDim) feature matrix.
	Features map[string]*mat.Dense

	// Edges maps edge type to its index pairs.
	Edges map[EdgeKey]*EdgeIndex

	refs map[string]NodeRef
}

// SchemaError reports a malformed graph payload.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("graph schema error: %s", e.Reason)
}

// ConstructionError reports an edge referencing a node id that is not
// present in the node set.
type ConstructionError struct {
	NodeID string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("graph construction error: edge references unknown node %q", e.NodeID)
}

// Build converts a payload into an indexed Graph. Nodes of the same type must
// carry feature vectors of equal length; an empty node list is rejected.
func Build(payload *Payload) (*Graph, error) {
	if payload == nil || len(payload.Nodes) == 0 {
		return nil, &SchemaError{Reason: "payload contains no nodes"}
	}

	featureDims := make(map[string]int)
	rows := make(map[string][][]float64)
	refs := make(map[string]NodeRef, len(payload.Nodes))
	var nodeTypes []string

	for _, node := range payload.Nodes {
		if node.ID == "" {
			return nil, &SchemaError{Reason: "node with empty id"}
		}
		if node.Type == "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("node %q has no type", node.ID)}
		}
		if len(node.Features) == 0 {
			return nil, &SchemaError{Reason: fmt.Sprintf("node %q has no features", node.ID)}
		}
		if _, dup := refs[node.ID]; dup {
			return nil, &SchemaError{Reason: fmt.Sprintf("duplicate node id %q", node.ID)}
		}

		dim, seen := featureDims[node.Type]
		if !seen {
			featureDims[node.Type] = len(node.Features)
			nodeTypes = append(nodeTypes, node.Type)
		} else if dim != len(node.Features) {
			return nil, &SchemaError{Reason: fmt.Sprintf(
				"node %q has %d features, type %s expects %d",
				node.ID, len(node.Features), node.Type, dim)}
		}

		refs[node.ID] = NodeRef{Type: node.Type, Index: len(rows[node.Type])}
		rows[node.Type] = append(rows[node.Type], node.Features)
	}

	features := make(map[string]*mat.Dense, len(nodeTypes))
	for _, nodeType := range nodeTypes {
		typeRows := rows[nodeType]
		m := mat.NewDense(len(typeRows), featureDims[nodeType], nil)
		for i, row := range typeRows {
			m.SetRow(i, row)
		}
		features[nodeType] = m
	}

	edges := make(map[EdgeKey]*EdgeIndex)
	var edgeTypes []EdgeKey
	for _, edge := range payload.Edges {
		source, ok := refs[edge.Source]
		if !ok {
			return nil, &ConstructionError{NodeID: edge.Source}
		}
		target, ok := refs[edge.Target]
		if !ok {
			return nil, &ConstructionError{NodeID: edge.Target}
		}

		key := EdgeKey{SourceType: source.Type, Relation: edge.Type, TargetType: target.Type}
		index, seen := edges[key]
		if !seen {
			index = &EdgeIndex{}
			edges[key] = index
			edgeTypes = append(edgeTypes, key)
		}
		index.Sources = append(index.Sources, source.Index)
		index.Targets = append(index.Targets, target.Index)
	}

	return &Graph{
		NodeTypes: nodeTypes,
		EdgeTypes: edgeTypes,
		Features:  features,
		Edges:     edges,
		refs:      refs,
	}, nil
}

// Count returns the number of nodes of the given type.
func (g *Graph) Count(nodeType string) int {
	m, ok := g.Features[nodeType]
	if !ok {
		return 0
	}
	r, _ := m.Dims()
	return r
}

// FeatureDim returns the input feature dimensionality of the given type.
func (g *Graph) FeatureDim(nodeType string) int {
	m, ok := g.Features[nodeType]
	if !ok {
		return 0
	}
	_, c := m.Dims()
	return c
}

// FeatureDims returns the per-type input dimensionality map.
func (g *Graph) FeatureDims() map[string]int {
	dims := make(map[string]int, len(g.NodeTypes))
	for _, nodeType := range g.NodeTypes {
		dims[nodeType] = g.FeatureDim(nodeType)
	}
	return dims
}

// Resolve returns the (type, local index) reference for an external node id.
func (g *Graph) Resolve(id string) (NodeRef, bool) {
	ref, ok := g.refs[id]
	return ref, ok
}

// PrecedesKey returns the first edge type carrying the designated relation,
// in discovery order.
func (g *Graph) PrecedesKey() (EdgeKey, bool) {
	for _, key := range g.EdgeTypes {
		if key.IsPrecedes() {
			return key, true
		}
	}
	return EdgeKey{}, false
}
