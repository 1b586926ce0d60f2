package document

import (
	"fmt"
	"strings"

	"graphdoc/api/internal/crdt"
	"graphdoc/api/internal/util"
)

// The builder resolves a three-form identifier grammar:
//
//	{name}    symbolic: first use allocates a stable id, later uses reuse it
//	[literal] literal: brackets stripped, used verbatim
//	anything  verbatim
//
// Nodes are built in one array-order pass before any edge, so an edge
// terminal may reference a node symbol declared anywhere in the node list.

// NodeSpec declares one node and its nested children.
type NodeSpec struct {
	ID         string
	Locked     bool
	Properties map[string]any
	// ComputedProperties is evaluated during the build with the live
	// resolver, so a property can reference another symbolic id generated
	// in the same pass.
	ComputedProperties func(r *Resolver) map[string]any
	Children           []NodeSpec
}

// TerminalSpec references an edge endpoint: a cell id-form plus an optional
// port.
type TerminalSpec struct {
	Cell string
	Port string
}

// EdgeSpec declares one edge. Edges are never symbolically named for reuse;
// each gets a freshly generated id.
type EdgeSpec struct {
	Source     TerminalSpec
	Target     TerminalSpec
	Properties map[string]any
}

// DocSpec declares a full document tree.
type DocSpec struct {
	Nodes []NodeSpec
	Edges []EdgeSpec
}

// Resolver owns the symbolic-name table for one build. It is constructed per
// call and never shared.
type Resolver struct {
	ids   map[string]string
	newID func() string
}

func newResolver(newID func() string) *Resolver {
	if newID == nil {
		newID = func() string { return util.NewID("cell") }
	}
	return &Resolver{ids: make(map[string]string), newID: newID}
}

// Resolve maps an id-form to a concrete id, allocating on first symbolic use.
func (r *Resolver) Resolve(ref string) string {
	if name, ok := symbolic(ref); ok {
		if id, seen := r.ids[name]; seen {
			return id
		}
		id := r.newID()
		r.ids[name] = id
		return id
	}
	return literal(ref)
}

// MustResolve is the strict lookup: a symbolic name that was never declared
// is an error. Literals pass through verbatim.
func (r *Resolver) MustResolve(ref string) (string, error) {
	if name, ok := symbolic(ref); ok {
		id, seen := r.ids[name]
		if !seen {
			return "", fmt.Errorf("id not found: %s", name)
		}
		return id, nil
	}
	return literal(ref), nil
}

func symbolic(ref string) (string, bool) {
	if strings.HasPrefix(ref, "{") && strings.HasSuffix(ref, "}") {
		return ref[1 : len(ref)-1], true
	}
	return "", false
}

func literal(ref string) string {
	if strings.HasPrefix(ref, "[") && strings.HasSuffix(ref, "]") {
		return ref[1 : len(ref)-1]
	}
	return ref
}

// Builder constructs document trees. Construct one per process or per
// request; it carries no per-build state.
type Builder struct {
	newID func() string
}

// NewBuilder returns a builder using the default id generator.
func NewBuilder() *Builder { return &Builder{} }

// NewBuilderWithIDs overrides id generation, used by tests for determinism.
func NewBuilderWithIDs(newID func() string) *Builder { return &Builder{newID: newID} }

// Build registers the declared nodes and edges into the document's cell map
// and (re)builds the reserved root record. Registrations mutate the document
// in place; a failed build leaves already-registered records behind.
func (b *Builder) Build(doc *crdt.Doc, spec DocSpec) (*Resolver, error) {
	resolver := newResolver(b.newID)
	cells := doc.Map("cells")

	var topLevel []string
	for _, node := range spec.Nodes {
		id, err := b.buildNode(cells, resolver, node, "")
		if err != nil {
			return nil, err
		}
		topLevel = append(topLevel, id)
	}

	for i, edge := range spec.Edges {
		id, err := b.buildEdge(cells, resolver, edge)
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		topLevel = append(topLevel, id)
	}

	if err := b.rebuildRoot(cells, topLevel); err != nil {
		return nil, err
	}
	return resolver, nil
}

func (b *Builder) buildNode(cells *crdt.Map, resolver *Resolver, spec NodeSpec, parent string) (string, error) {
	id := resolver.Resolve(spec.ID)

	// Children ids must be known before the parent record is finalized.
	var childIDs []string
	for _, child := range spec.Children {
		childID, err := b.buildNode(cells, resolver, child, id)
		if err != nil {
			return "", err
		}
		childIDs = append(childIDs, childID)
	}

	props := map[string]any{}
	for k, v := range spec.Properties {
		props[k] = v
	}
	if spec.ComputedProperties != nil {
		for k, v := range spec.ComputedProperties(resolver) {
			props[k] = v
		}
	}
	if _, ok := props[PropName]; !ok {
		props[PropName] = ""
	}
	if _, ok := props[PropType]; !ok {
		props[PropType] = "node"
	}

	record, err := RecordFromPO(NodePO{
		ID:         id,
		Parent:     parent,
		Children:   childIDs,
		Locked:     spec.Locked,
		Properties: props,
	})
	if err != nil {
		return "", err
	}
	if err := cells.Set(id, record); err != nil {
		return "", err
	}
	return id, nil
}

func (b *Builder) buildEdge(cells *crdt.Map, resolver *Resolver, spec EdgeSpec) (string, error) {
	source, err := resolver.MustResolve(spec.Source.Cell)
	if err != nil {
		return "", err
	}
	target, err := resolver.MustResolve(spec.Target.Cell)
	if err != nil {
		return "", err
	}

	id := resolver.newID()
	props := map[string]any{
		"source": source,
		"target": target,
	}
	if spec.Source.Port != "" {
		props["sourcePort"] = spec.Source.Port
	}
	if spec.Target.Port != "" {
		props["targetPort"] = spec.Target.Port
	}
	for k, v := range spec.Properties {
		props[k] = v
	}
	if _, ok := props[PropName]; !ok {
		props[PropName] = ""
	}
	props[PropType] = "edge"

	record, err := RecordFromPO(NodePO{ID: id, Properties: props})
	if err != nil {
		return "", err
	}
	if err := cells.Set(id, record); err != nil {
		return "", err
	}
	return id, nil
}

// rebuildRoot overwrites the reserved root record with the new top-level
// membership, clearing any children left over from a previous root.
func (b *Builder) rebuildRoot(cells *crdt.Map, topLevel []string) error {
	var stale []string
	if prev, ok := RecordOf(cells.Map(RootID)); ok {
		stale = prev.Children()
	}

	record, err := RecordFromPO(NodePO{
		ID:       RootID,
		Children: topLevel,
		Properties: map[string]any{
			PropName: RootID,
			PropType: RootID,
		},
	})
	if err != nil {
		return err
	}
	if err := cells.Set(RootID, record); err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(topLevel))
	for _, id := range topLevel {
		keep[id] = struct{}{}
	}
	root, ok := RecordOf(cells.Map(RootID))
	if !ok {
		return fmt.Errorf("root record missing after rebuild")
	}
	for _, id := range stale {
		if _, ok := keep[id]; !ok {
			root.RemoveChild(id)
		}
	}
	return nil
}
