// Package depgraph models the dependency graph emitted by the external
// resolver at upload time. The graph is captured verbatim during ingestion
// and replayed at bundle time; nothing here re-resolves anything.
package depgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RootNodeID is the node id the resolver assigns to the requested package
// itself. The root is excluded from flattening.
const RootNodeID = "0"

// Node is one entry of the resolver's node map.
type Node struct {
	// ID is the node's key in the graph's node map.
	ID string
	// Ref is the package reference, e.g. "zlib/1.2.13" or
	// "zlib/1.2.13#rev". May be empty or unparseable in old graphs.
	Ref string
	// PackageID is the resolver-assigned binary identifier.
	PackageID string
	// Revision is the recipe revision, when present.
	Revision string
}

// Graph is the parsed form of the resolver output. Nodes preserve the
// document order of the serialized graph; that order is stable but carries
// no meaning beyond "as stored".
type Graph struct {
	Nodes []Node
}

// FlatRef identifies one dependency binary extracted from a graph.
type FlatRef struct {
	Name      string
	Version   string
	PackageID string
}

// nodeDoc is the wire shape of a single node value.
type nodeDoc struct {
	Ref            string `json:"ref"`
	PackageID      string `json:"package_id"`
	RecipeRevision string `json:"recipe_revision"`
}

// envelope is the wire shape of the resolver output.
type envelope struct {
	Graph struct {
		Nodes json.RawMessage `json:"nodes"`
	} `json:"graph"`
}

// Parse decodes a serialized resolver graph. Node order follows the JSON
// member order of the "nodes" object; a map decode would lose it, so the
// node object is walked token by token. An absent or empty "nodes" object
// yields an empty graph, not an error.
func Parse(data []byte) (*Graph, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Graph{}, nil
	}

	env := envelope{}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}

	g := &Graph{}
	if len(env.Graph.Nodes) == 0 {
		return g, nil
	}

	dec := json.NewDecoder(bytes.NewReader(env.Graph.Nodes))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode graph nodes: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		// "nodes" is not an object; treat as empty rather than rejecting
		// the whole stored graph.
		return g, nil
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode graph node id: %w", err)
		}
		id, _ := keyTok.(string)

		doc := nodeDoc{}
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode graph node %q: %w", id, err)
		}

		g.Nodes = append(g.Nodes, Node{
			ID:        id,
			Ref:       doc.Ref,
			PackageID: doc.PackageID,
			Revision:  doc.RecipeRevision,
		})
	}

	return g, nil
}

// Flatten extracts the dependency binaries referenced by a graph, in
// stored order, with recipe-revision suffixes stripped from versions.
// The root node is excluded. Nodes without a slash-separated reference or
// without a binary identifier are dropped silently: a partially readable
// graph degrades to a partial dependency list instead of failing, which
// keeps graphs stored by older resolver versions usable. Duplicates are
// not removed here; catalog lookup dedupes by binary id.
func Flatten(g *Graph) []FlatRef {
	if g == nil {
		return nil
	}
	refs := make([]FlatRef, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == RootNodeID {
			continue
		}
		name, version, ok := SplitRef(n.Ref)
		if !ok || n.PackageID == "" {
			continue
		}
		refs = append(refs, FlatRef{
			Name:      name,
			Version:   version,
			PackageID: n.PackageID,
		})
	}
	return refs
}

// SplitRef splits a package reference of the form "name/version" or
// "name/version#revision" into name and revision-stripped version.
func SplitRef(ref string) (name, version string, ok bool) {
	i := strings.Index(ref, "/")
	if i < 0 {
		return "", "", false
	}
	name = ref[:i]
	version = ref[i+1:]
	if j := strings.Index(version, "#"); j >= 0 {
		version = version[:j]
	}
	return name, version, true
}
