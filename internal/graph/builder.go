// Package graph builds the entity side-index: nodes deduplicated by id and
// append-only directed edges from documents to the entities they mention.
// The package is pure data manipulation; persistence is the caller's job.
package graph

import "secondbrain/internal/storage"

// Relation kinds between a document node and an entity node.
const (
	RelMentionsPerson  = "mentions_person"
	RelMentionsOrg     = "mentions_org"
	RelMentionsProject = "mentions_project"
	RelHasTag          = "has_tag"
)

// NodeID builds a type-namespaced entity node id, e.g. "person:Ada".
// Namespacing prevents a person and a project sharing a name from colliding.
func NodeID(typ, value string) string {
	return typ + ":" + value
}

// AddNode appends a node iff no existing node shares its id, and returns the
// (possibly unchanged) slice.
func AddNode(nodes []storage.GraphNode, typ, id, label string) []storage.GraphNode {
	for _, n := range nodes {
		if n.ID == id {
			return nodes
		}
	}
	return append(nodes, storage.GraphNode{ID: id, Type: typ, Label: label})
}

// AddEdge always appends; duplicate edges are not deduplicated.
func AddEdge(edges []storage.GraphEdge, from, to, rel string) []storage.GraphEdge {
	return append(edges, storage.GraphEdge{From: from, To: to, Rel: rel})
}
