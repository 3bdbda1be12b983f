package graph

import (
	"testing"

	"secondbrain/internal/storage"
)

func TestAddNode_Dedup(t *testing.T) {
	var nodes []storage.GraphNode

	nodes = AddNode(nodes, "person", NodeID("person", "Ada"), "Ada")
	nodes = AddNode(nodes, "person", NodeID("person", "Ada"), "Ada")
	nodes = AddNode(nodes, "org", NodeID("org", "Acme"), "Acme")

	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if nodes[0].ID != "person:Ada" || nodes[1].ID != "org:Acme" {
		t.Errorf("unexpected nodes %v", nodes)
	}
}

func TestNodeID_CrossTypeNoCollision(t *testing.T) {
	var nodes []storage.GraphNode

	nodes = AddNode(nodes, "person", NodeID("person", "Mercury"), "Mercury")
	nodes = AddNode(nodes, "project", NodeID("project", "Mercury"), "Mercury")

	if len(nodes) != 2 {
		t.Fatalf("same value under different types must not collide, got %d nodes", len(nodes))
	}
}

func TestAddEdge_AlwaysAppends(t *testing.T) {
	var edges []storage.GraphEdge

	edges = AddEdge(edges, "doc-1", "person:Ada", RelMentionsPerson)
	edges = AddEdge(edges, "doc-1", "person:Ada", RelMentionsPerson)
	edges = AddEdge(edges, "doc-1", "person:Ada", RelHasTag)

	if len(edges) != 3 {
		t.Fatalf("edges are append-only, expected 3 got %d", len(edges))
	}
}
