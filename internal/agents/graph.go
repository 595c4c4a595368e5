package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/mister-handy/internal/diag"
	"go.uber.org/zap"
)

// Graph watches a Neo4j instance.
type Graph struct {
	*diag.BaseAgent
	driver neo4j.DriverWithContext
}

// NewGraph creates the graph database agent. The driver connects lazily;
// connectivity is verified by the status check.
func NewGraph(uri, user, password string, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	g := &Graph{
		BaseAgent: diag.NewBaseAgent("graph", "Database",
			"Neo4j connectivity and graph census", logger),
		driver: driver,
	}

	g.MustRegister(&diag.Task{
		ID:          "graph-ping",
		Name:        "Connectivity",
		Type:        diag.TaskStatusCheck,
		Description: "verify the Neo4j connection",
		Interval:    time.Minute,
		Handler:     g.checkPing,
	})
	g.MustRegister(&diag.Task{
		ID:          "graph-census",
		Name:        "Graph census",
		Type:        diag.TaskMonitoring,
		Description: "node and relationship counts",
		Interval:    10 * time.Minute,
		Handler:     g.checkCensus,
	})
	return g, nil
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) checkPing(ctx context.Context) (*diag.Result, error) {
	start := time.Now()
	if err := g.driver.VerifyConnectivity(ctx); err != nil {
		return diag.Fail(diag.StatusCritical, "neo4j unreachable: %v", err), nil
	}
	return diag.Healthy("neo4j reachable (%s)", time.Since(start).Round(time.Millisecond)), nil
}

// count runs a single-value Cypher query.
func (g *Graph) count(ctx context.Context, query string) (int64, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := record.Values[0].(int64)
	return n, nil
}

func (g *Graph) checkCensus(ctx context.Context) (*diag.Result, error) {
	nodes, err := g.count(ctx, "MATCH (n) RETURN count(n)")
	if err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	rels, err := g.count(ctx, "MATCH ()-[r]->() RETURN count(r)")
	if err != nil {
		return nil, fmt.Errorf("count relationships: %w", err)
	}
	return diag.Healthy("%d nodes, %d relationships", nodes, rels).
		WithData("nodes", nodes).
		WithData("relationships", rels), nil
}
