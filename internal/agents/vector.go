package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/mister-handy/internal/diag"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ExpectedCollection declares a Qdrant collection the application needs.
type ExpectedCollection struct {
	Name      string `json:"name"`
	Dimension uint64 `json:"dimension"`
}

// Vector watches a Qdrant instance over gRPC and can create missing
// collections.
type Vector struct {
	*diag.BaseAgent
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	expected    []ExpectedCollection
}

// NewVector dials the Qdrant gRPC endpoint and builds the vector store
// agent.
func NewVector(host string, port int, expected []ExpectedCollection, logger *zap.Logger) (*Vector, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}

	v := &Vector{
		BaseAgent: diag.NewBaseAgent("vector", "Search",
			"Qdrant connectivity and collection layout", logger),
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		expected:    expected,
	}

	v.MustRegister(&diag.Task{
		ID:          "vector-ping",
		Name:        "Connectivity",
		Type:        diag.TaskStatusCheck,
		Description: "list collections as a connectivity probe",
		Interval:    time.Minute,
		Handler:     v.checkPing,
	})
	v.MustRegister(&diag.Task{
		ID:          "vector-collections",
		Name:        "Collection layout",
		Type:        diag.TaskErrorFix,
		Description: "create expected collections that are missing",
		Handler:     v.fixCollections,
	})
	return v, nil
}

// Close shuts down the gRPC connection.
func (v *Vector) Close() error {
	return v.conn.Close()
}

func (v *Vector) checkPing(ctx context.Context) (*diag.Result, error) {
	start := time.Now()
	resp, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return diag.Fail(diag.StatusCritical, "qdrant unreachable: %v", err), nil
	}
	return diag.Healthy("qdrant reachable, %d collections (%s)",
		len(resp.GetCollections()), time.Since(start).Round(time.Millisecond)).
		WithData("collections", len(resp.GetCollections())), nil
}

// missingCollections compares the expected layout against the server.
func (v *Vector) missingCollections(ctx context.Context) ([]ExpectedCollection, error) {
	resp, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	present := make(map[string]bool, len(resp.GetCollections()))
	for _, c := range resp.GetCollections() {
		present[c.GetName()] = true
	}

	var missing []ExpectedCollection
	for _, want := range v.expected {
		if !present[want.Name] {
			missing = append(missing, want)
		}
	}
	return missing, nil
}

func (v *Vector) fixCollections(ctx context.Context) (*diag.Result, error) {
	if len(v.expected) == 0 {
		return diag.Healthy("no expected collections configured"), nil
	}
	missing, err := v.missingCollections(ctx)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return diag.Healthy("all %d expected collections present", len(v.expected)), nil
	}

	if !diag.ApplyEnabled(ctx) {
		return diag.Warn("%d expected collections missing", len(missing)).
			WithData("missing", missing).
			WithSuggestions("re-run fix with apply to create them"), nil
	}

	outcomes := make(map[string]string, len(missing))
	failed := 0
	for _, want := range missing {
		_, err := v.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: want.Name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     want.Dimension,
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			outcomes[want.Name] = err.Error()
			failed++
		} else {
			outcomes[want.Name] = "created"
		}
	}
	res := diag.Healthy("created %d collections", len(missing)-failed)
	if failed > 0 {
		res = diag.Warn("created %d collections, %d failed", len(missing)-failed, failed)
	}
	return res.WithData("outcomes", outcomes), nil
}
