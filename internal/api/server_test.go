package api

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-audit/internal/config"
	auditv1 "github.com/miradorstack/mirador-audit/internal/grpc/auditv1"
)

type echoExtractor struct {
	auditv1.UnimplementedExtractorServer
}

func (echoExtractor) ExtractVulnerabilities(_ context.Context, req *auditv1.ExtractRequest) (*auditv1.ExtractResponse, error) {
	if req.GetReportText() == "fail" {
		return nil, status.Error(codes.FailedPrecondition, "parser stage failed (configuration)")
	}
	return &auditv1.ExtractResponse{
		RunId:    "run-1",
		Outcome:  "done",
		Findings: []*auditv1.Finding{{SectionId: "1", Title: req.ReportText, Tags: req.AllowedTags}},
	}, nil
}

func TestServerRoundTrip(t *testing.T) {
	srv, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0", GracefulTimeout: time.Second}, echoExtractor{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), srv.GracefulTimeout())
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := auditv1.NewExtractorClient(conn)
	resp, err := client.ExtractVulnerabilities(ctx, &auditv1.ExtractRequest{ReportText: "H-1", AllowedTags: []string{"Oracle"}})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if resp.RunId != "run-1" || len(resp.Findings) != 1 || resp.Findings[0].Title != "H-1" || resp.Findings[0].Tags[0] != "Oracle" {
		t.Fatalf("unexpected response %+v", resp)
	}

	_, err = client.ExtractVulnerabilities(ctx, &auditv1.ExtractRequest{ReportText: "fail"})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: auditv1.ServiceName})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected health status %s", health.GetStatus())
	}
}
