package services_test

import (
	"context"
	"testing"

	"boqmatch/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-42")
	ctx = services.WithRowNumber(ctx, 7)
	ctx = services.WithMethod(ctx, "local")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-42" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if row, ok := services.RowNumberFromContext(ctx); !ok || row != 7 {
		t.Fatalf("unexpected row number: %v %v", row, ok)
	}
	if method, ok := services.MethodFromContext(ctx); !ok || method != "local" {
		t.Fatalf("unexpected method: %v %v", method, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "")
	ctx = services.WithMethod(ctx, "")
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected blank job id to be ignored")
	}
	if _, ok := services.MethodFromContext(ctx); ok {
		t.Fatal("expected blank method to be ignored")
	}
	if _, ok := services.RowNumberFromContext(ctx); ok {
		t.Fatal("expected missing row number")
	}
}
