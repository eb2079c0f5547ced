package types

import (
	"context"
	"testing"
)

func TestActorContextRoundTrip(t *testing.T) {
	actor := Actor{UserID: "user_1", Email: "broker@example.com", Role: RoleAdmin}

	ctx := WithActor(context.Background(), actor)
	got, ok := GetActor(ctx)
	if !ok {
		t.Fatal("expected actor to be present")
	}
	if got != actor {
		t.Errorf("expected %+v, got %+v", actor, got)
	}
}

func TestGetActor_Absent(t *testing.T) {
	if _, ok := GetActor(context.Background()); ok {
		t.Error("expected no actor in empty context")
	}
}

func TestRequestIDContextRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-77")
	if got := GetRequestID(ctx); got != "req-77" {
		t.Errorf("expected req-77, got %q", got)
	}
}

func TestGetRequestID_Absent(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}
}
