package auth_test

import (
	"context"
	"testing"

	"voyagedesk.app/internal/auth"
	"voyagedesk.app/internal/auth/authtest"
)

func TestContextActorIsolatedFromCaller(t *testing.T) {
	actor := *authtest.Agent("agc_1", authtest.Grant(auth.ModuleClients, auth.ActionRead))
	ctx := auth.ContextWithActor(context.Background(), actor)
	actor.Permissions[0].Actions[0] = auth.ActionDelete
	actor.Status = auth.StatusSuspended

	got, ok := auth.ActorFromContext(ctx)
	if !ok {
		t.Fatalf("expected actor in context")
	}
	if got.Status != auth.StatusActive || got.Permissions[0].Actions[0] != auth.ActionRead {
		t.Fatalf("caller edits leaked into the request actor: %+v", got)
	}

	m, err := auth.NewModel(auth.DefaultCatalog(), authtest.NewDirectory(authtest.Approved("agc_1", auth.ModuleClients)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	res, err := m.Authorize(ctx, got, auth.ModuleClients, auth.ActionDelete)
	if err != nil || res.Allowed() {
		t.Fatalf("clients/supprimer should be denied: %s %v", res, err)
	}
}

func TestActorFromContextMissing(t *testing.T) {
	if _, ok := auth.ActorFromContext(context.Background()); ok {
		t.Fatalf("empty context must not yield an actor")
	}
}
