package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavely/weave/pkg/a2a"
)

func seedStore() *MemoryStore {
	s := NewMemoryStore()
	s.AddGraph(&Graph{ID: "support", Name: "Support", DefaultAgentID: "router"})
	s.AddAgent(&Agent{ID: "router", GraphID: "support", Name: "Router"})
	s.AddAgent(&Agent{ID: "qa", GraphID: "support", Name: "QA"})
	s.AddRelation("support", AgentRelation{Type: RelationTransfer, SourceAgentID: "router", TargetAgentID: "qa"})
	s.AddRelation("support", AgentRelation{Type: RelationDelegate, SourceAgentID: "qa", ExternalAgentID: "billing-ext"})
	s.AddExternalAgent(&ExternalAgent{ID: "billing-ext", Name: "Billing", BaseURL: "https://billing.example.com/a2a"})
	return s
}

func TestGetAgentByID(t *testing.T) {
	s := seedStore()
	ctx := context.Background()

	a, err := s.GetAgentByID(ctx, "support", "qa")
	require.NoError(t, err)
	assert.Equal(t, "QA", a.Name)

	_, err = s.GetAgentByID(ctx, "support", "nope")
	require.ErrorIs(t, err, ErrAgentNotFound)
	assert.Equal(t, "Agent not found: nope", err.Error())
}

func TestGetRelatedAgentsForGraph(t *testing.T) {
	s := seedStore()

	rels, err := s.GetRelatedAgentsForGraph(context.Background(), "support", "router")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, RelationTransfer, rels[0].Type)
	assert.Equal(t, "qa", rels[0].TargetAgentID)
}

func TestGetFullGraphDefinition(t *testing.T) {
	s := seedStore()
	s.AddArtifactComponent("support", "qa", &ArtifactComponent{ID: "ac1", Name: "Source"})

	def, err := s.GetFullGraphDefinition(context.Background(), "support")
	require.NoError(t, err)
	assert.Len(t, def.Agents, 2)
	assert.Len(t, def.Relations, 2)
	require.Contains(t, def.ExternalAgents, "billing-ext")
	assert.Len(t, def.ArtifactComponents["qa"], 1)
}

func TestGraphHasArtifactComponents(t *testing.T) {
	s := seedStore()
	ctx := context.Background()

	has, err := s.GraphHasArtifactComponents(ctx, "support")
	require.NoError(t, err)
	assert.False(t, has)

	s.AddArtifactComponent("support", "qa", &ArtifactComponent{ID: "ac1", Name: "Source"})
	has, err = s.GraphHasArtifactComponents(ctx, "support")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestLedgerArtifactQueries(t *testing.T) {
	s := seedStore()
	ctx := context.Background()

	require.NoError(t, s.AddLedgerArtifacts(ctx, []*LedgerArtifact{
		{ArtifactID: "a1", TaskID: "t1", ContextID: "c1", Type: "Source"},
		{ArtifactID: "a2", TaskID: "t1", ContextID: "c1", Type: "Source"},
		{ArtifactID: "a3", TaskID: "t2", ContextID: "c2", Type: "Guide"},
	}))

	byTask, err := s.GetLedgerArtifacts(ctx, ArtifactQuery{TaskID: "t1"})
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	byContext, err := s.GetConversationScopedArtifacts(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, byContext, 1)
	assert.Equal(t, "a3", byContext[0].ArtifactID)

	one, err := s.GetLedgerArtifacts(ctx, ArtifactQuery{ArtifactID: "a1", TaskID: "t1"})
	require.NoError(t, err)
	require.Len(t, one, 1)
}

func TestConversationHistoryVisibility(t *testing.T) {
	s := seedStore()
	ctx := context.Background()

	require.NoError(t, s.CreateMessage(ctx, &ConversationMessage{
		ID: "m1", ConversationID: "conv", Role: a2a.MessageRoleUser,
		Visibility: VisibilityExternal, MessageType: MessageTypeChat,
	}))
	require.NoError(t, s.CreateMessage(ctx, &ConversationMessage{
		ID: "m2", ConversationID: "conv", Role: a2a.MessageRoleAgent,
		Visibility: VisibilityInternal, MessageType: MessageTypeA2ARequest,
	}))
	require.NoError(t, s.SaveA2AMessageResponse(ctx, &ConversationMessage{
		ID: "m3", ConversationID: "conv", Role: a2a.MessageRoleAgent,
		Visibility: VisibilityInternal,
	}))

	external, err := s.GetFormattedConversationHistory(ctx, HistoryQuery{ConversationID: "conv"})
	require.NoError(t, err)
	require.Len(t, external, 1)
	assert.Equal(t, "m1", external[0].ID)

	all, err := s.GetFormattedConversationHistory(ctx, HistoryQuery{ConversationID: "conv", IncludeInternal: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, MessageTypeA2AResponse, all[2].MessageType)
}

func TestConversationHistoryAgentAndTaskScope(t *testing.T) {
	s := seedStore()
	ctx := context.Background()

	require.NoError(t, s.CreateMessage(ctx, &ConversationMessage{
		ID: "m1", ConversationID: "conv", Role: a2a.MessageRoleUser,
		Visibility: VisibilityExternal, ToAgentID: "support", TaskID: "t1",
	}))
	require.NoError(t, s.CreateMessage(ctx, &ConversationMessage{
		ID: "m2", ConversationID: "conv", Role: a2a.MessageRoleAgent,
		Visibility: VisibilityExternal, FromAgentID: "billing", TaskID: "t2",
	}))
	require.NoError(t, s.CreateMessage(ctx, &ConversationMessage{
		ID: "m3", ConversationID: "conv", Role: a2a.MessageRoleAgent,
		Visibility: VisibilityExternal, FromAgentID: "support", TaskID: "t1",
	}))

	scoped, err := s.GetFormattedConversationHistory(ctx, HistoryQuery{
		ConversationID: "conv", AgentID: "support", TaskID: "t1",
	})
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, "m1", scoped[0].ID)
	assert.Equal(t, "m3", scoped[1].ID)

	// Task filter matches on its own even when the agent does not.
	byTask, err := s.GetFormattedConversationHistory(ctx, HistoryQuery{
		ConversationID: "conv", AgentID: "refunds", TaskID: "t2",
	})
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.Equal(t, "m2", byTask[0].ID)
}

func TestListTaskIDsByContextID(t *testing.T) {
	s := seedStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertTask(ctx, &TaskRecord{ID: "t2", ContextID: "c1"}))
	require.NoError(t, s.UpsertTask(ctx, &TaskRecord{ID: "t1", ContextID: "c1"}))
	require.NoError(t, s.UpsertTask(ctx, &TaskRecord{ID: "t3", ContextID: "other"}))

	ids, err := s.ListTaskIDsByContextID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids)
}
