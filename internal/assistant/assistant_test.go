package assistant

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/testutil"
)

func newAssistant(cs *testutil.ChatServer) *Assistant {
	return New(WithEndpoint(cs.BaseURL(), "test-key"), WithModels("chat-model", "tag-model"))
}

func TestChat_SendsContextAndHistory(t *testing.T) {
	cs := testutil.NewChatServer(t, testutil.Turn{Content: "Use the second note."})
	a := newAssistant(cs)

	reply, err := a.Chat(context.Background(), []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "which note?"},
	}, "note one; note two")
	require.NoError(t, err)
	assert.Equal(t, "Use the second note.", reply)

	reqs := cs.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "chat-model", reqs[0]["model"])
	msgs := reqs[0]["messages"].([]any)
	require.Len(t, msgs, 4)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Contains(t, first["content"], "note one; note two")
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
}

func TestChat_RejectsBadInput(t *testing.T) {
	a := New()
	_, err := a.Chat(context.Background(), nil, "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))

	_, err = a.Chat(context.Background(), []Message{{Role: "robot", Content: "x"}}, "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
}

func TestChat_EndpointFailure(t *testing.T) {
	cs := testutil.NewChatServer(t, testutil.Turn{Status: http.StatusBadRequest})
	a := New(WithEndpoint(cs.BaseURL(), "k"), WithModels("m", ""))

	_, err := a.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, "")
	require.Error(t, err)
}

func TestSuggestTags(t *testing.T) {
	cs := testutil.NewChatServer(t, testutil.Turn{Content: "golang, #notes, Go Tips,golang\n"})
	a := newAssistant(cs)

	tags, err := a.SuggestTags(context.Background(), "# Go notes\nchannels and select")
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "notes", "Go Tips"}, tags)
	assert.Equal(t, "tag-model", cs.Requests()[0]["model"])
}

func TestSuggestTags_EmptyTextSkipsModel(t *testing.T) {
	cs := testutil.NewChatServer(t)
	a := newAssistant(cs)

	tags, err := a.SuggestTags(context.Background(), "  ")
	require.NoError(t, err)
	assert.Empty(t, tags)
	assert.Empty(t, cs.Requests())
}

func TestParseTags_CapsAtFive(t *testing.T) {
	got := ParseTags("a, b, c, d, e, f, g")
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
	assert.Empty(t, ParseTags(" , ,"))
}
