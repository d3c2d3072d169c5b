package ai

import (
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roam/internal/modules/session"
	"roam/internal/modules/tools"
)

func TestFunctionDeclarations(t *testing.T) {
	got := FunctionDeclarations([]tools.Contract{
		{Name: "calculate", Description: "Evaluate arithmetic.", Params: []tools.Param{
			{Name: "expression", Type: tools.TypeString, Required: true},
			{Name: "purpose", Type: tools.TypeString, Enum: []string{"general", "daily_budget"}},
			{Name: "days", Type: tools.TypeInteger},
		}},
		{Name: "ping", Description: "No arguments."},
	})
	require.Len(t, got, 1)
	decls := got[0].FunctionDeclarations
	require.Len(t, decls, 2)

	calc := decls[0]
	assert.Equal(t, "calculate", calc.Name)
	require.NotNil(t, calc.Parameters)
	assert.Equal(t, genai.TypeObject, calc.Parameters.Type)
	assert.Equal(t, []string{"expression"}, calc.Parameters.Required)
	assert.Equal(t, genai.TypeInteger, calc.Parameters.Properties["days"].Type)
	assert.Equal(t, []string{"general", "daily_budget"}, calc.Parameters.Properties["purpose"].Enum)
	assert.Nil(t, decls[1].Parameters)

	assert.Nil(t, FunctionDeclarations(nil))
}

func TestHistory(t *testing.T) {
	got := History([]session.Message{
		{Role: session.RoleUser, Content: "suv in scottsdale"},
		{Role: session.RoleAssistant, Content: "Which dates?"},
		{Role: session.RoleUser, Content: "  "},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, "model", got[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("Which dates?")}, got[1].Parts)
}

func TestFunctionResponse(t *testing.T) {
	type calc struct {
		Value      float64 `json:"value"`
		DailyBound int     `json:"dailyBound"`
	}
	r := functionResponse("calculate", calc{Value: 87.5, DailyBound: 87}, nil)
	assert.Equal(t, map[string]any{"value": 87.5, "dailyBound": float64(87)}, r.Response)

	r = functionResponse("get_reviews", []string{"a"}, nil)
	assert.Equal(t, map[string]any{"result": []any{"a"}}, r.Response)

	r = functionResponse("get_weather", nil, errors.New("timed out"))
	assert.Equal(t, map[string]any{"error": "timed out"}, r.Response)
}

func TestResponseParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{
			genai.Text(`{"reply":`),
			genai.FunctionCall{Name: "calculate", Args: map[string]any{"expression": "350/4"}},
			genai.Text(`"hi"}`),
		}},
	}}}
	calls := functionCalls(resp)
	require.Len(t, calls, 1)
	assert.Equal(t, "calculate", calls[0].Name)

	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, `{"reply":"hi"}`, text)

	_, err = responseText(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, ErrNoCandidates)
	assert.Empty(t, functionCalls(nil))
}
