// README: Converts tool contracts and chat history into Gemini request types.
package ai

import (
	"encoding/json"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"roam/internal/modules/session"
	"roam/internal/modules/tools"
)

var paramTypes = map[tools.ParamType]genai.Type{
	tools.TypeString:  genai.TypeString,
	tools.TypeNumber:  genai.TypeNumber,
	tools.TypeInteger: genai.TypeInteger,
	tools.TypeBoolean: genai.TypeBoolean,
}

// FunctionDeclarations declares every contract as one Gemini tool.
func FunctionDeclarations(contracts []tools.Contract) []*genai.Tool {
	if len(contracts) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(contracts))
	for _, c := range contracts {
		decl := &genai.FunctionDeclaration{Name: c.Name, Description: c.Description}
		if len(c.Params) > 0 {
			schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
			for _, p := range c.Params {
				ps := &genai.Schema{Type: paramTypes[p.Type], Description: p.Description}
				if ps.Type == genai.TypeUnspecified {
					ps.Type = genai.TypeString
				}
				if len(p.Enum) > 0 {
					ps.Format = "enum"
					ps.Enum = append([]string(nil), p.Enum...)
				}
				schema.Properties[p.Name] = ps
				if p.Required {
					schema.Required = append(schema.Required, p.Name)
				}
			}
			decl.Parameters = schema
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// History maps stored messages onto chat turns. Empty messages are skipped.
func History(msgs []session.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := "user"
		if m.Role == session.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

// functionResponse wraps a tool result or error in the map shape Gemini expects.
func functionResponse(name string, result any, err error) genai.FunctionResponse {
	if err != nil {
		return genai.FunctionResponse{Name: name, Response: map[string]any{"error": err.Error()}}
	}
	resp := map[string]any{}
	b, merr := json.Marshal(result)
	if merr == nil {
		if json.Unmarshal(b, &resp) != nil {
			// Scalars and lists are not objects; nest them.
			var v any
			_ = json.Unmarshal(b, &v)
			resp = map[string]any{"result": v}
		}
	} else {
		resp = map[string]any{"error": merr.Error()}
	}
	if resp == nil {
		resp = map[string]any{}
	}
	return genai.FunctionResponse{Name: name, Response: resp}
}

func functionCalls(resp *genai.GenerateContentResponse) []genai.FunctionCall {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var calls []genai.FunctionCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.FunctionCall:
			calls = append(calls, p)
		case *genai.FunctionCall:
			calls = append(calls, *p)
		}
	}
	return calls
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoCandidates
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String(), nil
}
