package llm

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"
)

// Tool names the chat model may call.
const (
	ToolOfferContractUpload = "offerContractUpload"
	ToolSendLegalBrief      = "sendLegalBrief"
)

// Role of a chat turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message of a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ToolCall is a structured function invocation requested by the model.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Chunk is one element of a chat stream: a text delta, tool calls, or both.
type Chunk struct {
	Text  string
	Calls []ToolCall
}

var chatTools = []*genai.Tool{{
	FunctionDeclarations: []*genai.FunctionDeclaration{
		{
			Name:        ToolOfferContractUpload,
			Description: "Transition the user to the contract upload flow.",
			Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}},
		},
		{
			Name:        ToolSendLegalBrief,
			Description: "Email a short legal briefing to the user.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"email":         {Type: genai.TypeString, Description: "Recipient email address."},
					"recipientName": {Type: genai.TypeString, Description: "Recipient full name."},
					"summary":       {Type: genai.TypeString, Description: "Briefing text to send."},
				},
				Required: []string{"email", "recipientName", "summary"},
			},
		},
	},
}}

// StreamChat sends history plus utterance and yields the streamed reply.
// The sequence is finite; iteration stops at the first error.
func (c *Client) StreamChat(ctx context.Context, history []Turn, utterance string) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		if !c.Configured() {
			yield(Chunk{}, ErrNotConfigured)
			return
		}
		ctx, span := c.span(ctx, "StreamChat", c.cfg.FastModel)
		defer span.End()

		contents := make([]*genai.Content, 0, len(history)+1)
		for _, t := range history {
			var role genai.Role = genai.RoleUser
			if t.Role == RoleModel {
				role = genai.RoleModel
			}
			contents = append(contents, genai.NewContentFromText(t.Text, role))
		}
		contents = append(contents, genai.NewContentFromText(utterance, genai.RoleUser))

		cfg := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(chatSystemInstruction, genai.RoleUser),
			Tools:             chatTools,
		}
		for resp, err := range c.models.GenerateContentStream(ctx, c.cfg.FastModel, contents, cfg) {
			if err != nil {
				span.RecordError(err)
				yield(Chunk{}, fmt.Errorf("llm: chat stream: %w", err))
				return
			}
			ch := Chunk{Text: resp.Text()}
			for _, fc := range resp.FunctionCalls() {
				if fc == nil {
					continue
				}
				ch.Calls = append(ch.Calls, ToolCall{Name: fc.Name, Args: fc.Args})
			}
			if ch.Text == "" && len(ch.Calls) == 0 {
				continue
			}
			if !yield(ch, nil) {
				return
			}
		}
	}
}
