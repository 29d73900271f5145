package proxy

import "encoding/json"

// Message is one chat message. Assistant messages may carry ToolCalls; tool
// messages answer a call by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function invocation proposed by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names a tool and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool declares a function the model may call.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef is the name, description and JSON schema of a tool.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// CompletionRequest is the OpenAI-compatible chat completion request.
type CompletionRequest struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Tools               []Tool    `json:"tools,omitempty"`
	ToolChoice          string    `json:"tool_choice,omitempty"`
	Temperature         *float64  `json:"temperature,omitempty"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
}

// Completion is the chat completion response.
type Completion struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one generated alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message returns the first choice's message, or an empty assistant message.
func (c *Completion) Message() Message {
	if c == nil || len(c.Choices) == 0 {
		return Message{Role: "assistant"}
	}
	return c.Choices[0].Message
}

// ResponsesRequest is a request to the Responses API, used for hosted web search.
type ResponsesRequest struct {
	Model           string          `json:"model"`
	Input           []InputMessage  `json:"input"`
	Tools           []WebSearchTool `json:"tools,omitempty"`
	ToolChoice      string          `json:"tool_choice,omitempty"`
	MaxToolCalls    int             `json:"max_tool_calls,omitempty"`
	Include         []string        `json:"include,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
}

// InputMessage is one role-tagged input of a Responses request.
type InputMessage struct {
	Role    string         `json:"role"`
	Content []InputContent `json:"content"`
}

// InputContent is a typed content part, usually {"type":"input_text"}.
type InputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// WebSearchTool configures the hosted web_search tool.
type WebSearchTool struct {
	Type              string         `json:"type"`
	SearchContextSize string         `json:"search_context_size,omitempty"`
	UserLocation      *UserLocation  `json:"user_location,omitempty"`
	Filters           *SearchFilters `json:"filters,omitempty"`
}

// UserLocation biases search results towards a region.
type UserLocation struct {
	Type    string `json:"type"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

// SearchFilters restricts which domains the search may use.
type SearchFilters struct {
	AllowedDomains []string `json:"allowed_domains,omitempty"`
}

// Model represents a model entry returned by the /models endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the response from /models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }
