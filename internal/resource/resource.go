// Package resource defines the Resource tagged union evaluated by the
// policy engine: the WHAT and, loosely, the WHERE of a governed request.
package resource

// Kind discriminates the two resource shapes named in spec §3.
type Kind int

const (
	// KindToolCall is an MCP tools/call invocation.
	KindToolCall Kind = iota
	// KindMcpMethod is any other policy-governed MCP method
	// (resources/*, prompts/*).
	KindMcpMethod
)

// Resource is either ToolCall{name, server} or McpMethod{method, server},
// derived from the parsed request (spec §3).
type Resource struct {
	Kind   Kind
	Name   string // tool name for ToolCall, method name for McpMethod
	Server string // the upstream MCP server identifier, when known
}

// ToolCall constructs a ToolCall resource.
func ToolCall(name, server string) Resource {
	return Resource{Kind: KindToolCall, Name: name, Server: server}
}

// McpMethod constructs an McpMethod resource.
func McpMethod(method, server string) Resource {
	return Resource{Kind: KindMcpMethod, Name: method, Server: server}
}

// EntityType returns the Cedar entity type name for this resource's kind.
func (r Resource) EntityType() string {
	switch r.Kind {
	case KindToolCall:
		return "ToolCall"
	default:
		return "McpMethod"
	}
}
