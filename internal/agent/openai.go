package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jneo8/mcp-sentinel/internal/models"
	"github.com/jneo8/mcp-sentinel/internal/toolserver"
)

// ToolCaller is the discovery and invocation surface a remote session must
// expose to the OpenAI runtime. *toolserver.Session satisfies it.
type ToolCaller interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// OpenAIRuntime drives incident agents through the OpenAI chat completions
// API with function calling, dispatching tool calls to the MCP sessions that
// own them.
type OpenAIRuntime struct {
	client   openai.Client
	settings models.OpenAISettings
}

// NewOpenAIRuntime builds a runtime from settings. The API key comes from
// the environment, never from the config file.
func NewOpenAIRuntime(settings models.OpenAISettings, apiKey string) *OpenAIRuntime {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}
	return &OpenAIRuntime{
		client:   openai.NewClient(opts...),
		settings: settings,
	}
}

type toolBinding struct {
	invoke func(ctx context.Context, args map[string]any) (string, error)
	server string
}

// Run implements Runtime. The conversation loop is bounded by
// opts.MaxTurns; each turn is either a batch of tool calls fed back into the
// conversation or the final answer.
func (r *OpenAIRuntime) Run(ctx context.Context, spec Spec, input string, opts RunOptions) (*Result, error) {
	tools, bindings, err := r.collectTools(ctx, spec)
	if err != nil {
		return nil, err
	}

	logger := log.With().
		Str("workflow", opts.WorkflowName).
		Str("model", spec.Model).
		Logger()
	logger.Debug().Int("tools", len(tools)).Msg("Assembled tool definitions for agent run")

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(spec.Instructions),
		openai.UserMessage(input),
	}

	var lastContent string
	for turn := 0; turn < opts.MaxTurns; turn++ {
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(spec.Model),
			Messages: messages,
		}
		if len(tools) > 0 {
			params.Tools = tools
		}
		if r.settings.Temperature > 0 {
			params.Temperature = openai.Float(r.settings.Temperature)
		}

		resp, err := r.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("chat completion returned no choices")
		}
		choice := resp.Choices[0]
		lastContent = choice.Message.Content

		if len(choice.Message.ToolCalls) == 0 {
			logger.Debug().Int("turn", turn+1).Msg("Agent produced final answer")
			return &Result{FinalOutput: choice.Message.Content, TurnCount: turn + 1}, nil
		}

		var toolCallParams []openai.ChatCompletionMessageToolCallUnionParam
		for _, toolCall := range choice.Message.ToolCalls {
			toolCallParams = append(toolCallParams, toolCall.ToParam())
		}
		var assistant openai.ChatCompletionAssistantMessageParam
		assistant.Content.OfString = param.NewOpt(choice.Message.Content)
		assistant.ToolCalls = toolCallParams
		messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		for _, toolCall := range choice.Message.ToolCalls {
			output := r.executeToolCall(ctx, bindings, toolCall.Function.Name, toolCall.Function.Arguments, logger)
			messages = append(messages, openai.ToolMessage(output, toolCall.ID))
		}
	}

	logger.Warn().Int("max_turns", opts.MaxTurns).Msg("Agent run exhausted turn budget")
	return &Result{FinalOutput: lastContent, TurnCount: opts.MaxTurns}, nil
}

func (r *OpenAIRuntime) collectTools(ctx context.Context, spec Spec) ([]openai.ChatCompletionToolUnionParam, map[string]toolBinding, error) {
	var tools []openai.ChatCompletionToolUnionParam
	bindings := make(map[string]toolBinding)

	bind := func(name, server string, def openai.ChatCompletionToolUnionParam, invoke func(ctx context.Context, args map[string]any) (string, error)) {
		if existing, ok := bindings[name]; ok {
			log.Warn().
				Str("tool", name).
				Str("server", server).
				Str("bound_to", existing.server).
				Msg("Duplicate tool name; keeping first binding")
			return
		}
		bindings[name] = toolBinding{invoke: invoke, server: server}
		tools = append(tools, def)
	}

	for _, handle := range spec.Tools {
		local, ok := handle.(*toolserver.LocalTool)
		if !ok {
			log.Warn().Str("handle", handle.Name()).Msg("Unsupported local tool handle; skipping")
			continue
		}
		def := openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        local.ToolName,
			Description: openai.String(local.ToolDescription),
			Parameters:  shared.FunctionParameters(local.InputSchema),
		})
		bind(local.ToolName, "local", def, local.Invoke)
	}

	for _, server := range spec.Servers {
		caller, ok := server.(ToolCaller)
		if !ok {
			log.Warn().Str("server", server.Name()).Msg("Remote session does not support tool discovery; skipping")
			continue
		}
		serverTools, err := caller.ListTools(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("discover tools on %s: %w", server.Name(), err)
		}
		for _, tool := range serverTools {
			def := mcpToolDefinition(tool)
			caller := caller
			toolName := tool.Name
			bind(toolName, server.Name(), def, func(ctx context.Context, args map[string]any) (string, error) {
				result, err := caller.CallTool(ctx, toolName, args)
				if err != nil {
					return "", err
				}
				return callToolResultText(result), nil
			})
		}
	}
	return tools, bindings, nil
}

func (r *OpenAIRuntime) executeToolCall(ctx context.Context, bindings map[string]toolBinding, name, rawArgs string, logger zerolog.Logger) string {
	binding, ok := bindings[name]
	if !ok {
		logger.Warn().Str("tool", name).Msg("Agent requested unknown tool")
		return fmt.Sprintf("Tool call failed: unknown tool %q", name)
	}

	args := make(map[string]any)
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			logger.Error().Err(err).Str("tool", name).Str("arguments", rawArgs).Msg("Failed to parse tool arguments")
			return fmt.Sprintf("Tool call failed: invalid arguments: %v", err)
		}
	}

	logger.Info().Str("tool", name).Str("server", binding.server).Msg("Executing agent tool call")
	output, err := binding.invoke(ctx, args)
	if err != nil {
		logger.Error().Err(err).Str("tool", name).Str("server", binding.server).Msg("Tool call failed")
		return fmt.Sprintf("Tool call failed: %v", err)
	}
	return output
}

func mcpToolDefinition(tool mcp.Tool) openai.ChatCompletionToolUnionParam {
	def := shared.FunctionDefinitionParam{
		Name:        tool.Name,
		Description: openai.String(tool.Description),
	}
	if tool.InputSchema.Type != "" {
		parameters := shared.FunctionParameters{"type": tool.InputSchema.Type}
		if tool.InputSchema.Properties != nil {
			parameters["properties"] = tool.InputSchema.Properties
		}
		if len(tool.InputSchema.Required) > 0 {
			parameters["required"] = tool.InputSchema.Required
		}
		def.Parameters = parameters
	}
	return openai.ChatCompletionFunctionTool(def)
}

func callToolResultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		return "Tool reported an error: " + text
	}
	if text == "" {
		return fmt.Sprintf("%+v", result)
	}
	return text
}
