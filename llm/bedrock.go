package llm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"

	"github.com/xiaot623/flightcopilot/flightcopilot"
)

// BedrockProvider adapts Amazon Bedrock foundation models to the
// CompletionProvider contract via the Converse API, including tool use.
//
// Supports the full AWS credential chain:
//   - Explicit credentials (access key ID, secret access key)
//   - AWS profiles (~/.aws/config)
//   - Environment variables (AWS_ACCESS_KEY_ID, etc.)
//   - IAM roles (EC2, ECS, EKS)
//
// Example:
//
//	provider, err := NewBedrockProvider(ctx, BedrockConfig{
//	    ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0",
//	    Region:  "us-west-2",
//	})
type BedrockProvider struct {
	client  *bedrockruntime.Client
	modelID string
}

// BedrockConfig holds configuration for creating a Bedrock provider.
type BedrockConfig struct {
	// ModelID is the Bedrock model identifier.
	ModelID string

	// Region is the AWS region (default: us-east-1).
	Region string

	// Profile is the AWS profile name (optional).
	Profile string

	// AccessKeyID is the AWS access key (optional).
	AccessKeyID string

	// SecretAccessKey is the AWS secret key (optional).
	SecretAccessKey string

	// SessionToken is the AWS session token (optional).
	SessionToken string
}

// NewBedrockProvider creates a Bedrock provider.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))
	if cfg.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:  bedrockruntime.NewFromConfig(awsConfig),
		modelID: cfg.ModelID,
	}, nil
}

// Model returns the model identifier.
func (p *BedrockProvider) Model() string { return p.modelID }

// Complete generates one completion, surfacing any tool-use requests the
// model makes.
func (p *BedrockProvider) Complete(ctx context.Context, instructions string, history []*flightcopilot.Message, tools []flightcopilot.ToolSpec) (*flightcopilot.Completion, error) {
	messages := convertBedrockMessages(history)

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.modelID),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(4096),
		},
	}
	if instructions != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: instructions},
		}
	}
	if len(tools) > 0 {
		toolCfg := &types.ToolConfiguration{}
		for _, t := range tools {
			toolCfg.Tools = append(toolCfg.Tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: document.NewLazyDocument(t.Schema),
					},
				},
			})
		}
		input.ToolConfig = toolCfg
	}

	output, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock api error: %w", err)
	}

	completion := &flightcopilot.Completion{
		Metadata: map[string]interface{}{
			"model":       p.modelID,
			"stop_reason": string(output.StopReason),
		},
	}
	if output.Usage != nil {
		completion.Metadata["usage"] = map[string]interface{}{
			"prompt_tokens":     aws.ToInt32(output.Usage.InputTokens),
			"completion_tokens": aws.ToInt32(output.Usage.OutputTokens),
			"total_tokens":      aws.ToInt32(output.Usage.TotalTokens),
		}
	}

	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock returned no message output")
	}
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			completion.Text += b.Value
		case *types.ContentBlockMemberToolUse:
			args := make(map[string]interface{})
			if b.Value.Input != nil {
				if err := b.Value.Input.UnmarshalSmithyDocument(&args); err != nil {
					return nil, fmt.Errorf("malformed tool arguments from model: %w", err)
				}
			}
			completion.ToolCalls = append(completion.ToolCalls, flightcopilot.ToolCallRequest{
				ToolName:  aws.ToString(b.Value.Name),
				Arguments: args,
			})
		}
	}

	return completion, nil
}

// convertBedrockMessages maps core messages onto Converse messages. Bedrock
// only accepts user/assistant roles, so tool-result context travels as user
// content. The Converse API requires strictly alternating roles; runs of
// same-role messages are folded into one message with multiple content
// blocks.
func convertBedrockMessages(history []*flightcopilot.Message) []types.Message {
	messages := make([]types.Message, 0, len(history))
	for _, msg := range history {
		role := types.ConversationRoleUser
		if msg.Role == flightcopilot.RoleAgent {
			role = types.ConversationRoleAssistant
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content,
				&types.ContentBlockMemberText{Value: msg.Content})
			continue
		}
		messages = append(messages, types.Message{
			Role: role,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: msg.Content},
			},
		})
	}
	return messages
}
