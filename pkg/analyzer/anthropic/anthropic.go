// Package anthropic implements analyzer.Analyzer on the Anthropic Messages
// API. The photo is sent as a base64 image block next to the rubric, and
// the model's reply must contain a JSON object, which becomes the result.
package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/analyzer"
)

// Defaults for Config.
const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 2048
)

// ErrNoJSON is returned when the reply carries no JSON object.
var ErrNoJSON = errors.New("model reply contains no JSON object")

// describeInstruction is the first stage of ModeMulti.
const describeInstruction = "Describe this photograph objectively: subject, composition, light, " +
	"colour, technique and mood. Do not score it yet."

// scoreInstruction closes every scoring request.
const scoreInstruction = "Score the photograph against the rubric above. Reply with a single JSON object " +
	"containing overall_score (0-10), scores (criterion name to 0-10) and feedback."

var mediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// MessageClient is the subset of the SDK's message service used here.
type MessageClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Config configures an Analyzer.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// Analyzer scores photos with a Claude vision model.
type Analyzer struct {
	client    MessageClient
	model     string
	maxTokens int64
}

// New creates an Analyzer backed by the SDK client. Retries are left to the
// orchestrator's timeout and the cache, so the SDK's own retries are off.
func New(cfg Config) *Analyzer {
	opts := []option.RequestOption{option.WithMaxRetries(0)}

	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := sdk.NewClient(opts...)

	return NewWithClient(&client.Messages, cfg)
}

// NewWithClient creates an Analyzer around an existing message client.
func NewWithClient(client MessageClient, cfg Config) *Analyzer {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Analyzer{client: client, model: model, maxTokens: maxTokens}
}

// ModelID implements analyzer.Analyzer.
func (a *Analyzer) ModelID() string {
	return a.model
}

// Analyze implements analyzer.Analyzer. ModeMulti first asks for a neutral
// description and then scores with that description in context.
func (a *Analyzer) Analyze(ctx context.Context, req analyzer.Request) (json.RawMessage, error) {
	image, err := imageBlock(req.Path)
	if err != nil {
		return nil, err
	}

	var description string

	if req.Mode == analyzer.ModeMulti {
		description, err = a.send(ctx, req.Prompt, image, sdk.NewTextBlock(describeInstruction))
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", req.ItemID, err)
		}
	}

	var prompt strings.Builder

	if len(req.Rubric) > 0 {
		prompt.WriteString("Rubric:\n")
		prompt.Write(req.Rubric)
		prompt.WriteString("\n\n")
	}

	if description != "" {
		prompt.WriteString("Description from a previous pass:\n")
		prompt.WriteString(description)
		prompt.WriteString("\n\n")
	}

	prompt.WriteString(scoreInstruction)

	reply, err := a.send(ctx, req.Prompt, image, sdk.NewTextBlock(prompt.String()))
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", req.ItemID, err)
	}

	return extractJSON(reply)
}

func (a *Analyzer) send(ctx context.Context, system string, blocks ...sdk.ContentBlockParamUnion) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	}

	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := a.client.New(ctx, params)
	if err != nil {
		return "", classify(ctx, err)
	}

	var text strings.Builder

	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return text.String(), nil
}

func imageBlock(path string) (sdk.ContentBlockParamUnion, error) {
	mediaType, ok := mediaTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return sdk.ContentBlockParamUnion{}, fmt.Errorf("%w: unsupported image type %q", analyzer.ErrInvalidInput, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sdk.ContentBlockParamUnion{}, fmt.Errorf("%w: read %s: %w", analyzer.ErrInvalidInput, path, err)
	}

	return sdk.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(data)), nil
}

// classify wraps SDK and transport errors in the analyzer taxonomy.
func classify(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", analyzer.ErrTimeout, err)
	}

	if ctxErr != nil {
		return err
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %w", analyzer.ErrTimeout, err)
		case apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusRequestEntityTooLarge:
			return fmt.Errorf("%w: %w", analyzer.ErrInvalidInput, err)
		case apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", analyzer.ErrConnection, err)
		}

		return err
	}

	if analyzer.Classify(err) == analyzer.KindUnknown {
		return fmt.Errorf("%w: %w", analyzer.ErrConnection, err)
	}

	return err
}

// extractJSON returns the outermost JSON object in text, compacted.
func extractJSON(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start < 0 || end < start {
		return nil, ErrNoJSON
	}

	var compact bytes.Buffer

	err := json.Compact(&compact, []byte(text[start:end+1]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoJSON, err)
	}

	return compact.Bytes(), nil
}
