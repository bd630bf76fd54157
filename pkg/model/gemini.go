package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/hamidomar/coderelay/pkg/observability"
)

const (
	defaultGenerativeLanguageBase = "https://generativelanguage.googleapis.com"
	defaultTimeout                = 5 * time.Minute
)

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	// APIKey selects the Generative Language endpoint when Project is
	// empty. Sent as a query parameter.
	APIKey string

	// Project and Location select the Vertex AI endpoint. Requests are
	// then authenticated with a bearer token obtained from Application
	// Default Credentials (gcloud).
	Project  string
	Location string

	// Model is the model identifier, e.g. "gemini-2.0-flash".
	Model string

	// SystemInstruction is prepended to every chat session.
	SystemInstruction string

	// BaseURL overrides the endpoint base. Mainly for tests.
	BaseURL string

	// Timeout bounds each HTTP request. Defaults to 5 minutes.
	Timeout time.Duration
}

// GeminiClient calls the Gemini generateContent REST API.
type GeminiClient struct {
	cfg        GeminiConfig
	httpClient *http.Client

	// tokenFn obtains a bearer token for Vertex AI mode. Replaceable
	// in tests.
	tokenFn func(ctx context.Context) (string, error)
}

// Ensure GeminiClient implements Client.
var _ Client = (*GeminiClient)(nil)

// NewGeminiClient creates a client from configuration. It does not
// contact the backend; auth problems surface on the first SendMessage.
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.APIKey == "" && cfg.Project == "" {
		return nil, fmt.Errorf("either an API key or a project id is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}

	return &GeminiClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tokenFn: adcAccessToken,
	}, nil
}

// StartChat begins a chat session primed with the given history.
func (c *GeminiClient) StartChat(history []Turn) Chat {
	h := make([]Turn, len(history))
	copy(h, history)
	return &geminiChat{client: c, history: h}
}

// Close releases client resources.
func (c *GeminiClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// endpoint returns the generateContent URL for the configured auth mode.
func (c *GeminiClient) endpoint() string {
	if c.cfg.Project != "" {
		base := c.cfg.BaseURL
		if base == "" {
			base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", c.cfg.Location)
		}
		return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
			strings.TrimRight(base, "/"), c.cfg.Project, c.cfg.Location, c.cfg.Model)
	}

	base := c.cfg.BaseURL
	if base == "" {
		base = defaultGenerativeLanguageBase
	}
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(base, "/"), c.cfg.Model)
}

// geminiChat implements Chat. The session history is private to the
// chat and only grows on successful turns, so a failed call leaves the
// conversation exactly as it was.
type geminiChat struct {
	client  *GeminiClient
	history []Turn
}

// SendMessage sends text with the session history and returns the reply.
func (ch *geminiChat) SendMessage(ctx context.Context, text string, cfg GenerationConfig) (string, error) {
	contents := make([]geminiContent, 0, len(ch.history)+1)
	for _, turn := range ch.history {
		contents = append(contents, geminiContent{
			Role:  string(turn.Role),
			Parts: []geminiPart{{Text: turn.Text}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  string(RoleUser),
		Parts: []geminiPart{{Text: text}},
	})

	reqBody := geminiRequest{
		Contents: contents,
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			TopK:            cfg.TopK,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
	}
	if si := ch.client.cfg.SystemInstruction; si != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: si}},
		}
	}

	reply, err := ch.client.generate(ctx, &reqBody)
	if err != nil {
		return "", err
	}

	// Successful turns extend the session history.
	ch.history = append(ch.history,
		Turn{Role: RoleUser, Text: text},
		Turn{Role: RoleModel, Text: reply},
	)
	return reply, nil
}

// generate performs one generateContent request.
func (c *GeminiClient) generate(ctx context.Context, reqBody *geminiRequest) (string, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := c.endpoint()
	if c.cfg.Project == "" {
		url += "?key=" + c.cfg.APIKey
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.cfg.Project != "" {
		token, err := c.tokenFn(ctx)
		if err != nil {
			return "", &Error{Message: fmt.Sprintf("obtain access token: %v", err)}
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Message: err.Error()}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", &Error{Message: fmt.Sprintf("read response: %v", err)}
	}

	if httpResp.StatusCode != http.StatusOK {
		return "", classifyError(httpResp.StatusCode, respBody)
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &Error{Message: fmt.Sprintf("decode response: %v", err)}
	}

	if len(apiResp.Candidates) == 0 {
		return "", &Error{Message: "response contained no candidates"}
	}

	observability.ModelTokensTotal.WithLabelValues(c.cfg.Model, "input").Add(float64(apiResp.UsageMetadata.PromptTokenCount))
	observability.ModelTokensTotal.WithLabelValues(c.cfg.Model, "output").Add(float64(apiResp.UsageMetadata.CandidatesTokenCount))

	var sb strings.Builder
	for _, part := range apiResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// classifyError converts a non-200 response into a typed Error, pulling
// the structured status out of the body when present.
func classifyError(statusCode int, body []byte) *Error {
	var errResp geminiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &Error{
			StatusCode: statusCode,
			Status:     errResp.Error.Status,
			Message:    errResp.Error.Message,
		}
	}
	msg := string(body)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return &Error{StatusCode: statusCode, Message: msg}
}

// adcAccessToken obtains a bearer token from Application Default
// Credentials by shelling out to gcloud, matching how the VM backend
// reaches gcloud-managed hosts.
func adcAccessToken(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "gcloud", "auth", "application-default", "print-access-token")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("gcloud auth application-default print-access-token: %w (run `gcloud auth application-default login` first)", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// --- Gemini API request/response types ---

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"system_instruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
