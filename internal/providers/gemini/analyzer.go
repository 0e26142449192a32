// Package gemini classifies practice transcripts with the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"speakdrill/internal/domain"
	"speakdrill/internal/ports"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultModel   = "gemini-2.0-flash"
	maxAttempts    = 2
)

var (
	ErrMissingAPIKey   = errors.New("GEMINI_API_KEY is not configured")
	ErrEmptyTranscript = errors.New("transcription is empty")
	ErrProviderFailed  = errors.New("gemini request failed")
)

const systemPrompt = `You are a speaking coach. The user practiced a spoken answer on a topic.
Classify what they said into three lists:
- valid: statements that are correct and relevant to the topic
- corrections: statements that are wrong or imprecise, each phrased as the corrected statement
- missing: important points about the topic the user did not mention
Keep every item short. Respond with JSON only.`

const responseSchema = `{
  "type": "object",
  "properties": {
    "valid": {"type": "array", "items": {"type": "string"}},
    "corrections": {"type": "array", "items": {"type": "string"}},
    "missing": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["valid", "corrections", "missing"]
}`

// Config controls the Gemini analyzer.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Analyzer implements ports.Analyzer.
type Analyzer struct {
	cfg    Config
	client *http.Client
}

func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Analyzer{cfg: cfg, client: client}
}

// Analyze asks the model for feedback. A reply that does not decode as the
// expected JSON is retried once with a reminder appended to the conversation.
func (a *Analyzer) Analyze(ctx context.Context, req ports.AnalysisRequest) (domain.AnalysisResult, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return domain.AnalysisResult{}, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Transcription) == "" {
		return domain.AnalysisResult{}, ErrEmptyTranscript
	}

	history := []message{{role: "user", text: buildPrompt(req)}}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		content, err := a.sendOnce(ctx, history)
		if err != nil {
			if ctx.Err() != nil {
				return domain.AnalysisResult{}, ctx.Err()
			}
			lastErr = err
			continue
		}

		result, err := decodeResult(content)
		if err == nil {
			return result, nil
		}
		lastErr = err
		history = append(history,
			message{role: "model", text: content},
			message{role: "user", text: "Your previous response was not valid JSON for the requested schema. Regenerate the complete JSON response."},
		)
	}
	return domain.AnalysisResult{}, fmt.Errorf("analysis failed after %d attempts: %w", maxAttempts, lastErr)
}

type message struct {
	role string
	text string
}

func buildPrompt(req ports.AnalysisRequest) string {
	topic := strings.TrimSpace(req.TopicTitle)
	if topic == "" {
		topic = "(untitled topic)"
	}
	return fmt.Sprintf("Topic: %s\n\nTranscript:\n%s", topic, strings.TrimSpace(req.Transcription))
}

func (a *Analyzer) sendOnce(ctx context.Context, history []message) (string, error) {
	body, err := json.Marshal(buildRequest(history))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s",
		strings.TrimRight(a.cfg.BaseURL, "/"), url.PathEscape(a.cfg.Model), url.QueryEscape(a.cfg.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrProviderFailed, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return parseResponse(payload)
}

func buildRequest(history []message) map[string]any {
	contents := make([]map[string]any, 0, len(history))
	for _, msg := range history {
		contents = append(contents, map[string]any{
			"role":  msg.role,
			"parts": []map[string]any{{"text": msg.text}},
		})
	}

	generation := map[string]any{"responseMimeType": "application/json"}
	var schema map[string]any
	if err := json.Unmarshal([]byte(responseSchema), &schema); err == nil {
		generation["responseSchema"] = schema
	}

	return map[string]any{
		"contents":         contents,
		"generationConfig": generation,
		"systemInstruction": map[string]any{
			"parts": []map[string]any{{"text": systemPrompt}},
		},
	}
}

func parseResponse(body []byte) (string, error) {
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrProviderFailed)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func decodeResult(content string) (domain.AnalysisResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")

	var out struct {
		Valid       []string `json:"valid"`
		Corrections []string `json:"corrections"`
		Missing     []string `json:"missing"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("decode analysis: %w", err)
	}
	return domain.NewAnalysisResult(compact(out.Valid), compact(out.Corrections), compact(out.Missing)), nil
}

// compact drops blank items, preserving order.
func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}
