package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nandipalleparthu-eng/saferoute-ai/server/models"
	"go.uber.org/zap"
)

// systemPrompt is the fixed policy instruction sent with every request. The
// thresholds are advisory to the model; nothing in this service re-checks them.
const systemPrompt = `You are a collision-risk classifier for an autonomous depot bus.
You receive one JSON sensor reading with fields: left_clearance (cm),
right_clearance (cm), closing_speed (m/s), vehicle_speed (km/h) and
driving_mode (traffic, highway or depot).

Apply these thresholds:
- HIGH: any clearance below 30 cm, or closing speed above 5 m/s, or vehicle
  speed above 80 km/h while in traffic mode.
- MEDIUM: clearance between 30 and 80 cm, or closing speed between 2 and
  5 m/s, or high speed on a highway with adequate clearance.
- LOW: clearance above 100 cm, closing speed below 2 m/s, and a controlled
  speed appropriate to the driving mode.

Reply with a single JSON object and nothing else:
{"risk_level": "LOW"|"MEDIUM"|"HIGH", "explanation": "<one short sentence>"}`

// fallbackExplanation is used when the model reply parses but carries no
// usable explanation.
const fallbackExplanation = "No explanation provided by the risk model."

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

type ClientConfig struct {
	BaseURL             string
	APIKey              string
	Model               string
	Timeout             time.Duration // 0 disables the client-side timeout
	HealthCheckInterval time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func NewClient(config ClientConfig, logger *zap.Logger) *Client {
	client := &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		model:   config.Model,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}

	if config.HealthCheckInterval > 0 {
		if err := client.HealthCheck(); err != nil {
			logger.Warn("Risk model not available at startup", zap.Error(err))
		}
		go client.startHealthChecker(config.HealthCheckInterval)
	}

	return client
}

// Classify sends one reading to the chat-completions endpoint and maps the
// reply to a verdict. Transport failures, non-2xx statuses and undecodable
// envelopes are errors; a reply whose content is missing the expected fields
// is defaulted to LOW with a fallback explanation. No retries.
func (c *Client) Classify(ctx context.Context, reading models.SensorReading) (models.RiskVerdict, error) {
	readingJSON, err := json.Marshal(reading)
	if err != nil {
		return models.RiskVerdict{}, fmt.Errorf("failed to marshal reading: %w", err)
	}

	request := &chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(readingJSON)},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	requestData, err := json.Marshal(request)
	if err != nil {
		return models.RiskVerdict{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", c.baseURL)
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestData))
	if err != nil {
		return models.RiskVerdict{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", "saferoute-ai/1.0")
	if c.apiKey != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return models.RiskVerdict{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(response.Body)
		return models.RiskVerdict{}, fmt.Errorf("risk model error (status %d): %s",
			response.StatusCode, string(bodyBytes))
	}

	var completion chatResponse
	if err := json.NewDecoder(response.Body).Decode(&completion); err != nil {
		return models.RiskVerdict{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(completion.Choices) == 0 {
		return models.RiskVerdict{}, fmt.Errorf("risk model returned no choices")
	}

	return c.parseVerdict(completion.Choices[0].Message.Content), nil
}

// parseVerdict applies the default-on-malformed policy: whatever the model
// actually sent, the caller always gets a usable verdict.
func (c *Client) parseVerdict(content string) models.RiskVerdict {
	verdict := models.RiskVerdict{
		RiskLevel:   models.RiskLow,
		Explanation: fallbackExplanation,
	}

	var raw struct {
		RiskLevel   string `json:"risk_level"`
		Explanation string `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		c.logger.Warn("Risk model reply was not valid JSON, defaulting to LOW",
			zap.String("content", content))
		return verdict
	}

	if level, ok := models.ParseRiskLevel(raw.RiskLevel); ok {
		verdict.RiskLevel = level
	} else {
		c.logger.Warn("Risk model reply missing risk_level, defaulting to LOW",
			zap.String("risk_level", raw.RiskLevel))
	}

	if raw.Explanation != "" {
		verdict.Explanation = raw.Explanation
	}

	return verdict
}

func (c *Client) HealthCheck() error {
	url := fmt.Sprintf("%s/v1/models", c.baseURL)

	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("risk model unhealthy (status %d)", response.StatusCode)
	}

	return nil
}

func (c *Client) startHealthChecker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := c.HealthCheck(); err != nil {
			c.logger.Error("Risk model health check failed", zap.Error(err))
		} else {
			c.logger.Debug("Risk model health check passed")
		}
	}
}
