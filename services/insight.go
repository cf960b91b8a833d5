package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"greentech/analytics"
	"greentech/config"
	"greentech/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrInsightRejected = errors.New("insight response rejected")

var codeFence = regexp.MustCompile("^```(?:json)?\\s*|\\s*```$")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// InsightClient asks an OpenAI-compatible chat endpoint for a narrative
// summary of the current scores.
type InsightClient struct {
	httpClient *resty.Client
	model      string
	logger     *zap.Logger
}

func NewInsightClient(cfg *config.Config, logger *zap.Logger) *InsightClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.InsightAPIURL, "/")).
		SetTimeout(30*time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.InsightAPIKey)

	return &InsightClient{
		httpClient: client,
		model:      cfg.InsightModel,
		logger:     logger,
	}
}

// Generate returns an insight for result, or an error when the endpoint fails
// or answers with something that is not a complete insight.
func (c *InsightClient) Generate(ctx context.Context, result models.AnalyticsResult, reading analytics.Reading) (*models.Insight, error) {
	request := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: insightPrompt(result, reading)}},
		Temperature: 0.5,
		MaxTokens:   400,
	}

	var response chatResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("insight request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("insight request: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrInsightRejected)
	}

	insight, err := parseInsight(response.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Received insight",
		zap.String("risk_level", string(insight.RiskLevel)),
		zap.Int("recommendations", len(insight.Recommendations)))
	return insight, nil
}

func parseInsight(content string) (*models.Insight, error) {
	content = codeFence.ReplaceAllString(strings.TrimSpace(content), "")
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInsightRejected)
	}

	var insight models.Insight
	if err := json.Unmarshal([]byte(content), &insight); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsightRejected, err)
	}
	if !analytics.ValidInsight(&insight) {
		return nil, fmt.Errorf("%w: incomplete insight", ErrInsightRejected)
	}
	return &insight, nil
}

func insightPrompt(result models.AnalyticsResult, r analytics.Reading) string {
	var sb strings.Builder

	sb.WriteString("You are an expert agricultural data analyst for smart greenhouses. ")
	sb.WriteString("Analyze these sensor readings and computed analytics. Respond with a JSON object containing: ")
	sb.WriteString(`"summary" (1-2 sentences), "recommendations" (array of 2-4 actionable strings), `)
	sb.WriteString(`"riskLevel" ("low"|"medium"|"high"), and optionally "predictedImpact" (1 sentence if risk is medium or high).`)
	sb.WriteString("\n\nCurrent readings:\n")
	sb.WriteString(fmt.Sprintf("- Temperature: %.1f°C\n", r.Temperature))
	sb.WriteString(fmt.Sprintf("- Humidity: %.1f%%\n", r.Humidity))
	sb.WriteString(fmt.Sprintf("- Soil moisture: %d%%\n", r.SoilMoisture))
	sb.WriteString("\nComputed analytics:\n")
	sb.WriteString(fmt.Sprintf("- Plant health score: %d/100\n", result.PlantHealthScore))
	sb.WriteString(fmt.Sprintf("- Irrigation need: %d/100\n", result.IrrigationNeedScore))
	sb.WriteString(fmt.Sprintf("- Climate risk: %d/100\n", result.ClimateRiskScore))
	sb.WriteString(fmt.Sprintf("- VPD (Vapor Pressure Deficit): %.3f kPa (%s)\n", result.VPD, result.VPDStatus))
	sb.WriteString(fmt.Sprintf("- Trend: %s\n", result.Trend))
	sb.WriteString(fmt.Sprintf("- Status: Temp %s, Humidity %s, Soil %s\n",
		result.Metrics.TemperatureStatus, result.Metrics.HumidityStatus, result.Metrics.SoilStatus))
	sb.WriteString("\nRespond ONLY with valid JSON, no markdown or extra text.")

	return sb.String()
}
