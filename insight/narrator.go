package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Narrator turns churn aggregates into a written analysis via a chat
// completion API.
type Narrator struct {
	apiKey    string
	model     string
	client    *http.Client
	baseURL   string
	maxTokens int
}

// Request carries the aggregates the narrator writes about. All fields
// come from the analytics endpoints; the narrator does no math itself.
type Request struct {
	ChurnedUsers     int                `json:"churned_users"`
	ChurnRateOverall float64            `json:"churn_rate_overall"`
	AvgTenure        float64            `json:"avg_tenure"`
	AvgMonthly       float64            `json:"avg_monthly"`
	ContractChurn    map[string]float64 `json:"contract_churn,omitempty"`
	PaymentChurn     map[string]float64 `json:"payment_churn,omitempty"`
	TopFeatures      map[string]float64 `json:"top_features,omitempty"`
}

// Result is the generated analysis plus bookkeeping about the call.
type Result struct {
	Insights string         `json:"insights"`
	Metadata ResultMetadata `json:"metadata"`
}

type ResultMetadata struct {
	GeneratedAt        string `json:"generated_at"`
	ModelUsed          string `json:"model_used"`
	DataPointsAnalyzed int    `json:"data_points_analyzed"`
	PromptLength       int    `json:"prompt_length"`
}

// NewNarrator builds a narrator. An empty baseURL selects the default
// DeepSeek endpoint.
func NewNarrator(apiKey, model, baseURL string, timeout time.Duration, maxTokens int) *Narrator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.deepseek.com/chat/completions"
	}
	if model == "" {
		model = "deepseek-chat"
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Narrator{
		apiKey:    apiKey,
		model:     model,
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		maxTokens: maxTokens,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate calls the completion API and returns the cleaned analysis.
func (n *Narrator) Generate(ctx context.Context, req Request) (*Result, error) {
	if n == nil || n.client == nil {
		return nil, errors.New("narrator not configured")
	}
	if n.apiKey == "" {
		return nil, errors.New("narrator api key is required")
	}

	prompt := n.buildPrompt(req)
	payload, err := json.Marshal(chatRequest{
		Model: n.model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: prompt,
		}},
		MaxTokens:   n.maxTokens,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", n.apiKey))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr chatErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("completion api error: %s", apiErr.Error.Message)
		}
		return nil, fmt.Errorf("completion api returned status %d", resp.StatusCode)
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, err
	}
	if len(apiResp.Choices) == 0 {
		return nil, errors.New("completion api returned no choices")
	}

	return &Result{
		Insights: stripFences(apiResp.Choices[0].Message.Content),
		Metadata: ResultMetadata{
			GeneratedAt:        time.Now().UTC().Format(time.RFC3339),
			ModelUsed:          n.model,
			DataPointsAnalyzed: dataPoints(req),
			PromptLength:       len(prompt),
		},
	}, nil
}

func (n *Narrator) buildPrompt(req Request) string {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	b.WriteString("You are a customer retention analyst. Based on the following churn metrics, write a concise analysis with concrete retention recommendations.\n\n")
	p.Fprintf(&b, "Churned customers: %d\n", req.ChurnedUsers)
	p.Fprintf(&b, "Overall churn rate: %.2f%%\n", req.ChurnRateOverall*100)
	p.Fprintf(&b, "Average tenure: %.1f months\n", req.AvgTenure)
	p.Fprintf(&b, "Average monthly charge: $%.1f\n", req.AvgMonthly)

	writeSection(&b, p, "Churn rate by contract type", req.ContractChurn)
	writeSection(&b, p, "Churn rate by payment method", req.PaymentChurn)

	if len(req.TopFeatures) > 0 {
		b.WriteString("\nStrongest model coefficients (positive pushes toward churn):\n")
		for feature, weight := range req.TopFeatures {
			p.Fprintf(&b, "- %s: %.4f\n", feature, weight)
		}
	}

	b.WriteString("\nStructure the answer as: key findings, risk segments, recommended actions. Plain text only, no markdown.")
	return b.String()
}

func writeSection(b *strings.Builder, p *message.Printer, title string, rates map[string]float64) {
	if len(rates) == 0 {
		return
	}
	b.WriteString("\n" + title + ":\n")
	for key, rate := range rates {
		p.Fprintf(b, "- %s: %.2f%%\n", key, rate*100)
	}
}

func dataPoints(req Request) int {
	return 4 + len(req.ContractChurn) + len(req.PaymentChurn) + len(req.TopFeatures)
}

// stripFences removes a wrapping markdown code fence when the model
// ignores the plain-text instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
