// Package ai is the natural-language collaborator. It asks a chat model to
// decompose blockers into subtasks and to categorize new tasks. Every failure
// surfaces as a CollaboratorError so callers can degrade instead of dying.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tasknext-backend/internal/model"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Client struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
}

func New(apiKey, modelName, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		APIKey:  apiKey,
		Model:   modelName,
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Decompose asks the model for 2-5 concrete subtasks that would clear the
// blocker.
func (c *Client) Decompose(ctx context.Context, description, taskContext string) ([]model.SubtaskProposal, error) {
	raw, err := c.chat(ctx, decomposeSystemPrompt, BuildDecomposePrompt(description, taskContext))
	if err != nil {
		return nil, err
	}
	var out struct {
		Subtasks []model.SubtaskProposal `json:"subtasks"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, &model.CollaboratorError{Collaborator: "openai", Err: fmt.Errorf("malformed decomposition: %w", err)}
	}
	if len(out.Subtasks) == 0 {
		return nil, &model.CollaboratorError{Collaborator: "openai", Err: errors.New("empty decomposition")}
	}
	return out.Subtasks, nil
}

// Categorize suggests a category label for a task, with the model's own
// confidence in [0,1].
func (c *Client) Categorize(ctx context.Context, title, description string) (string, float64, error) {
	raw, err := c.chat(ctx, categorizeSystemPrompt, BuildCategorizePrompt(title, description))
	if err != nil {
		return "", 0, err
	}
	var out struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", 0, &model.CollaboratorError{Collaborator: "openai", Err: fmt.Errorf("malformed categorization: %w", err)}
	}
	if out.Category == "" {
		return "", 0, &model.CollaboratorError{Collaborator: "openai", Err: errors.New("empty category")}
	}
	return out.Category, out.Confidence, nil
}

func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return "", &model.CollaboratorError{Collaborator: "openai", Timeout: isTimeout(err), Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", &model.CollaboratorError{
			Collaborator: "openai",
			Err:          fmt.Errorf("status %d: %s", res.StatusCode, slurp),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", &model.CollaboratorError{Collaborator: "openai", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &model.CollaboratorError{Collaborator: "openai", Err: errors.New("no choices in response")}
	}
	return parsed.Choices[0].Message.Content, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
