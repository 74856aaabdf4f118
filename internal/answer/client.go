package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"greenroom/internal/domain"
)

// Client submits one answer per turn to the external evaluation service.
// The score/feedback payload is opaque to the orchestrator and passed
// through to the candidate.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Submit(ctx context.Context, ans domain.Answer) (domain.AnswerFeedback, error) {
	if c.baseURL == "" {
		return domain.AnswerFeedback{}, fmt.Errorf("answer service is not configured")
	}

	body, _ := json.Marshal(ans)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/answers", bytes.NewReader(body))
	if err != nil {
		return domain.AnswerFeedback{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.AnswerFeedback{}, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return domain.AnswerFeedback{}, fmt.Errorf("answer service status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out domain.AnswerFeedback
	if err := json.Unmarshal(respBody, &out); err != nil {
		return domain.AnswerFeedback{}, err
	}
	return out, nil
}
