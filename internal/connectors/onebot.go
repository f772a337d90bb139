package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// OneBotClient - HTTP API хоста бота (OneBot v11).
type OneBotClient struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

// NewOneBotClient создает клиент. Таймаут на вызов задает ReliableHost через ctx.
func NewOneBotClient(baseURL, accessToken string) *OneBotClient {
	return &OneBotClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      cleanhttp.DefaultPooledClient(),
	}
}

type oneBotResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Data    json.RawMessage `json:"data"`
}

type oneBotMember struct {
	UserID json.Number `json:"user_id"`
}

// ListGroupMembers реализует engine.GroupHost
func (c *OneBotClient) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	data, err := c.call(ctx, "get_group_member_list", map[string]any{
		"group_id": idValue(groupID),
	})
	if err != nil {
		return nil, err
	}

	var members []oneBotMember
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("decode member list: %w", err)
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		if id := m.UserID.String(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// RemoveMember реализует engine.GroupHost
func (c *OneBotClient) RemoveMember(ctx context.Context, groupID, subjectID string) error {
	_, err := c.call(ctx, "set_group_kick", map[string]any{
		"group_id":           idValue(groupID),
		"user_id":            idValue(subjectID),
		"reject_add_request": false,
	})
	return err
}

// SendGroupMessage реализует engine.GroupHost
func (c *OneBotClient) SendGroupMessage(ctx context.Context, groupID, text string) error {
	_, err := c.call(ctx, "send_group_msg", map[string]any{
		"group_id": idValue(groupID),
		"message":  text,
	})
	return err
}

func (c *OneBotClient) call(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+action, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("host call %s failed: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", action, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Cause:      fmt.Errorf("host call %s: status 429", action),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s: status %d", ErrRejected, action, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("host call %s: status %d", action, resp.StatusCode)
	}

	var out oneBotResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", action, err)
	}
	if out.RetCode != 0 || strings.EqualFold(out.Status, "failed") {
		msg := out.Wording
		if msg == "" {
			msg = out.Message
		}
		return nil, fmt.Errorf("%w: %s: retcode %d %s", ErrRejected, action, out.RetCode, msg)
	}
	return out.Data, nil
}

// idValue: OneBot ждет числовые ID, но некоторые реализации используют строки.
func idValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}
