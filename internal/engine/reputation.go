package engine

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
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
	"go.uber.org/zap"
)

const (
	reputationPath     = "/OpenAPI/all_f.php"
	defaultLookupLimit = 10 * time.Second
	maxResponseBytes   = 1 << 20
)

// Limiter - допуск исходящих вызовов к репутационному API.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// ReputationClient - один запрос к облачному черному списку через общий лимитер.
// Без ретраев: неудачная попытка окончательна для этого пользователя.
type ReputationClient struct {
	baseURL string
	client  *http.Client
	limiter Limiter
	metrics *Metrics
	logger  *zap.Logger
}

func NewReputationClient(baseURL string, timeout time.Duration, limiter Limiter, metrics *Metrics, logger *zap.Logger) *ReputationClient {
	if timeout <= 0 {
		timeout = defaultLookupLimit
	}
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout

	return &ReputationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: limiter,
		metrics: metrics,
		logger:  logger.Named("reputation"),
	}
}

// Check возвращает Verdict (IsFlagged=false - записи нет) или *domain.LookupError.
// Пустой apiKey - domain.ErrConfigMissing.
func (c *ReputationClient) Check(ctx context.Context, subjectID, apiKey string) (domain.Verdict, error) {
	if strings.TrimSpace(apiKey) == "" {
		c.count("config_missing")
		return domain.Verdict{}, domain.ErrConfigMissing
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		c.count("error")
		return domain.Verdict{}, domain.NewLookupError(subjectID, domain.ErrUpstreamUnavailable, err)
	}

	start := time.Now()
	body, err := c.fetch(ctx, subjectID, apiKey)
	if c.metrics != nil {
		c.metrics.LookupDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.count("error")
		c.logger.Warn("reputation lookup failed", zap.String("subject_id", subjectID), zap.Error(err))
		return domain.Verdict{}, domain.NewLookupError(subjectID, domain.ErrUpstreamUnavailable, err)
	}

	verdict, err := ParseReputation(subjectID, body)
	if err != nil {
		c.count("error")
		c.logger.Warn("reputation response rejected", zap.String("subject_id", subjectID), zap.Error(err))
		return domain.Verdict{}, domain.NewLookupError(subjectID, domain.ErrMalformedResponse, err)
	}

	if verdict.IsFlagged {
		c.count("flagged")
	} else {
		c.count("clean")
	}
	return verdict, nil
}

func (c *ReputationClient) fetch(ctx context.Context, subjectID, apiKey string) ([]byte, error) {
	q := url.Values{}
	q.Set("id", subjectID)
	q.Set("key", apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+reputationPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// url.Error содержит ключ API в строке запроса - в лог его не пускаем
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("%s request: %w", urlErr.Op, urlErr.Err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *ReputationClient) count(result string) {
	if c.metrics != nil {
		c.metrics.LookupsTotal.WithLabelValues(result).Inc()
	}
}

// ParseReputation разбирает ответ all_f.php.
//
// Ожидается массив info верхнего уровня; он может быть вложен на один уровень
// (info[0] - сам массив). Третий элемент - запись пользователя, флаг "yh".
func ParseReputation(subjectID string, body []byte) (domain.Verdict, error) {
	var envelope struct {
		Info []json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.Verdict{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Info == nil {
		return domain.Verdict{}, errors.New("missing info array")
	}

	payload := envelope.Info
	if len(payload) > 0 && isJSONArray(payload[0]) {
		var nested []json.RawMessage
		if err := json.Unmarshal(payload[0], &nested); err != nil {
			return domain.Verdict{}, fmt.Errorf("decode nested info: %w", err)
		}
		payload = nested
	}
	if len(payload) < 3 {
		return domain.Verdict{}, fmt.Errorf("info has %d elements, want at least 3", len(payload))
	}

	dec := json.NewDecoder(bytes.NewReader(payload[2]))
	dec.UseNumber()
	var record map[string]any
	if err := dec.Decode(&record); err != nil {
		return domain.Verdict{}, fmt.Errorf("decode record: %w", err)
	}
	if record == nil {
		return domain.Verdict{}, errors.New("record is null")
	}

	flagged := strings.EqualFold(strings.TrimSpace(scalar(record["yh"])), "true")
	if !flagged {
		return domain.NotFlagged(subjectID), nil
	}

	return domain.NewVerdict(
		subjectID,
		true,
		scalar(record["note"]),
		scalar(record["type"]),
		scalar(record["admin"]),
		scalar(record["level"]),
		scalar(record["date"]),
	), nil
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// scalar приводит значение записи к строке; вложенные объекты не поддерживаются.
func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
