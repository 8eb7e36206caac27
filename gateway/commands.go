package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// 命令面走 broker 的 POST JSON 接口，所有请求带 Bearer token。
const (
	pathLoginKey = "/api/Auth/loginKey"
	pathDisable  = "/api/Account/disable"
	pathClose    = "/api/Position/closeAll"
	pathCooldown = "/api/Account/cooldown"
)

// token 有效期按 broker 的会话 TTL 留出余量，过期前主动换发。
const tokenTTL = 23 * time.Hour

// RESTCommander 实现强制动作的命令面。请求前过令牌桶限速，
// 外层套熔断器：broker 连续拒绝时快速失败，把重试节奏交回调度侧。
type RESTCommander struct {
	baseURL  string
	username string
	apiKey   string

	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu         sync.Mutex
	token      string
	acquiredAt time.Time
}

func NewRESTCommander(baseURL, username, apiKey string, perSec float64, burst int) *RESTCommander {
	if perSec <= 0 {
		perSec = 5
	}
	if burst <= 0 {
		burst = 1
	}
	settings := gobreaker.Settings{
		Name:     "broker-commands",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &RESTCommander{
		baseURL:  baseURL,
		username: username,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(perSec), burst),
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// SetHTTPClient 测试注入用。
func (c *RESTCommander) SetHTTPClient(client *http.Client) {
	c.client = client
}

type loginResponse struct {
	Success      bool   `json:"success"`
	Token        string `json:"token"`
	ErrorMessage string `json:"errorMessage"`
}

// Token 返回当前有效的 bearer token，必要时重新登录。FeedClient 复用同一份。
func (c *RESTCommander) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Since(c.acquiredAt) < tokenTTL {
		return c.token, nil
	}
	return c.loginLocked(ctx)
}

func (c *RESTCommander) loginLocked(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"userName": c.username,
		"apiKey":   c.apiKey,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathLoginKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login status %d", resp.StatusCode)
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("login decode: %w", err)
	}
	if !lr.Success || lr.Token == "" {
		return "", fmt.Errorf("login rejected: %s", lr.ErrorMessage)
	}
	c.token = lr.Token
	c.acquiredAt = time.Now()
	return c.token, nil
}

func (c *RESTCommander) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// post 执行一次带鉴权的命令调用；401 时换发 token 重试一次。
func (c *RESTCommander) post(ctx context.Context, path string, payload interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		status, err := c.doPost(ctx, path, payload)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			c.invalidateToken()
			status, err = c.doPost(ctx, path, payload)
			if err != nil {
				return nil, err
			}
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("%s status %d", path, status)
		}
		return nil, nil
	})
	return err
}

func (c *RESTCommander) doPost(ctx context.Context, path string, payload interface{}) (int, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// DisableTrading 停用账户的下单权限。
func (c *RESTCommander) DisableTrading(ctx context.Context, accountID string) error {
	return c.post(ctx, pathDisable, map[string]interface{}{
		"accountId": accountID,
	})
}

// FlattenAll 市价平掉账户持仓并撤销挂单；symbol 非空时只平该合约。
func (c *RESTCommander) FlattenAll(ctx context.Context, accountID, symbol string) error {
	payload := map[string]interface{}{
		"accountId":    accountID,
		"cancelOrders": true,
	}
	if symbol != "" {
		payload["symbol"] = symbol
	}
	return c.post(ctx, pathClose, payload)
}

// Cooldown 暂停账户开新仓、指定时长后自动恢复。
func (c *RESTCommander) Cooldown(ctx context.Context, accountID string, d time.Duration) error {
	return c.post(ctx, pathCooldown, map[string]interface{}{
		"accountId":  accountID,
		"durationMs": d.Milliseconds(),
	})
}
