package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"combine-guard-go/infrastructure/logger"
)

// TokenSource 提供 userhub 鉴权用的 bearer token，RESTCommander 满足该接口。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Submitter 事件下游，engine.Engine 满足该接口。
type Submitter interface {
	Submit(ev Event)
}

// FeedClient 连接 broker 的用户事件 websocket，解析后投递给引擎。
// 断线后按指数退避重连，解析失败只记日志不中断读取循环。
type FeedClient struct {
	URL    string
	Dialer *websocket.Dialer

	tokens TokenSource
	sink   Submitter
	logger *logger.Logger

	// 重连退避上限
	MaxBackoff time.Duration
}

func NewFeedClient(url string, tokens TokenSource, sink Submitter, log *logger.Logger) *FeedClient {
	return &FeedClient{
		URL:        url,
		Dialer:     websocket.DefaultDialer,
		tokens:     tokens,
		sink:       sink,
		logger:     log,
		MaxBackoff: 30 * time.Second,
	}
}

// Run 阻塞运行直到 ctx 取消。每次连接断开后重连，退避从 1s 翻倍。
func (f *FeedClient) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.readOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("userhub disconnected",
				zap.Duration("retry_in", backoff),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.MaxBackoff {
			backoff = f.MaxBackoff
		}
	}
}

func (f *FeedClient) readOnce(ctx context.Context) error {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := f.Dialer.DialContext(ctx, f.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.URL, err)
	}
	defer conn.Close()
	f.logger.Info("userhub connected", zap.String("url", f.URL))

	// ctx 取消时强制关闭连接以解除 ReadMessage 阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, ok, err := ParseUserEvent(raw)
		if err != nil {
			f.logger.Warn("userhub frame dropped", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		f.sink.Submit(ev)
	}
}
