package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatusWriter 把每个账户的最新快照落盘成 JSON 状态文件，给外部
// 看板轮询。写临时文件后 rename，读方永远看不到半截文件。
type StatusWriter struct {
	path   string
	every  time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	latest map[string]ComplianceSnapshot
}

func NewStatusWriter(path string, every time.Duration, logger *zap.Logger) *StatusWriter {
	if every <= 0 {
		every = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusWriter{
		path:   path,
		every:  every,
		logger: logger,
		latest: make(map[string]ComplianceSnapshot),
	}
}

// Run 消费快照流并定期落盘，直到 ctx 取消。
func (s *StatusWriter) Run(ctx context.Context, snapshots <-chan ComplianceSnapshot) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case snap := <-snapshots:
			s.mu.Lock()
			s.latest[snap.AccountID] = snap
			s.mu.Unlock()
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *StatusWriter) flush() {
	s.mu.Lock()
	accounts := make([]ComplianceSnapshot, 0, len(s.latest))
	for _, snap := range s.latest {
		accounts = append(accounts, snap)
	}
	s.mu.Unlock()

	if len(accounts) == 0 {
		return
	}
	doc := struct {
		UpdatedAt time.Time            `json:"updated_at"`
		Accounts  []ComplianceSnapshot `json:"accounts"`
	}{UpdatedAt: time.Now().UTC(), Accounts: accounts}

	if err := writeFileAtomic(s.path, doc); err != nil {
		s.logger.Error("status file write failed", zap.String("path", s.path), zap.Error(err))
	}
}

func writeFileAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
