package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"combine-guard-go/engine"
	"combine-guard-go/journal"
)

// Server 看板接口：快照拉取、审计查询、websocket 推送，
// 外加唯一的写路径：管理员解除永久停用（对应账户重新注资）。
type Server struct {
	router   *mux.Router
	server   *http.Server
	eng      *engine.Engine
	jnl      journal.Journal
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer 创建看板服务。jnl 可为 nil（无审计库时审计端点返回 404）。
func NewServer(addr string, eng *engine.Engine, jnl journal.Journal, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router: mux.NewRouter(),
		eng:    eng,
		jnl:    jnl,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/snapshots", s.handleSnapshots).Methods("GET")
	api.HandleFunc("/snapshot/{account}", s.handleSnapshot).Methods("GET")
	api.HandleFunc("/actions/{account}", s.handleActions).Methods("GET")
	api.HandleFunc("/breaches/{account}", s.handleBreaches).Methods("GET")
	api.HandleFunc("/admin/release/{account}", s.handleAdminRelease).Methods("POST")

	s.router.HandleFunc("/ws/stream", s.handleStream)
}

// Start 后台启动监听。
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server failed", zap.Error(err))
		}
	}()
	s.logger.Info("api server listening", zap.String("addr", s.server.Addr))
}

// Shutdown 优雅关闭。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Snapshots())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	snap, ok := s.eng.Snapshot(account)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown account"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if s.jnl == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit journal disabled"})
		return
	}
	account := mux.Vars(r)["account"]
	actions, err := s.jnl.ActionsFor(account, queryLimit(r))
	if err != nil {
		s.logger.Error("actions query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) handleBreaches(w http.ResponseWriter, r *http.Request) {
	if s.jnl == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit journal disabled"})
		return
	}
	account := mux.Vars(r)["account"]
	breaches, err := s.jnl.RecentBreaches(account, queryLimit(r))
	if err != nil {
		s.logger.Error("breaches query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, breaches)
}

type adminReleaseRequest struct {
	Equity float64 `json:"equity"`
}

// handleAdminRelease 解除永久停用并以新注资权益重置高水位。
func (s *Server) handleAdminRelease(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	var req adminReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Equity <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "equity must be a positive number"})
		return
	}
	if err := s.eng.AdminRelease(account, req.Equity); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("admin release",
		zap.String("account", account),
		zap.Float64("equity", req.Equity))
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// streamMessage websocket 推送的信封。
type streamMessage struct {
	Type string      `json:"type"` // "snapshot" 或 "action"
	Data interface{} `json:"data"`
}

// handleStream 把快照与动作事件流推给 websocket 客户端。慢客户端
// 跟不上时由发布器丢最新一条，写失败则断开。
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	snapshots := s.eng.SubscribeSnapshots()
	actions := s.eng.SubscribeActions()

	for {
		var msg streamMessage
		select {
		case <-r.Context().Done():
			return
		case snap := <-snapshots:
			msg = streamMessage{Type: "snapshot", Data: snap}
		case act := <-actions:
			msg = streamMessage{Type: "action", Data: act}
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("websocket client gone", zap.Error(err))
			return
		}
	}
}

// Router 暴露给测试。
func (s *Server) Router() http.Handler { return s.router }

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
