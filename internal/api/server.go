package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ChiefKeeper-Chain/internal/keeper"
	"ChiefKeeper-Chain/internal/observability/metrics"
)

// Server 负责暴露运维接口：keeper 状态查询、健康检查和指标。
type Server struct {
	addr   string
	keeper *keeper.Keeper
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, kp *keeper.Keeper) *Server {
	return &Server{addr: addr, keeper: kp}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleStatus 返回 keeper 当前的运行状态快照。
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.keeper == nil {
		http.Error(w, "keeper 未初始化", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.keeper.Status())
}

// handleHealth 在 keeper 仍在区块循环中时返回 200。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.keeper != nil && !s.keeper.Status().Running {
		http.Error(w, "keeper 已停止", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
