package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiCostLedger/internal/config"
	"github.com/nemonet1337/zaiCostLedger/internal/metrics"
	"github.com/nemonet1337/zaiCostLedger/pkg/inventory"
	"github.com/nemonet1337/zaiCostLedger/pkg/inventory/storage"
)

// Request headers carrying the caller identity
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// elevatedRoles may approve transfers, edit prices and close periods
var elevatedRoles = map[string]bool{
	"supervisor": true,
	"admin":      true,
}

func main() {
	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// ストレージ初期化
	var store inventory.Storage
	if cfg.API.UseMemoryStore {
		logger.Warn("メモリストアを使用します（再起動でデータは失われます）")
		store = storage.NewMemory()
	} else {
		pg, err := storage.NewPostgreSQLStorage(cfg.DSN(), logger)
		if err != nil {
			logger.Fatal("データベース接続に失敗しました", zap.Error(err))
		}
		store = pg
	}
	defer store.Close()

	// 台帳マネージャー初期化
	publisher := metrics.NewPublisher(logger)
	manager := inventory.NewManager(store, publisher, logger, cfg.LedgerManagerConfig())

	// HTTPハンドラー設定
	handlers := NewHandlers(manager, store.Ping, logger)
	router := setupRouter(handlers, cfg.API, publisher.Handler())

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("原価台帳APIサーバーを開始します", zap.Int("port", cfg.API.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	// グレースフルシャットダウン
	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, apiCfg config.APIConfig, metricsHandler http.Handler) *mux.Router {
	router := mux.NewRouter()
	elevated := requireElevated(handlers)

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if apiCfg.EnableMetrics && metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(userMiddleware)

	// 取引計上
	api.HandleFunc("/deliveries", handlers.PostDelivery).Methods("POST")
	api.HandleFunc("/issues", handlers.PostIssue).Methods("POST")

	// 拠点間移動
	api.HandleFunc("/transfers", handlers.CreateTransfer).Methods("POST")
	api.HandleFunc("/transfers/{transferId}", handlers.GetTransfer).Methods("GET")
	api.Handle("/transfers/{transferId}/approve", elevated(handlers.ApproveTransfer)).Methods("POST")
	api.Handle("/transfers/{transferId}/reject", elevated(handlers.RejectTransfer)).Methods("POST")

	// 期間管理
	api.HandleFunc("/periods", handlers.CreatePeriod).Methods("POST")
	api.HandleFunc("/periods/open", handlers.OpenPeriod).Methods("POST")
	api.HandleFunc("/periods/{periodId}", handlers.GetPeriod).Methods("GET")
	api.Handle("/periods/{periodId}/prices", elevated(handlers.SetPrice)).Methods("PUT")
	api.HandleFunc("/periods/{periodId}/activate", handlers.ActivatePeriod).Methods("POST")
	api.HandleFunc("/periods/{periodId}/locations", handlers.ListPeriodLocations).Methods("GET")
	api.HandleFunc("/periods/{periodId}/locations/{locationId}/ready", handlers.MarkLocationReady).Methods("POST")
	api.HandleFunc("/periods/{periodId}/locations/{locationId}/reopen", handlers.ReopenLocation).Methods("POST")
	api.HandleFunc("/periods/{periodId}/request-close", handlers.RequestClose).Methods("POST")
	api.HandleFunc("/periods/{periodId}/withdraw-close", handlers.WithdrawClose).Methods("POST")
	api.Handle("/periods/{periodId}/approve-close", elevated(handlers.ApproveClose)).Methods("POST")
	api.Handle("/periods/{periodId}/close", elevated(handlers.ClosePeriod)).Methods("POST")
	api.Handle("/periods/{periodId}/roll-forward", elevated(handlers.RollForward)).Methods("POST")

	// 照合
	api.HandleFunc("/periods/{periodId}/locations/{locationId}/reconciliation", handlers.GetReconciliation).Methods("GET")
	api.Handle("/periods/{periodId}/locations/{locationId}/reconciliation", elevated(handlers.SaveAdjustments)).Methods("PUT")
	api.HandleFunc("/periods/{periodId}/locations/{locationId}/mandays", handlers.RecordMandays).Methods("POST")

	// 不適合報告
	api.HandleFunc("/ncrs", handlers.CreateNCR).Methods("POST")
	api.HandleFunc("/ncrs/{ncrId}", handlers.GetNCR).Methods("GET")
	api.HandleFunc("/ncrs/{ncrId}/status", handlers.UpdateNCRStatus).Methods("POST")

	// 在庫照会
	api.HandleFunc("/stock/{locationId}", handlers.GetStockByLocation).Methods("GET")
	api.HandleFunc("/stock/{locationId}/{itemId}", handlers.GetStock).Methods("GET")
	api.HandleFunc("/valuation/{locationId}", handlers.GetValuation).Methods("GET")

	// 商品管理
	api.HandleFunc("/items", handlers.CreateItem).Methods("POST")
	api.HandleFunc("/items/{itemId}", handlers.GetItem).Methods("GET")

	// ロケーション管理
	api.HandleFunc("/locations", handlers.CreateLocation).Methods("POST")
	api.HandleFunc("/locations", handlers.ListLocations).Methods("GET")
	api.HandleFunc("/locations/{locationId}", handlers.GetLocation).Methods("GET")

	// CORS設定（開発用）
	if apiCfg.EnableCORS {
		router.Use(corsMiddleware)
	}

	// ログ機能
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

// userMiddleware puts the caller identity into the request context
// 呼び出し元ユーザーをコンテキストに設定
func userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := strings.TrimSpace(r.Header.Get(headerUserID)); userID != "" {
			r = r.WithContext(inventory.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// requireElevated rejects callers without a supervisor or admin role
// 監督者・管理者以外の呼び出しを拒否
func requireElevated(h *Handlers) func(http.HandlerFunc) http.Handler {
	return func(next http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserRole)))
			if !elevatedRoles[role] {
				h.sendError(w, http.StatusForbidden, "この操作には監督者権限が必要です", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware allows cross-origin calls
// クロスオリジン呼び出しを許可するミドルウェア
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-User-Role")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// リクエスト処理
			next.ServeHTTP(w, r)

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
