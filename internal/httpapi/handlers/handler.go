package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/scoutkit/creator-pipeline/internal/common"
	"github.com/scoutkit/creator-pipeline/internal/config"
	"github.com/scoutkit/creator-pipeline/internal/discovery"
	"github.com/scoutkit/creator-pipeline/internal/idempotency"
	"github.com/scoutkit/creator-pipeline/internal/queue"
	"github.com/scoutkit/creator-pipeline/internal/store/redisstore"
)

type Handler struct {
	Jobs   *discovery.Service
	Ledger *idempotency.Ledger
	Signer *queue.Signer
	Cache  *redisstore.Store
	Cfg    config.Config
	Logger *slog.Logger
}

func NewHandler(jobs *discovery.Service, ledger *idempotency.Ledger, signer *queue.Signer, cache *redisstore.Store, cfg config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Jobs:   jobs,
		Ledger: ledger,
		Signer: signer,
		Cache:  cache,
		Cfg:    cfg,
		Logger: logger,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}
