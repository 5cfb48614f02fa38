package handler

import (
	"net/http"
	"time"

	"transfersvc/internal/idempotency"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Handler        *Handler
	Gate           *idempotency.Gate
	IdempotencyTTL time.Duration
	Logger         *zap.Logger
}

func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(deps.Logger))
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	h := deps.Handler
	idem := IdempotencyMiddleware(deps.Gate, deps.IdempotencyTTL, deps.Logger)

	account := r.Group("/account")
	{
		account.POST("/transfer", idem, h.Transfer)
		account.GET("/balance/:accountId", h.GetBalance)
		account.GET("/:customerId", h.ListAccounts)
	}
	r.POST("/transfer", idem, h.Transfer)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
