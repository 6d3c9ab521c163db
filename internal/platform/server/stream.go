package server

import (
	"fmt"
	"time"

	"chat-backend/internal/dispatch"
	"chat-backend/internal/httputil"
	"chat-backend/internal/platform/config"
	"chat-backend/internal/platform/driver"
	"chat-backend/internal/platform/logger"
	"chat-backend/internal/platform/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SSE 消息流，將會話頻道上的事件轉發給客戶端
func streamMessages(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	userID := c.Query("user_id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	// 訂閱前查詢成員資格
	isMember, err := services.Groups.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !isMember {
		httputil.Forbidden(c, "不是會話成員")
		return
	}

	if !driver.IsRedisConnected() {
		httputil.InternalServerError(c, fmt.Errorf("事件服務不可用"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	pubsub := driver.Subscribe(ctx, dispatch.ChannelFor(conversationID))
	defer pubsub.Close()

	heartbeatSeconds := 30
	if cfg := config.Get(); cfg != nil && cfg.Limits.SSE.HeartbeatInterval > 0 {
		heartbeatSeconds = cfg.Limits.SSE.HeartbeatInterval
	}
	heartbeat := time.NewTicker(time.Duration(heartbeatSeconds) * time.Second)
	defer heartbeat.Stop()

	logger.Info(ctx, "SSE 連接已建立",
		logger.WithUserID(userID),
		logger.WithConversationID(conversationID),
		logger.WithAction("sse_connect"),
	)

	// 連接確認事件
	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"conversation_id\":%q}\n\n", conversationID)
	c.Writer.Flush()

	relayConversationEvents(c, conversationID, userID, pubsub.Channel(), heartbeat.C)
}

// relayConversationEvents 轉發會話事件，每個事件派發前重新查詢成員資格，
// 成員被移出後連接立即終止
func relayConversationEvents(c *gin.Context, conversationID, userID string, events <-chan *redis.Message, heartbeat <-chan time.Time) {
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "SSE 連接已關閉",
				logger.WithUserID(userID),
				logger.WithConversationID(conversationID),
				logger.WithAction("sse_disconnect"),
			)
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			isMember, err := services.Groups.IsMember(ctx, conversationID, userID)
			if err != nil || !isMember {
				logger.Info(ctx, "SSE 連接因成員資格失效終止",
					logger.WithUserID(userID),
					logger.WithConversationID(conversationID),
					logger.WithAction("sse_membership_revoked"),
				)
				return
			}
			fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()
		case <-heartbeat:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		}
	}
}
