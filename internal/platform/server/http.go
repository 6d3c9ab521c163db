package server

import (
	"errors"
	"mime/multipart"
	"time"

	"chat-backend/internal/attachment"
	"chat-backend/internal/chatmsg"
	"chat-backend/internal/contact"
	"chat-backend/internal/group"
	"chat-backend/internal/httputil"
	"chat-backend/internal/platform/config"
	"chat-backend/internal/platform/health"
	"chat-backend/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// Services 路由層依賴的服務集合
type Services struct {
	Contacts *contact.Synchronizer
	Groups   *group.Directory
	Messages *chatmsg.Service
	Intake   *attachment.Intake
}

var services *Services

// SetServices 設置服務集合
func SetServices(s *Services) {
	services = s
}

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 啟用 XSS 保護
		c.Header("X-XSS-Protection", "1; mode=block")

		// 內容安全策略
		c.Header("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; font-src 'self'; connect-src 'self'; frame-ancestors 'none';")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// 權限政策
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		c.Next()
	}
}

// Router 設定路由
func Router() *gin.Engine {
	r := gin.Default()

	// 添加安全的 CORS 中間件
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// 只允許特定的來源（生產環境應該從配置文件讀取）
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true, // 開發環境前端
			"http://localhost:8080": true, // 本地測試
			"http://127.0.0.1:8080": true, // 本地測試 (127.0.0.1)
		}

		if allowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400") // 預檢請求緩存 24 小時

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 添加請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())

	// 添加安全標頭中間件
	r.Use(securityHeadersMiddleware())

	// 添加請求元數據中間件（提取 IP、User-Agent）
	r.Use(middleware.RequestMetadataMiddleware())

	// 從配置讀取限制參數
	cfg := config.Get()

	// 添加請求大小限制（防止大文件攻擊）
	maxMemory := int64(10 << 20) // 默認 10MB
	if cfg != nil && cfg.Limits.Request.MaxMultipartMemory > 0 {
		maxMemory = cfg.Limits.Request.MaxMultipartMemory
	}
	r.MaxMultipartMemory = maxMemory

	maxBodySize := int64(30 << 20) // 默認 30MB，需容納附件上傳
	if cfg != nil && cfg.Limits.Request.MaxBodySize > 0 {
		maxBodySize = cfg.Limits.Request.MaxBodySize
	}
	r.Use(middleware.RequestSizeLimiter(maxBodySize))

	// 創建 Rate Limiter
	defaultLimit := 100
	if cfg != nil && cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
		defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
	}
	rateLimiter := middleware.NewPerEndpointRateLimiter(defaultLimit, time.Minute)

	// 為不同端點設置不同的速率限制
	if cfg != nil && cfg.Limits.RateLimiting.Enabled {
		if cfg.Limits.RateLimiting.MessagesPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/messages", cfg.Limits.RateLimiting.MessagesPerMin, time.Minute)
		}
		if cfg.Limits.RateLimiting.GroupsPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/groups", cfg.Limits.RateLimiting.GroupsPerMin, time.Minute)
		}
		if cfg.Limits.RateLimiting.SSEPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/messages/stream", cfg.Limits.RateLimiting.SSEPerMin, time.Minute)
		}
	}

	// 應用 Rate Limiting 中間件
	r.Use(rateLimiter.Middleware())

	// JWT 驗證中間件（等待 user 服務整合，目前不啟用）
	r.Use(middleware.NewJWTMiddleware("", false).GinMiddleware())

	// 創建 SSE 連接限制器
	sseMaxPerIP := 3
	sseInterval := 10
	sseMaxTotal := 1000
	if cfg != nil {
		if cfg.Limits.SSE.MaxConnectionsPerIP > 0 {
			sseMaxPerIP = cfg.Limits.SSE.MaxConnectionsPerIP
		}
		if cfg.Limits.SSE.MinConnectionInterval > 0 {
			sseInterval = cfg.Limits.SSE.MinConnectionInterval
		}
		if cfg.Limits.SSE.MaxTotalConnections > 0 {
			sseMaxTotal = cfg.Limits.SSE.MaxTotalConnections
		}
	}
	sseLimiter := middleware.NewSSEConnectionLimiter(sseMaxPerIP, time.Duration(sseInterval)*time.Second, sseMaxTotal)

	// 創建處理器
	healthHandler := health.NewHealthHandler()

	// health check
	r.GET("/health", healthHandler.HealthCheck)

	// 聯絡人 API 路由
	r.POST("/api/v1/contacts/sync", syncContacts)
	r.GET("/api/v1/contacts", listContacts)

	// 附件 API 路由
	r.POST("/api/v1/uploads", uploadAttachments)

	// 會話 API 路由
	r.POST("/api/v1/groups", createGroup)
	r.GET("/api/v1/groups", listUserGroups)
	r.GET("/api/v1/groups/:group_id", getGroup)
	r.PUT("/api/v1/groups/:group_id", renameGroup)
	r.DELETE("/api/v1/groups/:group_id", deleteGroup)
	r.POST("/api/v1/groups/:group_id/avatar", setGroupAvatar)
	r.GET("/api/v1/groups/:group_id/members", getGroupMembers)
	r.POST("/api/v1/groups/:group_id/members", addGroupMember)
	r.DELETE("/api/v1/groups/:group_id/members/:user_id", removeGroupMember)
	r.POST("/api/v1/conversations/direct", createDirectConversation)

	// 消息 API 路由
	r.POST("/api/v1/messages", sendMessage)
	r.GET("/api/v1/messages", getMessages)
	r.POST("/api/v1/messages/status", updateMessageStatus)
	r.POST("/api/v1/messages/read", markAsRead)
	r.GET("/api/v1/messages/unread", getUnreadCount)
	r.GET("/api/v1/messages/search", searchMessages)
	r.GET("/api/v1/messages/pinned", listPinnedMessages)
	r.POST("/api/v1/messages/:message_id/pin", pinMessage)
	r.DELETE("/api/v1/messages/:message_id/pin", unpinMessage)
	r.DELETE("/api/v1/messages/:message_id", deleteMessage)

	// SSE endpoint - 應用額外的連接限制
	r.GET("/api/v1/messages/stream", sseLimiter.Middleware(), streamMessages)

	return r
}

// respondServiceError 將服務層錯誤轉換為 HTTP 回應
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, contact.ErrEmptyInput),
		errors.Is(err, contact.ErrNoValidContacts),
		errors.Is(err, contact.ErrBatchTooLarge),
		errors.Is(err, group.ErrEmptyName),
		errors.Is(err, group.ErrEmptyMembership),
		errors.Is(err, group.ErrTooManyMembers),
		errors.Is(err, chatmsg.ErrEmptyContent),
		errors.Is(err, chatmsg.ErrInvalidStatus),
		errors.Is(err, attachment.ErrEmptyRequest),
		errors.Is(err, attachment.ErrUnknownSlot),
		errors.Is(err, attachment.ErrTooManySlots):
		httputil.BadRequest(c, err.Error())
	case errors.Is(err, contact.ErrDuplicateKey):
		httputil.ConflictError(c, err.Error())
	case errors.Is(err, group.ErrNotFound),
		errors.Is(err, chatmsg.ErrUnknownMessage),
		errors.Is(err, chatmsg.ErrUnknownRecipient):
		httputil.NotFoundError(c, err.Error())
	case errors.Is(err, group.ErrNotMember),
		errors.Is(err, group.ErrNotOwner),
		errors.Is(err, chatmsg.ErrNotMember),
		errors.Is(err, chatmsg.ErrNotSender):
		httputil.Forbidden(c, err.Error())
	case errors.Is(err, group.ErrAvatarTooLarge),
		errors.Is(err, attachment.ErrPayloadTooLarge):
		httputil.PayloadTooLarge(c, err.Error())
	default:
		httputil.InternalServerError(c, err)
	}
}

// 同步聯絡人
func syncContacts(c *gin.Context) {
	var req struct {
		OwnerID  string               `json:"owner_id"`
		Contacts []contact.RawContact `json:"contacts"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	if err := middleware.ValidateUserID(req.OwnerID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	result, err := services.Contacts.Sync(c.Request.Context(), req.OwnerID, req.Contacts)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataSynced,
		"data": gin.H{
			"accepted": result.Accepted,
			"rejected": result.Rejected,
		},
	})
}

// 列出聯絡人
func listContacts(c *gin.Context) {
	userID := c.Query("user_id")
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	limit := parseLimit(c)
	cursor := c.Query("cursor")

	contacts, nextCursor, hasMore, err := services.Contacts.List(c.Request.Context(), userID, limit, cursor)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// 只投影電話與名稱
	data := make([]gin.H, len(contacts))
	for i, entry := range contacts {
		data[i] = gin.H{
			"phone": entry.Phone,
			"name":  entry.Name,
		}
	}

	c.JSON(200, gin.H{
		"success":     true,
		"message":     httputil.DataRetrieved,
		"data":        data,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

// 創建群組（JSON 或帶頭像的 multipart 表單）
func createGroup(c *gin.Context) {
	var ownerID, name string
	var memberIDs []string
	var avatar *group.AvatarRef
	var form *multipart.Form

	if isMultipart(c) {
		var err error
		form, err = c.MultipartForm()
		if err != nil {
			c.JSON(400, gin.H{"error": "無效的表單格式"})
			return
		}

		ownerID = formValue(form, "owner_id")
		name = formValue(form, "name")
		memberIDs = form.Value["member_ids"]
	} else {
		var req struct {
			OwnerID   string   `json:"owner_id"`
			Name      string   `json:"name"`
			MemberIDs []string `json:"member_ids"`
			AvatarRef *struct {
				URL       string `json:"url"`
				ObjectKey string `json:"object_key"`
				Size      int64  `json:"size"`
			} `json:"avatar_ref"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "無效的請求格式"})
			return
		}
		ownerID = req.OwnerID
		name = req.Name
		memberIDs = req.MemberIDs
		if req.AvatarRef != nil {
			avatar = &group.AvatarRef{
				URL:       req.AvatarRef.URL,
				ObjectKey: req.AvatarRef.ObjectKey,
				Size:      req.AvatarRef.Size,
			}
		}
	}

	if err := middleware.ValidateUserID(ownerID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateGroupName(name); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	for _, memberID := range memberIDs {
		if err := middleware.ValidateUserID(memberID); err != nil {
			c.JSON(400, gin.H{"error": "成員 ID 格式錯誤"})
			return
		}
	}

	// 校驗全部通過後才寫入物件儲存，校驗失敗不得留下任何物件
	var storedAvatar *attachment.StoredObject
	if form != nil {
		stored, err := storeFormAttachments(c, form, ownerID, attachment.SlotAvatar)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		if len(stored) > 0 {
			storedAvatar = &stored[0]
			avatar = &group.AvatarRef{
				URL:       stored[0].URL,
				ObjectKey: stored[0].ObjectKey,
				Size:      stored[0].Size,
			}
		}
	}

	sanitizedName := middleware.SanitizeInput(name)

	g, err := services.Groups.CreateGroup(c.Request.Context(), ownerID, sanitizedName, memberIDs, avatar)
	if err != nil {
		// 群組創建失敗時回滾本次寫入的頭像物件
		if storedAvatar != nil {
			if removeErr := services.Intake.Remove(c.Request.Context(), *storedAvatar); removeErr != nil {
				httputil.InternalServerError(c, removeErr)
				return
			}
		}
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataCreated,
		"data": gin.H{
			"id":         g.ID,
			"name":       g.Name,
			"type":       g.Type,
			"owner_id":   g.OwnerID,
			"avatar_url": g.AvatarURL,
			"members":    g.Members,
			"created_at": g.CreatedAt,
		},
	})
}

// 列出用戶會話
func listUserGroups(c *gin.Context) {
	userID := c.Query("user_id")
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	limit := parseLimit(c)
	cursor := c.Query("cursor")

	groups, nextCursor, hasMore, err := services.Groups.ListUserGroups(c.Request.Context(), userID, limit, cursor)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// 附帶每個會話的未讀數量
	data := make([]gin.H, len(groups))
	for i, g := range groups {
		conversationID := g.ID
		unreadCount, countErr := services.Messages.UnreadCount(c.Request.Context(), userID, &conversationID)
		if countErr != nil {
			unreadCount = 0
		}

		data[i] = gin.H{
			"id":              g.ID,
			"name":            g.Name,
			"type":            g.Type,
			"owner_id":        g.OwnerID,
			"avatar_url":      g.AvatarURL,
			"members":         g.Members,
			"last_message":    g.LastMessage,
			"last_message_at": g.LastMessageAt,
			"created_at":      g.CreatedAt,
			"updated_at":      g.UpdatedAt,
			"unread_count":    unreadCount,
		}
	}

	c.JSON(200, gin.H{
		"success":     true,
		"message":     httputil.DataRetrieved,
		"data":        data,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

// 獲取會話詳情
func getGroup(c *gin.Context) {
	groupID := c.Param("group_id")
	userID := c.Query("user_id")

	if err := middleware.ValidateConversationID(groupID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	g, err := services.Groups.Get(c.Request.Context(), groupID, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataRetrieved,
		"data":    g,
	})
}

// 重命名群組
func renameGroup(c *gin.Context) {
	groupID := c.Param("group_id")

	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	if err := middleware.ValidateConversationID(groupID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateGroupName(req.Name); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := services.Groups.Rename(c.Request.Context(), groupID, req.UserID, middleware.SanitizeInput(req.Name)); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "message": httputil.DataUpdated})
}

// 刪除群組
func deleteGroup(c *gin.Context) {
	groupID := c.Param("group_id")
	userID := c.Query("user_id")

	if err := middleware.ValidateConversationID(groupID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := services.Groups.Delete(c.Request.Context(), groupID, userID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "message": httputil.DataDeleted})
}

// 更新群組頭像（multipart 表單，avatar 欄位）
func setGroupAvatar(c *gin.Context) {
	groupID := c.Param("group_id")

	if err := middleware.ValidateConversationID(groupID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(400, gin.H{"error": "無效的表單格式"})
		return
	}

	userID := formValue(form, "user_id")
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	stored, err := storeFormAttachments(c, form, userID, attachment.SlotAvatar)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if len(stored) == 0 {
		httputil.BadRequest(c, "缺少 avatar 欄位")
		return
	}

	avatar := group.AvatarRef{
		URL:       stored[0].URL,
		ObjectKey: stored[0].ObjectKey,
		Size:      stored[0].Size,
	}
	if err := services.Groups.SetAvatar(c.Request.Context(), groupID, userID, avatar); err != nil {
		// 頭像不合規時回滾已寫入的物件
		if removeErr := services.Intake.Remove(c.Request.Context(), stored[0]); removeErr != nil {
			httputil.InternalServerError(c, removeErr)
			return
		}
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.FileUploaded,
		"data":    gin.H{"avatar_url": avatar.URL},
	})
}

// 列出群組成員（僅成員可見）
func getGroupMembers(c *gin.Context) {
	groupID := c.Param("group_id")
	userID := c.Query("user_id")

	if err := middleware.ValidateConversationID(groupID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	g, err := services.Groups.Get(c.Request.Context(), groupID, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataRetrieved,
		"data":    g.Members,
	})
}

// 添加群組成員
func addGroupMember(c *gin.Context) {
	groupID := c.Param("group_id")

	var req struct {
		ActorID string `json:"actor_id"`
		UserID  string `json:"user_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	if err := middleware.ValidateConversationID(groupID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := services.Groups.AddMember(c.Request.Context(), groupID, req.ActorID, req.UserID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "message": httputil.DataUpdated})
}

// 移除群組成員
func removeGroupMember(c *gin.Context) {
	groupID := c.Param("group_id")
	userID := c.Param("user_id")
	actorID := c.Query("actor_id")

	if err := middleware.ValidateConversationID(groupID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := services.Groups.RemoveMember(c.Request.Context(), groupID, actorID, userID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "message": httputil.DataUpdated})
}

// 創建一對一會話
func createDirectConversation(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
		PeerID string `json:"peer_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	if err := middleware.ValidateUserID(req.UserID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(req.PeerID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	g, err := services.Groups.CreateDirect(c.Request.Context(), req.UserID, req.PeerID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataCreated,
		"data": gin.H{
			"id":         g.ID,
			"type":       g.Type,
			"members":    g.Members,
			"created_at": g.CreatedAt,
		},
	})
}

// isMultipart 檢查請求是否為 multipart 表單
func isMultipart(c *gin.Context) bool {
	contentType := c.ContentType()
	return contentType == "multipart/form-data"
}

// formValue 獲取表單欄位的第一個值
func formValue(form *multipart.Form, key string) string {
	values := form.Value[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
