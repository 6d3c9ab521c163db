package server

import (
	"mime/multipart"
	"strconv"
	"time"

	"chat-backend/internal/attachment"
	"chat-backend/internal/chatmsg"
	"chat-backend/internal/httputil"
	"chat-backend/internal/platform/middleware"
	dbchatmsg "chat-backend/internal/storage/database/chatmsg"

	"github.com/gin-gonic/gin"
)

// parseLimit 解析分頁大小參數
func parseLimit(c *gin.Context) int {
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return 20
	}
	return limit
}

// storeFormAttachments 將表單中指定欄位的檔案寫入物件儲存
func storeFormAttachments(c *gin.Context, form *multipart.Form, ownerID string, slots ...string) ([]attachment.StoredObject, error) {
	var uploads []attachment.Upload
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, slot := range slots {
		for _, header := range form.File[slot] {
			file, err := header.Open()
			if err != nil {
				return nil, err
			}
			opened = append(opened, file)
			uploads = append(uploads, attachment.Upload{
				Slot:        slot,
				FileName:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Reader:      file,
			})
		}
	}

	if len(uploads) == 0 {
		return nil, nil
	}

	return services.Intake.Store(c.Request.Context(), ownerID, uploads)
}

// 上傳附件（multipart 表單，image|video|file|avatar 欄位各最多一個）
func uploadAttachments(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(400, gin.H{"error": "無效的表單格式"})
		return
	}

	ownerID := formValue(form, "owner_id")
	if err := middleware.ValidateUserID(ownerID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	stored, err := storeFormAttachments(c, form, ownerID,
		attachment.SlotImage, attachment.SlotVideo, attachment.SlotFile, attachment.SlotAvatar)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if len(stored) == 0 {
		respondServiceError(c, attachment.ErrEmptyRequest)
		return
	}

	// 以欄位為鍵回傳穩定引用
	refs := make(map[string]attachment.StoredObject, len(stored))
	for _, obj := range stored {
		refs[obj.Slot] = obj
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.FileUploaded,
		"data":    gin.H{"refs": refs},
	})
}

// 發送消息（JSON 或帶附件的 multipart 表單）
func sendMessage(c *gin.Context) {
	var in chatmsg.SendInput
	var stored []attachment.StoredObject

	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(400, gin.H{"error": "無效的表單格式"})
			return
		}

		in.ConversationID = formValue(form, "conversation_id")
		in.SenderID = formValue(form, "sender_id")
		in.Content = formValue(form, "content")
		in.Type = formValue(form, "type")
		in.ReplyTo = formValue(form, "reply_to")
		in.ForwardFrom = formValue(form, "forward_from")

		stored, err = storeFormAttachments(c, form, in.SenderID,
			attachment.SlotImage, attachment.SlotVideo, attachment.SlotFile)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		for _, obj := range stored {
			in.Attachments = append(in.Attachments, dbchatmsg.Attachment{
				ID:          obj.ID,
				FileName:    obj.FileName,
				ContentType: obj.ContentType,
				Size:        obj.Size,
				ObjectKey:   obj.ObjectKey,
				URL:         obj.URL,
			})
		}
	} else {
		var req struct {
			ConversationID string `json:"conversation_id"`
			SenderID       string `json:"sender_id"`
			Content        string `json:"content"`
			Type           string `json:"type"`
			ReplyTo        string `json:"reply_to"`
			ForwardFrom    string `json:"forward_from"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "無效的請求格式"})
			return
		}
		in.ConversationID = req.ConversationID
		in.SenderID = req.SenderID
		in.Content = req.Content
		in.Type = req.Type
		in.ReplyTo = req.ReplyTo
		in.ForwardFrom = req.ForwardFrom
	}

	if err := middleware.ValidateConversationID(in.ConversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(in.SenderID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if in.Content != "" {
		if err := middleware.ValidateMessageContent(in.Content); err != nil {
			httputil.BadRequest(c, err.Error())
			return
		}
		in.Content = middleware.SanitizeInput(in.Content)
	}

	msg, err := services.Messages.Send(c.Request.Context(), in)
	if err != nil {
		// 消息寫入失敗時回滾已儲存的附件
		for _, obj := range stored {
			if removeErr := services.Intake.Remove(c.Request.Context(), obj); removeErr != nil {
				break
			}
		}
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataCreated,
		"data":    msg,
	})
}

// 獲取消息列表
func getMessages(c *gin.Context) {
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

	limit := parseLimit(c)
	cursor := c.Query("cursor")

	var since, until *time.Time
	if sinceStr := c.Query("since"); sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			httputil.BadRequest(c, "無效的 since 時間格式")
			return
		}
		since = &t
	}
	if untilStr := c.Query("until"); untilStr != "" {
		t, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			httputil.BadRequest(c, "無效的 until 時間格式")
			return
		}
		until = &t
	}

	messages, nextCursor, hasMore, err := services.Messages.List(c.Request.Context(), conversationID, userID, limit, cursor, since, until)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success":     true,
		"message":     httputil.DataRetrieved,
		"data":        messages,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

// 更新消息狀態（已送達 / 已讀）
func updateMessageStatus(c *gin.Context) {
	var req struct {
		MessageID string `json:"message_id"`
		UserID    string `json:"user_id"`
		Status    string `json:"status"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	if err := middleware.ValidateMessageID(req.MessageID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := services.Messages.UpdateStatus(c.Request.Context(), req.MessageID, req.UserID, req.Status); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "message": httputil.DataUpdated})
}

// 標記會話內所有消息為已讀
func markAsRead(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversation_id"`
		UserID         string `json:"user_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := services.Messages.MarkConversationRead(c.Request.Context(), req.ConversationID, req.UserID, 100); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "message": httputil.DataUpdated})
}

// 獲取未讀消息數量
func getUnreadCount(c *gin.Context) {
	userID := c.Query("user_id")
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	var conversationID *string
	if id := c.Query("conversation_id"); id != "" {
		if err := middleware.ValidateConversationID(id); err != nil {
			httputil.BadRequest(c, err.Error())
			return
		}
		conversationID = &id
	}

	count, err := services.Messages.UnreadCount(c.Request.Context(), userID, conversationID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataRetrieved,
		"data":    gin.H{"unread_count": count},
	})
}

// 搜索消息
func searchMessages(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	userID := c.Query("user_id")
	query := c.Query("q")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if query == "" {
		httputil.BadRequest(c, "搜索關鍵字不能為空")
		return
	}

	limit := parseLimit(c)
	cursor := c.Query("cursor")

	messages, nextCursor, hasMore, err := services.Messages.Search(c.Request.Context(), conversationID, userID, query, limit, cursor)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success":     true,
		"message":     httputil.DataRetrieved,
		"data":        messages,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

// 列出會話內的置頂消息
func listPinnedMessages(c *gin.Context) {
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

	messages, err := services.Messages.ListPinned(c.Request.Context(), conversationID, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataRetrieved,
		"data":    messages,
	})
}

// 置頂消息
func pinMessage(c *gin.Context) {
	messageID := c.Param("message_id")

	var req struct {
		ConversationID string `json:"conversation_id"`
		UserID         string `json:"user_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	if err := middleware.ValidateMessageID(messageID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := services.Messages.Pin(c.Request.Context(), req.ConversationID, messageID, req.UserID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "message": httputil.DataUpdated})
}

// 取消置頂消息
func unpinMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	conversationID := c.Query("conversation_id")
	userID := c.Query("user_id")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := services.Messages.Unpin(c.Request.Context(), conversationID, messageID, userID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "message": httputil.DataUpdated})
}

// 刪除消息（軟刪除，僅發送者可操作）
func deleteMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := c.Query("user_id")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := services.Messages.Delete(c.Request.Context(), messageID, userID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "message": httputil.DataDeleted})
}
