package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-backend/internal/attachment"
	"chat-backend/internal/chatmsg"
	"chat-backend/internal/constants"
	"chat-backend/internal/contact"
	"chat-backend/internal/dispatch"
	"chat-backend/internal/group"
	"chat-backend/internal/platform/config"
	"chat-backend/internal/platform/driver"
	"chat-backend/internal/platform/logger"
	"chat-backend/internal/storage/database"
)

// buildServices 依配置組裝服務集合
func buildServices(cfg *config.Config, repos *database.Repositories) *Services {
	countryPrefix := constants.DefaultCountryPrefix
	namePlaceholder := constants.DefaultContactNamePlaceholder
	maxSyncBatch := constants.DefaultMaxSyncBatchSize
	if cfg.Contacts.CountryPrefix != "" {
		countryPrefix = cfg.Contacts.CountryPrefix
	}
	if cfg.Contacts.NamePlaceholder != "" {
		namePlaceholder = cfg.Contacts.NamePlaceholder
	}
	if cfg.Contacts.MaxSyncBatch > 0 {
		maxSyncBatch = cfg.Contacts.MaxSyncBatch
	}

	maxMembers := constants.DefaultMaxGroupMembers
	if cfg.Limits.Group.MaxMembers > 0 {
		maxMembers = cfg.Limits.Group.MaxMembers
	}
	maxAvatarBytes := int64(constants.DefaultMaxAvatarBytes)
	if cfg.Limits.Attachment.MaxAvatarBytes > 0 {
		maxAvatarBytes = cfg.Limits.Attachment.MaxAvatarBytes
	}
	maxUploadBytes := int64(constants.DefaultMaxUploadBytes)
	if cfg.Limits.Attachment.MaxUploadBytes > 0 {
		maxUploadBytes = cfg.Limits.Attachment.MaxUploadBytes
	}

	normalizer := contact.NewNormalizer(countryPrefix, namePlaceholder)
	groups := group.NewDirectory(repos.Group, maxMembers, maxAvatarBytes)
	dispatcher := dispatch.NewDispatcher(dispatch.RedisPublisher{})

	return &Services{
		Contacts: contact.NewSynchronizer(repos.Contact, normalizer, maxSyncBatch),
		Groups:   groups,
		Messages: chatmsg.NewService(repos.Message, groups, repos.Group, dispatcher),
		Intake:   attachment.NewIntake(driver.MinIOObjectStore{}, maxUploadBytes),
	}
}

// Start 組裝服務並啟動 HTTP 服務器，阻塞直到收到關閉信號
func Start(repos *database.Repositories) error {
	ctx := context.Background()
	cfg := config.Get()

	SetServices(buildServices(cfg, repos))

	router := Router()

	addr := cfg.Server.Host + ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE 長連接不設置寫入超時
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, fmt.Sprintf("HTTP 服務啟動於 %s", addr), logger.WithAction("server_start"))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待中斷信號或啟動失敗
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服務異常退出: %w", err)
	case <-quit:
	}

	logger.Info(ctx, "收到關閉信號，開始優雅關閉", logger.WithAction("server_shutdown"))

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP 服務關閉失敗: %w", err)
	}

	logger.Info(ctx, "服務已關閉", logger.WithAction("server_stopped"))
	return nil
}
