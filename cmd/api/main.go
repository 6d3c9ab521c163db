package main

import (
	"context"
	"fmt"
	"os"

	"chat-backend/internal/platform/config"
	"chat-backend/internal/platform/driver"
	"chat-backend/internal/platform/logger"
	"chat-backend/internal/platform/server"
	"chat-backend/internal/storage/database"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}

	// 連接資料庫.
	if err := driver.ConnectMongo(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	// 連接 Redis（會話事件派發）.
	if err := driver.ConnectRedis(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseRedis(); err != nil {
			logger.Errorf(ctx, "關閉 Redis 連接失敗: %v", err)
		}
	}()

	// 連接 MinIO（附件物件儲存）.
	if err := driver.ConnectMinIO(); err != nil {
		return err
	}

	// 設置 MongoDB 連接到 database 包
	database.SetMongoDB(driver.GetMongoDatabase())

	// 初始化 Repository.
	repos := database.NewRepositories()

	logger.Info(ctx, "[System] 依賴初始化完成，啟動 HTTP 服務器")

	// 啟動 HTTP 服務器（阻塞直到收到關閉信號）
	return server.Start(repos)
}
