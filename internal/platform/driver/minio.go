package driver

import (
	"context"
	"fmt"
	"io"
	"time"

	"chat-backend/internal/platform/config"
	"chat-backend/internal/platform/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var minioClient *minio.Client
var minioBucket string

// ConnectMinIO 連接 MinIO.
func ConnectMinIO() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("配置未載入")
	}

	return InitMinIO(cfg.ObjectStore.MinIO)
}

// InitMinIO 初始化 MinIO 連接並確保儲存桶存在.
func InitMinIO(cfg config.MinIOConfig) error {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to connect to minio server: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logger.LogInfof("MinIO 儲存桶 %s 已建立", cfg.Bucket)
	}

	minioClient = client
	minioBucket = cfg.Bucket

	logger.LogInfof("MinIO connected successfully")
	return nil
}

// GetMinIOClient 獲取 MinIO 客戶端實例.
func GetMinIOClient() *minio.Client {
	return minioClient
}

// IsMinIOConnected 檢查 MinIO 是否已連接.
func IsMinIOConnected() bool {
	return minioClient != nil
}

// PutObject 上傳物件到儲存桶.
func PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	if minioClient == nil {
		return fmt.Errorf("minio client is not initialized")
	}

	_, err := minioClient.PutObject(ctx, minioBucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// RemoveObject 刪除儲存桶中的物件.
func RemoveObject(ctx context.Context, objectName string) error {
	if minioClient == nil {
		return fmt.Errorf("minio client is not initialized")
	}

	if err := minioClient.RemoveObject(ctx, minioBucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}

// ObjectURL 生成物件的公開訪問 URL.
func ObjectURL(objectName string) string {
	cfg := config.Get()
	if cfg == nil {
		return ""
	}

	protocol := "http"
	if cfg.ObjectStore.MinIO.UseSSL {
		protocol = "https"
	}

	return fmt.Sprintf("%s://%s/%s/%s", protocol, cfg.ObjectStore.MinIO.Endpoint, minioBucket, objectName)
}

// MinIOObjectStore 以套件級連接實作物件儲存接口.
type MinIOObjectStore struct{}

// Put 上傳物件.
func (MinIOObjectStore) Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	return PutObject(ctx, objectName, reader, size, contentType)
}

// Remove 刪除物件.
func (MinIOObjectStore) Remove(ctx context.Context, objectName string) error {
	return RemoveObject(ctx, objectName)
}

// URL 生成物件的公開訪問 URL.
func (MinIOObjectStore) URL(objectName string) string {
	return ObjectURL(objectName)
}
