// Package objstore 任务文件暂存用的 MinIO 对象存储
//
// 输入暂存从 bucket 下载到沙箱，输出暂存从沙箱上传到 bucket，
// 对象键由调用方决定，这里只负责连接与单文件传输。
package objstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pilot-runtime/internal/config"
)

// DefaultBucket 未配置 bucket 时使用
const DefaultBucket = "pilot-staging"

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// Client 暂存对象存储客户端
type Client struct {
	mc     *minio.Client
	bucket string
}

// NewClient 按暂存配置创建客户端，不检查连通性
func NewClient(cfg config.StagingConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("staging endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("staging credentials are required (MINIO_ACCESS_KEY / MINIO_SECRET_KEY)")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Client{mc: mc, bucket: bucket}, nil
}

// Bucket 暂存 bucket 名
func (c *Client) Bucket() string { return c.bucket }

// EnsureBucket bucket 不存在时创建
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	log.Printf("[objstore.bucket] created bucket=%s", c.bucket)
	return nil
}

// UploadFile 上传本地文件，Content-Type 按扩展名推断
func (c *Client) UploadFile(ctx context.Context, key, path string) error {
	opts := minio.PutObjectOptions{ContentType: contentType(path)}
	info, err := c.mc.FPutObject(ctx, c.bucket, key, path, opts)
	if err != nil {
		return fmt.Errorf("upload %s from %s: %w", key, path, err)
	}
	log.Printf("[objstore.put] key=%s size=%d", key, info.Size)
	return nil
}

// DownloadFile 下载对象到本地路径，父目录按需创建
func (c *Client) DownloadFile(ctx context.Context, key, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := c.mc.FGetObject(ctx, c.bucket, key, path, minio.GetObjectOptions{}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("download %s: %w", key, ErrObjectNotFound)
		}
		return fmt.Errorf("download %s to %s: %w", key, path, err)
	}
	return nil
}

// Exists 对象是否存在
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := c.mc.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete 删除对象，不存在时不报错
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func contentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
