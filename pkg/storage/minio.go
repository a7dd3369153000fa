package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage MinIO存储实现
// 兼容S3协议，对象键直接作为对象名
type MinioStorage struct {
	client     *minio.Client // MinIO客户端
	bucketName string        // 存储桶名称
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
}

// NewMinioStorage 创建MinIO存储实例
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	// 创建MinIO客户端
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %v", err)
	}

	// 检查存储桶是否存在，不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %v", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %v", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// Get 获取MinIO中的对象
func (s *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectName, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(err, key, "failed to get object")
	}

	// GetObject是惰性的，Stat才会真正触发请求
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.wrapError(err, key, "failed to get object")
	}

	return obj, nil
}

// Put 写入对象到MinIO
func (s *MinioStorage) Put(ctx context.Context, key string, data []byte, contentType string) (ObjectInfo, error) {
	objectName, err := cleanKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	if contentType == "" {
		contentType = getMimeType(objectName)
	}

	info, err := s.client.PutObject(
		ctx,
		s.bucketName,
		objectName,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to upload object %s: %w", objectName, err)
	}

	return ObjectInfo{
		Key:          objectName,
		Size:         info.Size,
		ContentType:  contentType,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// Delete 从MinIO中删除对象
func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	objectName, err := cleanKey(key)
	if err != nil {
		return err
	}

	err = s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return s.wrapError(err, key, "failed to delete object")
	}

	return nil
}

// List 列出MinIO中指定前缀的对象
func (s *MinioStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %v", object.Err)
		}

		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			ContentType:  getMimeType(object.Key),
			ETag:         object.ETag,
			LastModified: object.LastModified,
		})
	}

	return objects, nil
}

// Exists 检查MinIO中是否存在指定对象
func (s *MinioStorage) Exists(ctx context.Context, key string) (bool, error) {
	objectName, err := cleanKey(key)
	if err != nil {
		return false, err
	}

	_, err = s.client.StatObject(ctx, s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %v", err)
	}

	return true, nil
}

// wrapError 将NoSuchKey转换为ErrNotFound
func (s *MinioStorage) wrapError(err error, key, msg string) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("%s %s: %w", msg, key, err)
}

// isNoSuchKey 判断是否为对象不存在错误
func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}
