// Package storage provides access to the object store holding raw document bytes.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"checkdoc-go/internal/config"
	"checkdoc-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient is the global MinIO client instance.
var MinioClient *minio.Client

// InitMinIO initializes the MinIO client and ensures the bucket exists.
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("failed to initialize MinIO client", err)
	}

	log.Info("MinIO client initialized successfully")

	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("failed to check MinIO bucket", err)
	}

	if !exists {
		log.Infof("bucket '%s' does not exist, creating...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("failed to create MinIO bucket", err)
		}
		log.Infof("bucket '%s' created successfully", bucketName)
	} else {
		log.Infof("bucket '%s' already exists", bucketName)
	}
}

// PutDocumentBytes stores the raw bytes of a document under documents/<id>.
func PutDocumentBytes(ctx context.Context, bucket, documentID string, data []byte) error {
	objectName := objectNameFor(documentID)
	_, err := MinioClient.PutObject(ctx, bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return fmt.Errorf("failed to store document bytes: %w", err)
	}
	return nil
}

// GetDocumentBytes fetches the raw bytes of a document from the object store.
func GetDocumentBytes(ctx context.Context, bucket, documentID string) ([]byte, error) {
	objectName := objectNameFor(documentID)
	object, err := MinioClient.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document from MinIO: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, object); err != nil {
		return nil, fmt.Errorf("failed to read MinIO object stream: %w", err)
	}
	return buf.Bytes(), nil
}

// RemoveDocument deletes the stored bytes of a document.
func RemoveDocument(ctx context.Context, bucket, documentID string) error {
	return MinioClient.RemoveObject(ctx, bucket, objectNameFor(documentID), minio.RemoveObjectOptions{})
}

func objectNameFor(documentID string) string {
	return "documents/" + documentID
}
