// Package uploader ships closed archive files to S3 or an S3-compatible store.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/john/multichat/internal/config"
	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/recorder"
	"github.com/john/multichat/internal/supervisor"
)

// ObjectPutter is the part of the S3 client the uploader needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader handles uploading completed archive files
type Uploader struct {
	client      ObjectPutter
	bucket      string
	deleteAfter bool
	maxRetries  int
	sleep       func(ctx context.Context, d time.Duration) error
	log         *slog.Logger
}

// New creates an uploader backed by client
func New(client ObjectPutter, bucket string, cfg config.UploaderConfig) *Uploader {
	return &Uploader{
		client:      client,
		bucket:      bucket,
		deleteAfter: cfg.DeleteAfterUpload,
		maxRetries:  cfg.MaxRetries,
		sleep:       supervisor.Sleep,
		log:         slog.Default().With("component", "uploader"),
	}
}

// NewS3Client builds an S3 client from the archive configuration. Static
// keys win; otherwise the default chain is used, optionally assuming
// RoleARN through STS (with a web identity token when TokenFile is set).
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if cfg.RoleARN != "" && cfg.AccessKeyID == "" {
		stsClient := sts.NewFromConfig(awsCfg)
		if cfg.TokenFile != "" {
			awsCfg.Credentials = aws.NewCredentialsCache(stscreds.NewWebIdentityRoleProvider(
				stsClient, cfg.RoleARN, stscreds.IdentityTokenFile(cfg.TokenFile),
			))
		} else {
			awsCfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(
				stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
					o.RoleSessionName = "multichat-archive"
				},
			))
		}
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// ScanAndUploadExisting uploads archive files left over from a previous run
func (u *Uploader) ScanAndUploadExisting(ctx context.Context, outputDir string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jsonl") {
			files = append(files, filepath.Join(outputDir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil
	}

	u.log.Info("found existing files to upload", "count", len(files))
	for _, path := range files {
		go u.uploadWithRetry(ctx, path)
	}
	return nil
}

// Start uploads every file received on fileChan until ctx is done
func (u *Uploader) Start(ctx context.Context, fileChan <-chan string) error {
	for {
		select {
		case localPath := <-fileChan:
			go u.uploadWithRetry(ctx, localPath)

		case <-ctx.Done():
			u.log.Info("uploader shutting down")
			return ctx.Err()
		}
	}
}

// uploadWithRetry uploads a file with exponential backoff
func (u *Uploader) uploadWithRetry(ctx context.Context, localPath string) bool {
	filename := filepath.Base(localPath)

	key, err := ObjectKey(filename)
	if err != nil {
		u.log.Error("cannot derive object key", "file", filename, "error", err)
		return false
	}

	for attempt := 0; attempt <= u.maxRetries; attempt++ {
		err := u.uploadFile(ctx, localPath, key)
		if err == nil {
			u.log.Info("uploaded file", "file", filename, "bucket", u.bucket, "key", key)
			if u.deleteAfter {
				if err := os.Remove(localPath); err != nil {
					u.log.Error("error deleting local file", "file", localPath, "error", err)
				}
			}
			return true
		}

		if attempt < u.maxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			u.log.Warn("upload attempt failed", "file", filename, "attempt", attempt+1, "error", err, "retry_in", backoff)
			if err := u.sleep(ctx, backoff); err != nil {
				return false
			}
		}
	}

	u.log.Error("upload failed", "file", filename, "attempts", u.maxRetries+1)
	return false
}

func (u *Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// ObjectKey derives the object key from an archive file name
// Input: twitch_20251230_103000.jsonl
// Output: 2025/12/30/twitch/twitch_20251230_103000.jsonl
func ObjectKey(filename string) (string, error) {
	name := strings.TrimSuffix(filename, ".jsonl")

	platform, stamp, ok := strings.Cut(name, "_")
	if !ok || !message.Platform(platform).Valid() {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}

	t, err := time.Parse(recorder.FileTimeFormat, stamp)
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}

	return fmt.Sprintf("%04d/%02d/%02d/%s/%s", t.Year(), t.Month(), t.Day(), platform, filename), nil
}
