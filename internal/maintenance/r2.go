package maintenance

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// R2Config holds Cloudflare R2 credentials.
type R2Config struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

// Configured reports whether every credential is present.
func (c R2Config) Configured() bool {
	return c.AccountID != "" && c.AccessKey != "" && c.SecretKey != "" && c.BucketName != ""
}

// R2Client uploads backup archives to a Cloudflare R2 bucket via the S3
// API.
type R2Client struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// NewR2Client builds an S3 client pointed at the account's R2 endpoint.
func NewR2Client(ctx context.Context, cfg R2Config, log zerolog.Logger) (*R2Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 credentials: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &R2Client{
		client: client,
		bucket: cfg.BucketName,
		log:    log.With().Str("client", "r2").Logger(),
	}, nil
}

// CreateAndUpload archives dataDir as tar.gz, uploads it under backups/,
// and prunes archives older than retentionDays.
func (c *R2Client) CreateAndUpload(ctx context.Context, dataDir string, retentionDays int) error {
	timestamp := time.Now().UTC().Format("2006-01-02-150405")
	key := fmt.Sprintf("backups/helmsman-%s.tar.gz", timestamp)

	tmp, err := os.CreateTemp("", "helmsman-backup-*.tar.gz")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := createArchive(tmp, dataDir); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	file, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to reopen archive: %w", err)
	}
	defer file.Close()

	uploader := manager.NewUploader(c.client)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   file,
	}); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}
	c.log.Info().Str("key", key).Msg("Backup uploaded")

	if retentionDays > 0 {
		c.pruneOldBackups(ctx, retentionDays)
	}
	return nil
}

// createArchive writes a gzip'd tar of dir to w, skipping transient
// subdirectories (locks, staging).
func createArchive(w io.Writer, dir string) error {
	gz := gzip.NewWriter(w)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() && (rel == "locks" || strings.HasPrefix(rel, "r2-staging")) {
			return filepath.SkipDir
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(filepath.Join("data", rel))
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})
}

// pruneOldBackups deletes archives past the retention window. Failures
// are logged, never fatal.
func (c *R2Client) pruneOldBackups(ctx context.Context, retentionDays int) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	list, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String("backups/"),
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to list backups for pruning")
		return
	}

	var stale []s3types.ObjectIdentifier
	for _, obj := range list.Contents {
		if obj.LastModified != nil && obj.LastModified.Before(cutoff) {
			stale = append(stale, s3types.ObjectIdentifier{Key: obj.Key})
		}
	}
	if len(stale) == 0 {
		return
	}

	if _, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.bucket),
		Delete: &s3types.Delete{Objects: stale},
	}); err != nil {
		c.log.Warn().Err(err).Msg("Failed to prune old backups")
		return
	}
	c.log.Info().Int("pruned", len(stale)).Msg("Pruned old backups")
}
