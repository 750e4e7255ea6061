// Package publish uploads finished builds. It runs after the onPublish hooks
// when the config file declares a destination.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/quasarcli/quasar/internal/artifacts"
	"github.com/quasarcli/quasar/internal/config"
)

// Request describes one build to publish.
type Request struct {
	// Arg is the value of --publish.
	Arg      string
	DistDir  string
	Manifest *artifacts.Manifest
}

// Result reports where a build went.
type Result struct {
	Location string `json:"location"`
	Objects  int    `json:"objects"`
}

// Publisher uploads a build somewhere.
type Publisher interface {
	Publish(ctx context.Context, req Request) (Result, error)
}

// New returns the publisher configured by cfg, or nil when none is.
func New(cfg config.Publish, logger *slog.Logger) (Publisher, error) {
	if cfg.S3 == nil {
		return nil, nil
	}
	p, err := NewS3(*cfg.S3, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// S3Publisher uploads every file of the dist dir to an S3 compatible bucket.
type S3Publisher struct {
	client *minio.Client
	bucket string
	prefix string
	region string
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
}

// NewS3 creates an S3 publisher. Credentials missing from cfg are read from
// AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.
func NewS3(cfg config.S3, logger *slog.Logger) (*S3Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	access := firstNonEmpty(cfg.AccessKey, os.Getenv("AWS_ACCESS_KEY_ID"))
	secret := firstNonEmpty(cfg.SecretKey, os.Getenv("AWS_SECRET_ACCESS_KEY"))
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required\n\nHint: set publish.s3.accessKey/secretKey or export AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY")
	}

	region := firstNonEmpty(cfg.Region, "us-east-1")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(access, secret, ""),
		Secure:       cfg.UseSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		region: region,
		logger: logger,
	}, nil
}

func (p *S3Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Publish uploads every file listed in req.Manifest.
func (p *S3Publisher) Publish(ctx context.Context, req Request) (Result, error) {
	if req.Manifest == nil {
		m, err := artifacts.Capture(req.DistDir)
		if err != nil {
			return Result{}, err
		}
		req.Manifest = m
	}
	if err := p.ensureBucket(ctx); err != nil {
		return Result{}, fmt.Errorf("ensure bucket: %w", err)
	}

	for _, f := range req.Manifest.Files {
		key := p.objectKey(f.Path)
		opts := minio.PutObjectOptions{
			ContentType:  contentType(f.Path),
			UserMetadata: map[string]string{"sha256": strings.TrimPrefix(f.SHA256, "sha256:")},
		}
		if _, err := p.client.FPutObject(ctx, p.bucket, key, filepath.Join(req.DistDir, filepath.FromSlash(f.Path)), opts); err != nil {
			return Result{}, fmt.Errorf("upload %s: %w", f.Path, err)
		}
		p.logger.Debug("uploaded", "key", key, "size", f.Size)
	}

	location := "s3://" + p.bucket
	if p.prefix != "" {
		location += "/" + p.prefix
	}
	p.logger.Info("build published", "location", location, "objects", len(req.Manifest.Files))
	return Result{Location: location, Objects: len(req.Manifest.Files)}, nil
}

func (p *S3Publisher) objectKey(rel string) string {
	if p.prefix == "" {
		return rel
	}
	return path.Join(p.prefix, rel)
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
