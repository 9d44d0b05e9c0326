package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/metrics"
	"github.com/GeorgeGarkavenko/guess/utils/pkg/retry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink stores rendered export files. Remove of a file that does not exist is not an
// error.
type Sink interface {
	Name() string
	Write(ctx context.Context, name string, f Format, data []byte) error
	Remove(ctx context.Context, name string) error
}

// DirSink writes files into a local directory. Each file appears atomically.
type DirSink struct {
	dir string
}

func NewDirSink(dir string) (*DirSink, error) {
	if dir == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) Name() string {
	return "dir"
}

func (s *DirSink) Dir() string {
	return s.dir
}

func (s *DirSink) Write(ctx context.Context, name string, _ Format, data []byte) (err error) {
	defer func() { observeWrite(s.Name(), err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid export file name %q", name)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}

func (s *DirSink) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid export file name %q", name)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// ObjectAPI is the subset of the S3 client used by S3Sink.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Logger *slog.Logger
	Client ObjectAPI
	Bucket string
	Prefix string
	Retry  retry.Config
}

func (cfg *S3Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("s3 bucket is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return nil
}

// S3Sink uploads files to a bucket under an optional key prefix. Transient failures
// are retried.
type S3Sink struct {
	cfg S3Config
}

func NewS3Sink(cfg S3Config) (*S3Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &S3Sink{cfg: cfg}, nil
}

func (s *S3Sink) Name() string {
	return "s3"
}

func (s *S3Sink) Key(name string) string {
	if s.cfg.Prefix == "" {
		return name
	}
	return path.Join(s.cfg.Prefix, name)
}

func (s *S3Sink) Write(ctx context.Context, name string, f Format, data []byte) (err error) {
	defer func() { observeWrite(s.Name(), err) }()

	key := s.Key(name)
	err = retry.Do(ctx, s.cfg.Retry, func() error {
		_, err := s.cfg.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(f.ContentType()),
		})
		if err != nil {
			s.cfg.Logger.Warn("export: s3 upload failed", "bucket", s.cfg.Bucket, "key", key, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	s.cfg.Logger.Debug("export: uploaded", "bucket", s.cfg.Bucket, "key", key, "bytes", len(data))
	return nil
}

// Remove deletes the object. S3 reports success for keys that do not exist.
func (s *S3Sink) Remove(ctx context.Context, name string) error {
	key := s.Key(name)
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		_, err := s.cfg.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	s.cfg.Logger.Debug("export: deleted", "bucket", s.cfg.Bucket, "key", key)
	return nil
}

func observeWrite(sink string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SinkWritesTotal.WithLabelValues(sink, status).Inc()
}
