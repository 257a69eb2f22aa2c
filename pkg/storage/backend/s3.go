// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/LeeDigitalWorks/zaptus/pkg/compression"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func init() {
	RegisterPersister(types.StorageTypeS3, NewS3)
}

// s3API is the subset of the S3 client used by the persister
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 persists completed uploads into an S3-compatible bucket
type S3 struct {
	client s3API
	bucket string
	prefix string
	algo   compression.Algorithm
}

// NewS3 creates an S3 persister
func NewS3(cfg types.BackendConfig) (types.Persister, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required for S3 backend")
	}
	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, err
	}

	opts := []func(*config.LoadOptions) error{}

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		algo:   algo,
	}, nil
}

func (s *S3) Name() string {
	return string(types.StorageTypeS3)
}

// Key returns the object key for an upload.
func (s *S3) Key(upload *types.Upload) string {
	return path.Join(s.prefix, upload.ID+"-"+SanitizeFilename(upload.Metadata.Lookup("filename", "name"))+s.algo.Extension())
}

// Persist spools data to a temp file so the SDK gets a seekable body for
// signing, then puts the object. Returns an s3:// location.
func (s *S3) Persist(ctx context.Context, upload *types.Upload, data io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "zaptus-s3-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	zw, err := compression.NewWriter(s.algo, tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(zw, data); err != nil {
		zw.Close()
		return "", fmt.Errorf("spool data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("flush compressed stream: %w", err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", fmt.Errorf("seek: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek: %w", err)
	}

	key := s.Key(upload)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          tmp,
		ContentLength: aws.Int64(size),
	}
	if ct := upload.Metadata.Lookup("filetype", "type"); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if len(upload.Metadata) > 0 {
		input.Metadata = upload.Metadata.Map()
	}
	if s.algo.Extension() != "" {
		if input.Metadata == nil {
			input.Metadata = make(map[string]string)
		}
		input.Metadata["compression"] = s.algo.String()
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
