// Package s3 provides a storage adapter over an S3-compatible bucket (AWS S3
// or MinIO). Each key is one JSON object under an optional prefix.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/roach88/hatdata/internal/storage"
)

// Config holds explicit construction parameters. For deployments we rely
// primarily on environment variables (see OpenFromEnv).
type Config struct {
	Region          string
	Bucket          string
	Prefix          string // optional key prefix, e.g. "tenant-a/"
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	AccessKeyID     string // optional (falls back to default credentials chain)
	SecretAccessKey string // optional
	SessionToken    string // optional
	PathStyle       bool
	HTTPClient      *http.Client // optional; replaces the SDK transport
}

// Environment variables:
//
//	HATDATA_S3_BUCKET=<bucket> (required)
//	HATDATA_S3_REGION=<region> (default us-east-1)
//	HATDATA_S3_PREFIX=<prefix> (optional)
//	HATDATA_S3_ENDPOINT=<url> (optional, for MinIO)
//	HATDATA_S3_PATH_STYLE=true|false (default false)
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// Adapter implements storage.Adapter on an S3 bucket.
type Adapter struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3 adapter from Config.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket, prefix string) *Adapter {
	return &Adapter{client: client, bucket: bucket, prefix: prefix}
}

// OpenFromEnv constructs an S3 adapter from process environment.
func OpenFromEnv(ctx context.Context) (*Adapter, error) {
	bucket := os.Getenv("HATDATA_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("HATDATA_S3_BUCKET required for s3 driver")
	}
	cfg := Config{
		Bucket:    bucket,
		Region:    os.Getenv("HATDATA_S3_REGION"),
		Prefix:    os.Getenv("HATDATA_S3_PREFIX"),
		Endpoint:  os.Getenv("HATDATA_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("HATDATA_S3_PATH_STYLE"), "true"),
	}
	return New(ctx, cfg)
}

func (a *Adapter) Driver() storage.Driver { return storage.DriverS3 }

func (a *Adapter) objectKey(key string) string { return a.prefix + key }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

func (a *Adapter) Get(ctx context.Context, key string) (any, error) {
	k := a.objectKey(key)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &a.bucket, Key: &k})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: read: %w", key, err)
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("s3 get %s: decode: %w", key, err)
	}
	return v, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("s3 set %s: encode: %w", key, err)
	}
	k := a.objectKey(key)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &a.bucket,
		Key:           &k,
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("s3 set %s: %w", key, err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	k := a.objectKey(key)
	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &a.bucket, Key: &k}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

// GetAllKeys lists every key under the prefix, with the prefix stripped.
func (a *Adapter) GetAllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &a.bucket,
			Prefix:            &a.prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), a.prefix))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(keys)
	return keys, nil
}
