package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nishad/seqlims/internal/errors"
)

// S3Config holds the parameters of an S3 or MinIO bucket.
type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional, e.g. MinIO
	AccessKeyID     string // optional, falls back to the default credentials chain
	SecretAccessKey string
	PathStyle       bool
}

// S3Store keeps blobs as objects in a single bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store connects to the bucket described by cfg.
func NewS3Store(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		for _, fn := range optFns {
			fn(o)
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Driver() Driver { return DriverS3 }

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader) (Info, error) {
	const op errors.Op = "storage.S3Store.Put"

	key, err := sanitizeKey(key)
	if err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	// create-only: refuse to replace an existing object
	if ok, err := s.Exists(ctx, key); err != nil {
		return Info{}, err
	} else if ok {
		return Info{}, errors.E(op, errors.KindExists, fmt.Sprintf("blob %s already exists", key))
	}

	// spool to disk so the upload has a known length and a checksum
	tmp, err := os.CreateTemp("", "seqlims-s3-*")
	if err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          tmp,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	return Info{Key: key, Size: size, Checksum: hex.EncodeToString(h.Sum(nil)), LastModified: time.Now().UTC()}, nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	const op errors.Op = "storage.S3Store.Get"

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if isNotFound(err) {
		return nil, errors.NotFound(op, "blob", key)
	}
	if err != nil {
		return nil, errors.E(op, errors.KindStorage, err)
	}
	return out.Body, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (Info, error) {
	const op errors.Op = "storage.S3Store.Head"

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if isNotFound(err) {
		return Info{}, errors.NotFound(op, "blob", key)
	}
	if err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	info := Info{Key: key, Size: aws.ToInt64(out.ContentLength), LastModified: aws.ToTime(out.LastModified)}
	if out.ETag != nil {
		info.Checksum = strings.Trim(*out.ETag, "\"")
	}
	return info, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if errors.IsKind(err, errors.KindNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil && !isNotFound(err) {
		return errors.E(errors.Op("storage.S3Store.Delete"), errors.KindStorage, err)
	}
	return nil
}

func (s *S3Store) Locate(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}
