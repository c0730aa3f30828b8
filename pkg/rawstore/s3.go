package rawstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	appconfig "stockpipe/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store persists raw records in an S3-compatible bucket (MinIO in dev,
// S3 proper in prod).
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds the client and makes sure the bucket exists.
func NewS3Store(ctx context.Context, cfg appconfig.S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	store := &S3Store{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Store) Put(ctx context.Context, rec Record) (Ref, error) {
	key := rec.Key()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(rec.Payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return Ref{}, fmt.Errorf("put raw record %s: %w", key, err)
	}
	return Ref{Key: key}, nil
}

func (s *S3Store) Get(ctx context.Context, ref Ref) (Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get raw record %s: %w", ref.Key, err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return Record{}, fmt.Errorf("read raw record %s: %w", ref.Key, err)
	}

	rec, err := parseKey(ref.Key)
	if err != nil {
		return Record{}, err
	}
	rec.Payload = payload
	return rec, nil
}

func (s *S3Store) List(ctx context.Context, symbol, timeframe string,
	windowStart, windowEnd time.Time) ([]Ref, error) {
	prefix := windowPrefix(symbol, timeframe, windowStart, windowEnd)

	var refs []Ref
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list raw records %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			refs = append(refs, Ref{Key: aws.ToString(obj.Key)})
		}
	}

	// ListObjectsV2 returns keys in lexicographic order, which the key
	// layout makes chronological.
	return refs, nil
}
