package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

type S3Config struct {
	Endpoint   string
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	PresignTTL time.Duration
	MaxSize    int64
}

// s3API is the part of *s3.Client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error)
}

// PresignedRequest mirrors the fields of the SDK's presigned request we use.
type PresignedRequest struct {
	URL string
}

type sdkPresigner struct{ c *s3.PresignClient }

func (p sdkPresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error) {
	req, err := p.c.PresignGetObject(ctx, in, optFns...)
	if err != nil {
		return nil, err
	}
	return &PresignedRequest{URL: req.URL}, nil
}

// S3BlobStore stores blobs in an S3-compatible bucket. The blob ID is the
// object key: patients/<patient>/<category>/<uuid>/<file> for patient
// blobs and shared/<category>/<uuid>/<file> otherwise. Metadata travels as
// object user metadata.
type S3BlobStore struct {
	api     s3API
	presign presigner
	bucket  string
	ttl     time.Duration
	maxSize int64
}

func NewS3BlobStore(ctx context.Context, cfg S3Config) (*S3BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket name is required")
	}

	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3BlobStore(client, sdkPresigner{s3.NewPresignClient(client)}, cfg), nil
}

func newS3BlobStore(api s3API, p presigner, cfg S3Config) *S3BlobStore {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	max := cfg.MaxSize
	if max <= 0 {
		max = DefaultMaxSize
	}
	return &S3BlobStore{api: api, presign: p, bucket: cfg.Bucket, ttl: ttl, maxSize: max}
}

const (
	metaFileName  = "file-name"
	metaPatient   = "patient-id"
	metaCategory  = "category"
	metaHash      = "sha256"
	metaCreatedBy = "created-by"
	metaCreatedAt = "created-at"
)

func objectKey(meta BlobMetadata, id string) string {
	name := path.Base(strings.ReplaceAll(meta.FileName, "\\", "/"))
	if meta.PatientID != "" {
		return path.Join("patients", meta.PatientID, meta.Category, id, name)
	}
	return path.Join("shared", meta.Category, id, name)
}

func (s *S3BlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := validate(meta); err != nil {
		return nil, err
	}
	data, hash, err := readLimited(content, s.maxSize)
	if err != nil {
		return nil, err
	}

	meta.ID = objectKey(meta, uuid.NewString())
	meta.Size = int64(len(data))
	meta.Hash = hash
	meta.CreatedAt = time.Now().UTC()

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(meta.ID),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(meta.Size),
		ContentType:   aws.String(meta.ContentType),
		ACL:           types.ObjectCannedACLPrivate,
		Metadata: map[string]string{
			metaFileName:  meta.FileName,
			metaPatient:   meta.PatientID,
			metaCategory:  meta.Category,
			metaHash:      meta.Hash,
			metaCreatedBy: meta.CreatedBy,
			metaCreatedAt: meta.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("s3 upload %q: %w", meta.ID, err)
	}
	return &meta, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func metadataFrom(key string, size *int64, contentType *string, modified *time.Time, m map[string]string) *BlobMetadata {
	meta := &BlobMetadata{
		ID:          key,
		FileName:    m[metaFileName],
		ContentType: aws.ToString(contentType),
		Size:        aws.ToInt64(size),
		PatientID:   m[metaPatient],
		Category:    m[metaCategory],
		Hash:        m[metaHash],
		CreatedBy:   m[metaCreatedBy],
	}
	if t, err := time.Parse(time.RFC3339Nano, m[metaCreatedAt]); err == nil {
		meta.CreatedAt = t
	} else if modified != nil {
		meta.CreatedAt = *modified
	}
	if meta.FileName == "" {
		meta.FileName = path.Base(key)
	}
	return meta
}

func (s *S3BlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(id)})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("s3 get %q: %w", id, err)
	}
	return out.Body, metadataFrom(id, out.ContentLength, out.ContentType, out.LastModified, out.Metadata), nil
}

func (s *S3BlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(id)})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("s3 head %q: %w", id, err)
	}
	return metadataFrom(id, out.ContentLength, out.ContentType, out.LastModified, out.Metadata), nil
}

func (s *S3BlobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(id)}); err != nil {
		return fmt.Errorf("s3 delete %q: %w", id, err)
	}
	return nil
}

func (s *S3BlobStore) ListByPatient(ctx context.Context, patientID, category string, limit, offset int) ([]*BlobMetadata, int, error) {
	return s.Search(ctx, SearchParams{PatientID: patientID, Category: category, Limit: limit, Offset: offset})
}

func searchPrefix(p SearchParams) string {
	switch {
	case p.PatientID != "" && p.Category != "":
		return "patients/" + p.PatientID + "/" + p.Category + "/"
	case p.PatientID != "":
		return "patients/" + p.PatientID + "/"
	default:
		return ""
	}
}

// Search narrows by key prefix, then reads object metadata to apply the
// remaining filters.
func (s *S3BlobStore) Search(ctx context.Context, params SearchParams) ([]*BlobMetadata, int, error) {
	var matched []*BlobMetadata
	var token *string
	for {
		out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(searchPrefix(params)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range out.Contents {
			meta, err := s.GetMetadata(ctx, aws.ToString(obj.Key))
			if err != nil {
				if errors.Is(err, ErrBlobNotFound) {
					continue
				}
				return nil, 0, err
			}
			if matches(meta, params) {
				matched = append(matched, meta)
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	items, total := page(matched, params.Limit, params.Offset)
	return items, total, nil
}

// URL returns a presigned GET link valid for the configured TTL.
func (s *S3BlobStore) URL(ctx context.Context, id string) (string, error) {
	return s.PresignGet(ctx, id, s.ttl)
}

// PresignGet returns a GET link for id that expires after ttl.
func (s *S3BlobStore) PresignGet(ctx context.Context, id string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign %q: %w", id, err)
	}
	return req.URL, nil
}
