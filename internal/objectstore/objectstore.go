// Package objectstore uploads photo bytes to the vendor's S3 bucket using
// ticket credentials from the identity package. One uploader serves one
// ticket; when the ticket expires the caller builds a new uploader from a
// fresh one.
package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/striglia/auraframes/internal/identity"
)

// DefaultBucket is the vendor's upload bucket. Objects are keyed by a fresh
// UUID plus the source file extension.
const DefaultBucket = "images.senseapp.co"

// defaultExpiryMargin is how close to ticket expiry an upload refuses to
// start. Better to re-issue up front than to have credentials die mid-PUT.
const defaultExpiryMargin = 30 * time.Second

// UploadError wraps storage failures that are not credential expiry.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("objectstore: upload %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// MD5 returns the base64-encoded MD5 digest of data, the form S3 expects in
// Content-MD5 and the backend expects in the asset's md5_hash field.
func MD5(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// PutObjectAPI is the subset of the S3 API used to store an object.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// HeadObjectAPI is the subset used to verify a stored object.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3API groups the operations an uploader needs.
type S3API interface {
	PutObjectAPI
	HeadObjectAPI
}

var (
	_ PutObjectAPI  = (*s3.Client)(nil)
	_ HeadObjectAPI = (*s3.Client)(nil)
	_ S3API         = (*s3.Client)(nil)
)

// Uploader stores objects under one ticket's credentials.
type Uploader struct {
	api    S3API
	bucket string
	region string
	ticket identity.Ticket
	margin time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option mutates uploader configuration.
type Option func(*Uploader)

// WithBucket overrides the destination bucket.
func WithBucket(bucket string) Option {
	return func(u *Uploader) {
		if bucket != "" {
			u.bucket = bucket
		}
	}
}

// WithRegion overrides the bucket region.
func WithRegion(region string) Option {
	return func(u *Uploader) {
		if region != "" {
			u.region = region
		}
	}
}

// WithExpiryMargin overrides how close to ticket expiry uploads still start.
func WithExpiryMargin(margin time.Duration) Option {
	return func(u *Uploader) {
		if margin >= 0 {
			u.margin = margin
		}
	}
}

// WithClock overrides the time source for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(u *Uploader) {
		if now != nil {
			u.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithAPI swaps the S3 client, mainly for tests.
func WithAPI(api S3API) Option {
	return func(u *Uploader) {
		u.api = api
	}
}

// New builds an uploader bound to the ticket. Unless WithAPI is given, an S3
// client is constructed with the ticket's keys as static credentials.
func New(ticket identity.Ticket, opts ...Option) *Uploader {
	u := &Uploader{
		bucket: DefaultBucket,
		region: identity.DefaultRegion,
		ticket: ticket,
		margin: defaultExpiryMargin,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.api == nil {
		u.api = s3.New(s3.Options{
			Region: u.region,
			Credentials: credentials.NewStaticCredentialsProvider(
				ticket.AccessKeyID, ticket.SecretKey, ticket.SessionToken),
		})
	}
	return u
}

// Upload stores data under a fresh UUID key with the given extension and
// returns the key and the base64 MD5 of the bytes. Expired or nearly expired
// tickets fail up front with identity.ErrCredentialExpired; so do PUTs the
// service rejects for token expiry.
func (u *Uploader) Upload(ctx context.Context, data []byte, ext string) (string, string, error) {
	if u.ticket.ExpiresWithin(u.now(), u.margin) {
		return "", "", fmt.Errorf("objectstore: ticket expired at %s: %w",
			u.ticket.Expires.Format(time.RFC3339), identity.ErrCredentialExpired)
	}

	key := uuid.NewString() + normalizeExt(ext)
	sum := MD5(data)
	_, err := u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:     aws.String(u.bucket),
		Key:        aws.String(key),
		Body:       bytes.NewReader(data),
		ContentMD5: aws.String(sum),
	})
	if err != nil {
		if isTokenExpired(err) {
			return "", "", fmt.Errorf("objectstore: put %s: %w", key, identity.ErrCredentialExpired)
		}
		return "", "", &UploadError{Bucket: u.bucket, Key: key, Err: err}
	}
	u.logger.Debug("stored object", "bucket", u.bucket, "key", key, "bytes", len(data))
	return key, sum, nil
}

// ObjectInfo is the metadata Head reports for a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Head verifies an object landed and returns its metadata.
func (u *Uploader) Head(ctx context.Context, key string) (ObjectInfo, error) {
	resp, err := u.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isTokenExpired(err) {
			return ObjectInfo{}, fmt.Errorf("objectstore: head %s: %w", key, identity.ErrCredentialExpired)
		}
		return ObjectInfo{}, &UploadError{Bucket: u.bucket, Key: key, Err: err}
	}
	info := ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(resp.ContentLength),
		ETag: strings.Trim(aws.ToString(resp.ETag), `"`),
	}
	if resp.LastModified != nil {
		info.LastModified = resp.LastModified.UTC()
	}
	return info, nil
}

// isTokenExpired matches the API error codes STS-backed services return once
// session credentials age out.
func isTokenExpired(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ExpiredToken", "ExpiredTokenException", "TokenRefreshRequired", "InvalidToken":
		return true
	}
	return false
}

func normalizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}
