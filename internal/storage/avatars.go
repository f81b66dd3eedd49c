package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrUnsupportedType = errors.New("unsupported avatar content type")

// avatarExtensions is the content-type allowlist for uploads.
var avatarExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

// AvatarStore uploads avatar images to an S3-compatible bucket and hands
// back the public URL that goes into the profile's avatar_url column.
type AvatarStore struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

type Options struct {
	Endpoint      string // empty for AWS S3; set for MinIO/R2-style endpoints
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // base for returned URLs; defaults to the bucket endpoint
}

func NewAvatarStore(ctx context.Context, opts Options) (*AvatarStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // for MinIO/custom S3-compatible endpoints
		}
	})

	base := strings.TrimSuffix(opts.PublicBaseURL, "/")
	if base == "" {
		if opts.Endpoint != "" {
			base = strings.TrimSuffix(opts.Endpoint, "/") + "/" + opts.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
		}
	}

	return &AvatarStore{
		client:        client,
		bucket:        opts.Bucket,
		publicBaseURL: base,
	}, nil
}

// Upload stores the avatar under a per-identity key. Re-uploading
// overwrites the previous image, so each user holds at most one object
// per format.
func (s *AvatarStore) Upload(ctx context.Context, identityID, contentType string, body io.Reader) (string, error) {
	ext, ok := avatarExtensions[strings.ToLower(contentType)]
	if !ok {
		return "", ErrUnsupportedType
	}

	key := AvatarKey(identityID, ext)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("PutObject: %w", err)
	}

	return s.publicBaseURL + "/" + key, nil
}

// AvatarKey is the object key for an identity's avatar.
func AvatarKey(identityID, ext string) string {
	return fmt.Sprintf("avatars/%s.%s", identityID, ext)
}

// ExtensionFor maps a content type to its avatar file extension.
func ExtensionFor(contentType string) (string, bool) {
	ext, ok := avatarExtensions[strings.ToLower(contentType)]
	return ext, ok
}
