// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"heads-or-tails/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Options locates a Cloudflare R2 (or any S3-compatible) bucket.
type R2Options struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Endpoint        string // defaults to https://<account>.r2.cloudflarestorage.com
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectStore writes ended games to the archive bucket.
type ObjectStore struct {
	client objectPutter
	bucket string
}

func NewObjectStore(ctx context.Context, opts R2Options) (*ObjectStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is not set")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		if opts.AccountID == "" {
			return nil, fmt.Errorf("CLOUDFLARE_ACCOUNT_ID is required without an explicit endpoint")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", opts.AccountID)
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID, opts.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &ObjectStore{client: client, bucket: opts.Bucket}, nil
}

// GameKey is the object key of an archived game.
func GameKey(id uint64) string {
	return fmt.Sprintf("games/%d.json", id)
}

// ArchiveGame stores g as JSON under GameKey(g.ID). Rewriting the same game is
// harmless, so a cleaner retry after a partial run is fine.
func (s *ObjectStore) ArchiveGame(ctx context.Context, g *models.Game) error {
	body, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode game %d: %w", g.ID, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(GameKey(g.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload game %d to R2: %w", g.ID, err)
	}
	return nil
}
