// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sink

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/pdiddy/paper-digest/pkg/types"
)

const defaultRegion = "us-east-1"

// S3Archiver uploads digest files under <prefix>/<YYYY-MM-DD>/<name>.
type S3Archiver struct {
	client s3iface.S3API
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver creates an archiver for cfg using the default AWS
// credential chain.
func NewS3Archiver(cfg types.ArchiveConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, types.NewConfigError("archive.bucket", "not set")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}
	return &S3Archiver{
		client: s3.New(sess),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    time.Now,
	}, nil
}

// Upload puts the file at p into the bucket and returns its s3:// URL.
func (a *S3Archiver) Upload(ctx context.Context, p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", p, err)
	}
	defer f.Close()

	key := a.key(filepath.Base(p))
	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/markdown; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading to s3://%s/%s: %w", a.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

func (a *S3Archiver) key(name string) string {
	return path.Join(a.prefix, a.now().Format("2006-01-02"), name)
}
