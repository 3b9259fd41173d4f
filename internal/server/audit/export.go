package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ExportNDJSON streams matching entries to w as newline-delimited JSON,
// one entry per write, so arbitrarily large logs export in constant
// memory.
func ExportNDJSON(ctx context.Context, repo Repository, filter Filter, w io.Writer) error {
	enc := json.NewEncoder(w)
	return repo.Stream(ctx, filter, func(e Entry) error {
		return enc.Encode(e)
	})
}

// S3Config holds the object-storage settings for audit archival.
type S3Config struct {
	RootUser     string
	RootPassword string
	Bucket       string
	Region       string
	BaseEndpoint string
}

// Archiver uploads audit exports to an S3-compatible backend.
type Archiver struct {
	repo Repository
	cfg  S3Config
}

func NewArchiver(repo Repository, cfg S3Config) *Archiver {
	return &Archiver{repo: repo, cfg: cfg}
}

func (a *Archiver) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(a.cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.cfg.RootUser,
			a.cfg.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if a.cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(a.cfg.BaseEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// Archive exports the filtered log as NDJSON and uploads it under a
// date-stamped key. The export is piped into the upload, never buffered
// whole. Returns the object key.
func (a *Archiver) Archive(ctx context.Context, filter Filter, now time.Time) (string, error) {

	client, err := a.client(ctx)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("audit/%s/%s.ndjson", now.Format("2006/01/02"), now.Format("150405"))

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(ExportNDJSON(ctx, a.repo, filter, pw))
	}()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
		Body:   pr,
	})
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("audit archive upload: %w", err)
	}

	return key, nil
}
