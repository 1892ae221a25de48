package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/trail-importer/internal/config"
	"github.com/trail-importer/internal/models"
)

// objectPutter is the slice of the S3 client the archive needs
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ReportArchive stores finished job reports in an S3-compatible bucket
type ReportArchive struct {
	client objectPutter
	bucket string
	prefix string
}

// NewReportArchive builds an S3 client from cfg. A custom endpoint switches to path-style
// addressing for S3-compatible stores.
func NewReportArchive(ctx context.Context, cfg *config.ArchiveConfig) (*ReportArchive, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newReportArchive(client, cfg.Bucket, cfg.Prefix), nil
}

func newReportArchive(client objectPutter, bucket, prefix string) *ReportArchive {
	return &ReportArchive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// ReportKey returns the object key for a job: <prefix>/yyyy/mm/dd/<id>.json, dated by start time
func (a *ReportArchive) ReportKey(job *models.ImportJob) string {
	return path.Join(a.prefix, job.StartedAt.UTC().Format("2006/01/02"), job.ID+".json")
}

// Archive uploads the job as indented JSON and returns the object key
func (a *ReportArchive) Archive(ctx context.Context, job *models.ImportJob) (string, error) {
	body, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal job report: %w", err)
	}

	key := a.ReportKey(job)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload job report %s: %w", key, err)
	}
	return key, nil
}
