package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "mdrecon/config"
	"mdrecon/logger"
	"mdrecon/models"
)

// S3Uploader ships the run's parquet artifacts to S3 under
// vendor-pair/date partitioned keys.
type S3Uploader struct {
	cfg      appconfig.S3Config
	s3Client *s3.Client
	log      *logger.Log
}

func NewS3Uploader(ctx context.Context, cfg appconfig.S3Config) (*S3Uploader, error) {
	log := logger.GetLogger()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_uploader").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
	}).Info("s3 uploader initialized")

	return &S3Uploader{cfg: cfg, s3Client: s3Client, log: log}, nil
}

// UploadRun encodes the report with the given parquet writer and puts
// results and flags objects to S3.
func (u *S3Uploader) UploadRun(ctx context.Context, pq *ParquetWriter, report *models.RunReport) error {
	log := u.log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"run_id": report.RunID,
		"bucket": u.cfg.Bucket,
	})

	resultsData, err := pq.EncodeResults(report.Results)
	if err != nil {
		return err
	}
	flagsData, err := pq.EncodeFlags(report.Flags)
	if err != nil {
		return err
	}

	day := report.StartedAt.UTC().Format("2006-01-02")
	resultsKey := u.objectKey(day, report.RunID, "results.parquet")
	flagsKey := u.objectKey(day, report.RunID, "flags.parquet")

	if err := u.upload(ctx, resultsKey, resultsData); err != nil {
		return err
	}
	if err := u.upload(ctx, flagsKey, flagsData); err != nil {
		return err
	}

	log.WithFields(logger.Fields{
		"results_key": resultsKey,
		"flags_key":   flagsKey,
	}).Info("run artifacts uploaded")
	logger.IncrementReportWrite(len(resultsData) + len(flagsData))

	return nil
}

func (u *S3Uploader) objectKey(day, runID, filename string) string {
	parts := []string{fmt.Sprintf("date=%s", day), fmt.Sprintf("run=%s", runID), filename}
	if u.cfg.Prefix != "" {
		parts = append([]string{u.cfg.Prefix}, parts...)
	}
	return path.Join(parts...)
}

func (u *S3Uploader) upload(ctx context.Context, key string, data []byte) error {
	log := u.log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"s3_key":    key,
		"data_size": len(data),
	})
	log.Info("uploading to S3")

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
		},
	}

	// Uploads finish even when the run context is already cancelled.
	_, err := u.s3Client.PutObject(context.WithoutCancel(ctx), input)
	if err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			Error("failed to upload to S3")
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", u.cfg.Bucket, err)
	}

	log.Info("successfully uploaded to S3")
	return nil
}
