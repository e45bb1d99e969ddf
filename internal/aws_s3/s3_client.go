package aws_s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"
	"github.com/portwatch/container-scrape-worker/config"
	"github.com/portwatch/container-scrape-worker/internal/model"
)

// BucketClient archives the raw page text and parsed field bag of every
// successful scrape. The archive is what makes reparsing possible when
// extraction rules change after the fact.
type BucketClient interface {
	WriteRawCapture(*model.ScrapeResult) string
}

type S3BucketClient struct {
	client *s3.Client
	cfg    *config.S3Config
	log    *slog.Logger
}

func NewS3BucketClient(cfg *config.S3Config, log *slog.Logger) *S3BucketClient {
	log.Info("connecting to s3...")
	ctx := context.Background()

	sdkConfig, err := awsCfg.LoadDefaultConfig(ctx,
		awsCfg.WithCredentialsProvider(crd.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, "")),
		awsCfg.WithRegion(cfg.Region),
		awsCfg.WithBaseEndpoint(cfg.AwsBaseEndpoint))
	if err != nil {
		log.Error("failed to load s3 config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// LocalStack does not support `virtual host addressing style` that uses s3 by default.
	// For test purposes use configuration with disabled 'virtual hosted bucket addressing'.
	var s3client *s3.Client
	if cfg.AwsAccessKey == "test" {
		log.Warn("test configuration for s3")
		s3client = s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	} else {
		s3client = s3.NewFromConfig(sdkConfig)
	}
	log.Info("connected to s3")

	return &S3BucketClient{
		client: s3client,
		cfg:    cfg,
		log:    log,
	}
}

func (bc *S3BucketClient) WriteRawCapture(result *model.ScrapeResult) string {
	s3Key := fmt.Sprintf("%s/%s/%s/%s.json",
		bc.cfg.KeyPrefix,
		result.Provider.String(),
		result.ContainerNo,
		result.ScrapedAt.UTC().Format("20060102T150405Z"))
	body, err := jsoniter.Marshal(result)
	if err != nil {
		bc.log.Error("marshaling failed.", slog.String("err", err.Error()))
		return ""
	}

	_, err = bc.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: &bc.cfg.BucketName,
		Key:    &s3Key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		bc.log.Error("failed to save raw capture to s3.", slog.String("err", err.Error()))
		return ""
	}
	bc.log.Debug("raw capture saved to s3.")

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bc.cfg.BucketName, bc.cfg.Region, s3Key)
}
