// Package aws lists S3 objects with the credentials a user entered.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/connectors"
	"github.com/qualys/piiflow/internal/models"
)

const defaultRegion = "us-east-1"

type Config struct {
	Region string
	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string
	MaxFiles int
	// VerifyIdentity checks the keys with STS before listing.
	VerifyIdentity bool
}

type Lister struct {
	cfg Config
}

func New(cfg Config) *Lister {
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	return &Lister{cfg: cfg}
}

func (l *Lister) Provider() models.Provider {
	return models.ProviderAWS
}

func (l *Lister) awsConfig(ctx context.Context, accessKey, secretKey string) (aws.Config, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(l.cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

func (l *Lister) ListFiles(ctx context.Context, cc models.CloudConfig) ([]models.FileRef, error) {
	accessKey := cc[cloudconfig.FieldAccessKey]
	secretKey := cc[cloudconfig.FieldSecretKey]
	bucket := cc[cloudconfig.FieldBucketName]
	if accessKey == "" || secretKey == "" || bucket == "" {
		return nil, fmt.Errorf("%w: missing AWS credentials or bucket", cloudconfig.ErrInvalid)
	}

	awsCfg, err := l.awsConfig(ctx, accessKey, secretKey)
	if err != nil {
		return nil, err
	}

	if l.cfg.VerifyIdentity {
		stsClient := sts.NewFromConfig(awsCfg)
		if _, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
			return nil, fmt.Errorf("getting caller identity: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if l.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(l.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if l.cfg.MaxFiles > 0 && l.cfg.MaxFiles < 1000 {
		input.MaxKeys = aws.Int32(int32(l.cfg.MaxFiles))
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(client, input)
	for paginator.HasMorePages() {
		if l.cfg.MaxFiles > 0 && len(keys) >= l.cfg.MaxFiles {
			break
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return connectors.FileRefs(keys, l.cfg.MaxFiles), nil
}
