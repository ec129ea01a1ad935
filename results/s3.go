package results

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

type S3Options struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"` // for MinIO, LocalStack, etc.
	UsePathStyle bool   `yaml:"usePathStyle"`
}

func (o S3Options) Enabled() bool {
	return o.Bucket != ""
}

func newS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// Upload puts the file at localPath in the bucket, under the prefix, and returns its key
func Upload(ctx context.Context, opts S3Options, localPath string) (string, error) {
	if !opts.Enabled() {
		return "", errors.New("no bucket configured")
	}
	client, err := newS3Client(ctx, opts)
	if err != nil {
		return "", err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", localPath)
	}
	defer file.Close()

	key := path.Join(opts.Prefix, filepath.Base(localPath))
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(opts.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "upload %s to s3://%s/%s", localPath, opts.Bucket, key)
	}

	zlog.Info().Str("bucket", opts.Bucket).Str("key", key).Msg("Results uploaded")
	return key, nil
}
