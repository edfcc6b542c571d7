// Package objectstore turns the exportedData object keys the (named,
// unimplemented) async executor writes into presigned download URLs,
// grounded on maraichr-codegraph's S3Connector construction pattern
// (aws-sdk-go-v2/config.LoadDefaultConfig + s3.NewFromConfig with an
// optional custom endpoint for S3-compatible stores).
package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config names the bucket and optional custom endpoint this adapter talks
// to; a non-empty endpoint selects an S3-compatible store over AWS S3.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

// Presigner produces time-limited download URLs for exportedData object
// keys.
type Presigner struct {
	client *s3.PresignClient
	bucket string
}

// NewPresigner builds a Presigner from cfg.
func NewPresigner(ctx context.Context, cfg Config) (*Presigner, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Presigner{
		client: s3.NewPresignClient(client),
		bucket: cfg.Bucket,
	}, nil
}

// DownloadURL presigns a GET for key, valid for ttl.
func (p *Presigner) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign download for key %q: %w", key, err)
	}
	return req.URL, nil
}

// DownloadURLs presigns every key in keys, preserving order. A step's
// exportedData output (spec.md §6) is the set of keys the executor wrote;
// this method is the adapter that turns that into the URL list a client
// actually needs.
func (p *Presigner) DownloadURLs(ctx context.Context, keys []string, ttl time.Duration) ([]string, error) {
	urls := make([]string, len(keys))
	for i, key := range keys {
		url, err := p.DownloadURL(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		urls[i] = url
	}
	return urls, nil
}
