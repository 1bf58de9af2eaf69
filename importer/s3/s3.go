// Package s3 fetches dataset payloads from S3 objects.
package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/jrhy/miso"
)

// S3Interface is the part of the S3 API the importer uses; *s3.S3 satisfies it.
type S3Interface interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error)
}

// Importer implements miso.Importer for one object. Bodies are cached by ETag, so
// refetching an unchanged object costs one HEAD request.
type Importer struct {
	s3         S3Interface
	BucketName string
	Key        string
	lru        *simplelru.LRU
}

// NewImporter returns an importer reading the named object with the given S3 client.
func NewImporter(client S3Interface, bucketName, key string) *Importer {
	lru, err := simplelru.NewLRU(16, nil)
	if err != nil {
		panic(err)
	}
	return &Importer{client, bucketName, key, lru}
}

// Extract returns the object's current contents.
func (i *Importer) Extract(ctx context.Context) ([]byte, error) {
	head, err := i.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: &i.BucketName,
		Key:    aws.String(i.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("head s3://%s/%s: %w", i.BucketName, i.Key, err)
	}
	etag := aws.StringValue(head.ETag)
	if cached, ok := i.lru.Get(etag); ok && etag != "" {
		return append([]byte(nil), cached.([]byte)...), nil
	}
	output, err := i.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &i.BucketName,
		Key:    aws.String(i.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", i.BucketName, i.Key, err)
	}
	defer output.Body.Close()
	b, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", i.BucketName, i.Key, err)
	}
	if tag := aws.StringValue(output.ETag); tag != "" {
		i.lru.Add(tag, append([]byte(nil), b...))
	}
	return b, nil
}

// Register adds the "s3" importer (cfg "bucket" and "key") to reg, using client for every
// importer it creates.
func Register(reg *miso.Registry, client S3Interface) error {
	return reg.RegisterImporter("s3", func(cfg map[string]string) (miso.Importer, error) {
		if cfg["bucket"] == "" || cfg["key"] == "" {
			return nil, fmt.Errorf("s3 importer needs a bucket and a key")
		}
		return NewImporter(client, cfg["bucket"], cfg["key"]), nil
	})
}
