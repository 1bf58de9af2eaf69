// Package s3test provides S3 buckets for tests: served by an in-process gofakes3 server by
// default, or by a real endpoint when MISO_TEST_S3_ENDPOINT is set.
package s3test

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/http/httptest"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// Bucket is a freshly created bucket and the client that reaches it.
type Bucket struct {
	Client *s3.S3
	Name   string

	stop func()
}

// NewBucket creates a uniquely named bucket. Close removes it and anything in it.
func NewBucket() *Bucket {
	var client *s3.S3
	var stop func()
	if endpoint := os.Getenv("MISO_TEST_S3_ENDPOINT"); endpoint != "" {
		client, stop = remoteClient(endpoint), func() {}
	} else {
		client, stop = fakeClient()
	}
	b := &Bucket{Client: client, Name: bucketName(), stop: stop}
	if _, err := client.CreateBucket(&s3.CreateBucketInput{Bucket: aws.String(b.Name)}); err != nil {
		stop()
		panic(fmt.Errorf("create bucket %s: %w", b.Name, err))
	}
	return b
}

// Put stores an object under key.
func (b *Bucket) Put(key string, body []byte) error {
	_, err := b.Client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(b.Name),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}

// Close empties and deletes the bucket, then stops the fake server if there is one.
func (b *Bucket) Close() {
	defer b.stop()
	if err := b.empty(); err != nil {
		return
	}
	_, _ = b.Client.DeleteBucket(&s3.DeleteBucketInput{Bucket: aws.String(b.Name)})
}

func (b *Bucket) empty() error {
	list := &s3.ListObjectsInput{Bucket: aws.String(b.Name)}
	for {
		page, err := b.Client.ListObjects(list)
		if err != nil {
			return err
		}
		if len(page.Contents) == 0 {
			return nil
		}
		ids := make([]*s3.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			ids[i] = &s3.ObjectIdentifier{Key: obj.Key}
		}
		_, err = b.Client.DeleteObjects(&s3.DeleteObjectsInput{
			Bucket: aws.String(b.Name),
			Delete: &s3.Delete{Objects: ids},
		})
		if err != nil || !aws.BoolValue(page.IsTruncated) {
			return err
		}
		list.Marker = ids[len(ids)-1].Key
	}
}

func fakeClient() (*s3.S3, func()) {
	ts := httptest.NewServer(gofakes3.New(s3mem.New()).Server())
	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials("TEST-ACCESSKEYID", "TEST-SECRETACCESSKEY", ""),
		Endpoint:         aws.String(ts.URL),
		Region:           aws.String("ca-west-1"),
		DisableSSL:       aws.Bool(true),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		ts.Close()
		panic(err)
	}
	return s3.New(sess), ts.Close
}

// remoteClient talks to a real service. With AWS_REGION set the SDK resolves the AWS
// endpoint itself; other services only need some region.
func remoteClient(endpoint string) *s3.S3 {
	config := &aws.Config{
		Credentials: credentials.NewStaticCredentials(
			mustEnv("AWS_ACCESS_KEY_ID"),
			mustEnv("AWS_SECRET_ACCESS_KEY"),
			os.Getenv("AWS_SESSION_TOKEN"),
		),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String("us-east-1"),
		S3ForcePathStyle: aws.Bool(true),
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.Region = aws.String(region)
		config.Endpoint = nil
	}
	sess, err := session.NewSession(config)
	if err != nil {
		panic(err)
	}
	return s3.New(sess)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("environment '%s' unset", key))
	}
	return v
}

func bucketName() string {
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxUint32))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("miso-test-%s", n)
}
