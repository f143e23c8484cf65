package objstore

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/xerrors"
)

// maxDeleteBatch is the DeleteObjects per-request key limit
const maxDeleteBatch = 1000

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Options configures NewS3Client.
type S3Options struct {
	// Region, "auto" for Cloudflare R2
	Region string

	// Endpoint overrides the service endpoint for S3-compatible stores,
	// e.g. https://<account>.r2.cloudflarestorage.com
	Endpoint string

	// UsePathStyle addresses buckets as endpoint/bucket instead of bucket.endpoint
	UsePathStyle bool

	// Static credentials. When AccessKeyID is empty the default AWS
	// credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client from opts on top of the default AWS config.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// S3-compatible stores do not all accept the default flexible checksums
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// S3Store stores objects in a single bucket.
type S3Store struct {
	client       S3API
	bucket       string
	cacheControl string
}

// NewS3Store returns a Store writing into bucket. cacheControl, when set,
// is attached to every written object.
func NewS3Store(client S3API, bucket, cacheControl string) (*S3Store, error) {
	if client == nil {
		return nil, xerrors.New("objstore: S3 client is required")
	}
	if bucket == "" {
		return nil, xerrors.New("objstore: bucket is required")
	}
	return &S3Store{client: client, bucket: bucket, cacheControl: cacheControl}, nil
}

// Bucket returns the bucket name objects are written to.
func (s *S3Store) Bucket() string { return s.bucket }

func (s *S3Store) Put(ctx context.Context, key string, obj Object) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(obj.Body),
		ContentLength: aws.Int64(int64(len(obj.Body))),
		ContentType:   aws.String(obj.ContentType),
	}
	if obj.ContentEncoding != "" {
		in.ContentEncoding = aws.String(obj.ContentEncoding)
	}
	if s.cacheControl != "" {
		in.CacheControl = aws.String(s.cacheControl)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}
	return nil
}

func (s *S3Store) ListByPrefix(ctx context.Context, prefix string, maxKeys int) (int, error) {
	if maxKeys <= 0 {
		maxKeys = 1
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(maxKeys)),
	})
	if err != nil {
		return 0, xerrors.Wrapf(err, "list s3://%s/%s", s.bucket, prefix)
	}
	n := len(out.Contents)
	if n > maxKeys {
		n = maxKeys
	}
	return n, nil
}

func (s *S3Store) Delete(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return xerrors.Wrapf(err, "delete %d objects from s3://%s", len(ids), s.bucket)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return xerrors.Newf("delete from s3://%s: %d keys failed, first %s: %s",
				s.bucket, len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}
