package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API abstracts the S3 operations used by S3Source.
// The s3.Client type satisfies this interface.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Source enumerates images under s3://bucket/prefix. The key segment after
// the prefix plays the same role as a relative path on disk, so the first
// segment is the category.
type S3Source struct {
	client S3API
	bucket string
	prefix string
	exts   map[string]struct{}
}

// NewS3Source creates a source over an s3://bucket/prefix locator using the
// default AWS credential chain.
func NewS3Source(ctx context.Context, locator string, extensions []string, region string) (*S3Source, error) {
	bucket, prefix, err := ParseS3Locator(locator)
	if err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewS3SourceWithClient(s3.NewFromConfig(awsCfg), bucket, prefix, extensions), nil
}

// NewS3SourceWithClient creates a source with a pre-configured client.
// Any type satisfying S3API is accepted; typically an *s3.Client.
func NewS3SourceWithClient(client S3API, bucket, prefix string, extensions []string) *S3Source {
	return &S3Source{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		exts:   extSet(extensions),
	}
}

// ParseS3Locator splits an s3://bucket/prefix locator. The prefix may be empty.
func ParseS3Locator(locator string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(locator, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 locator: %s", locator)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 locator missing bucket: %s", locator)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// key builds the full object key for a source-relative path.
func (s *S3Source) key(relPath string) string {
	if s.prefix == "" {
		return relPath
	}
	return s.prefix + "/" + relPath
}

// List pages through the bucket and returns allowed objects sorted by
// prefix-relative path. Folder markers and hidden files are skipped.
func (s *S3Source) List(ctx context.Context) ([]File, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	var files []File
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			rel := key
			if s.prefix != "" {
				rel = strings.TrimPrefix(rel, s.prefix+"/")
			}
			if strings.HasPrefix(path.Base(rel), ".") {
				continue
			}
			if _, ok := s.exts[strings.ToLower(path.Ext(rel))]; !ok {
				continue
			}
			files = append(files, File{
				Path:     rel,
				Location: "s3://" + s.bucket + "/" + key,
				Size:     aws.ToInt64(obj.Size),
			})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Open downloads the object contents.
// Returns an error wrapping os.ErrNotExist if the key is gone.
func (s *S3Source) Open(ctx context.Context, file File) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(file.Path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("open %s: %w", file.Path, os.ErrNotExist)
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Locator returns the s3://bucket/prefix locator.
func (s *S3Source) Locator() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

// isS3NotFound reports whether err indicates the S3 object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
