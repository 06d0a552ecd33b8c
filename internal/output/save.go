package output

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/studiowebux/asynchttp/internal/config"
)

// OpenBucket opens the bucket URLs used by Save
var OpenBucket = blob.OpenBucket

// IsBucketURL reports whether dest names an object in a bucket rather than a
// local path
func IsBucketURL(dest string) bool {
	u, err := url.Parse(dest)
	return err == nil && len(u.Scheme) > 1 && strings.Contains(dest, "://")
}

// SplitBucketURL splits an object URL into its bucket URL and key.
// file:///dir/name.json opens the bucket file:///dir with key name.json;
// s3://bucket/a/b.json?region=x opens s3://bucket?region=x with key a/b.json.
func SplitBucketURL(dest string) (bucketURL, key string, err error) {
	u, err := url.Parse(dest)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse destination: %w", err)
	}
	if u.Scheme == "file" {
		dir, name := path.Split(u.Path)
		if name == "" {
			return "", "", fmt.Errorf("destination %q has no object name", dest)
		}
		b := *u
		b.Path = strings.TrimSuffix(dir, "/")
		if b.Path == "" {
			b.Path = "/"
		}
		return b.String(), name, nil
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("destination %q has no object key", dest)
	}
	b := *u
	b.Path = ""
	return b.String(), key, nil
}

// Save writes data to dest, which is either a local file path or an object
// URL understood by gocloud.dev/blob (file://, mem://, s3://)
func Save(ctx context.Context, dest string, data []byte, contentType string) error {
	if !IsBucketURL(dest) {
		if err := os.WriteFile(dest, data, config.FilePermissions); err != nil {
			return fmt.Errorf("failed to save response: %w", err)
		}
		return nil
	}

	bucketURL, key, err := SplitBucketURL(dest)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}
	defer bucket.Close()

	opts := &blob.WriterOptions{ContentType: contentType}
	if err := bucket.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
