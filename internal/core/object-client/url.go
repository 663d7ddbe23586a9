package objectclient

import (
	"fmt"
	"net/url"
	"strings"
)

// ObjectURL is the virtual-hosted URL of an object.
func ObjectURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// ParseS3URL extracts bucket and key from s3://bucket/key, virtual-hosted
// (https://bucket.s3.region.amazonaws.com/key) and path-style
// (https://s3.region.amazonaws.com/bucket/key) URLs.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse storage url: %w", err)
	}
	path := strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case "s3":
		bucket, key = u.Host, path
	case "https", "http":
		host := u.Hostname()
		if strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-") {
			bucket, key, _ = strings.Cut(path, "/")
		} else if i := strings.Index(host, ".s3"); i > 0 {
			bucket, key = host[:i], path
		}
	default:
		return "", "", fmt.Errorf("unsupported storage url scheme %q", u.Scheme)
	}

	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("storage url %q has no bucket or key", raw)
	}
	return bucket, key, nil
}
