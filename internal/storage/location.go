package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Location is either a local file path or an object in a bucket, written as
// s3://bucket/key.
type Location struct {
	Bucket string
	Key    string
}

func ParseLocation(uri string) (Location, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		if uri == "" {
			return Location{}, fmt.Errorf("empty location")
		}
		return Location{Key: uri}, nil
	}

	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return Location{}, fmt.Errorf("invalid object location %q, expected s3://bucket/key", uri)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

func (l Location) IsObject() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.IsObject() {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Key
}

// Fetch reads the whole content at loc. Object locations need a provider.
func Fetch(ctx context.Context, provider Provider, loc Location) ([]byte, error) {
	if !loc.IsObject() {
		return os.ReadFile(loc.Key)
	}
	if provider == nil {
		return nil, fmt.Errorf("no object storage configured for %s", loc)
	}
	return provider.GetObject(ctx, loc.Bucket, loc.Key)
}
