// Package archive implements Chain Discovery (C1): enumerating a
// canonical underlying's live contract symbols on processing date D from
// the date-partitioned zip archive described in spec §4.1/§6.
//
// The ArchiveStore abstraction (local filesystem + S3-backed
// implementations) is new relative to the teacher, which never read a
// data lake — it is grounded on cloudmanic-massive's
// internal/flatfiles/client.go, the one repo in the retrieval pack that
// reads partitioned archive files out of S3 with aws-sdk-go-v2's
// s3manager.Downloader, adapted here to the <root>/<sec-type>/<market>/
// <resolution>/... zip layout this spec names in §6.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store abstracts read-only access to the archive's file tree, so Chain
// Discovery can run unmodified against a local data root or an S3-backed
// one (s3://bucket/prefix).
type Store interface {
	// List returns every file path under the given logical directory
	// prefix (recursively), or an empty slice (not an error) if the
	// prefix does not exist — matching spec §4.1's "missing directory
	// returns an empty chain".
	List(ctx context.Context, prefix string) ([]string, error)
	// Open returns the full contents of a file at path, suitable for
	// wrapping in an archive/zip.Reader.
	Open(ctx context.Context, path string) ([]byte, error)
}

// LocalStore reads the archive from a local filesystem root.
type LocalStore struct {
	Root string
}

// List implements Store.
func (l LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	dir := filepath.Join(l.Root, prefix)
	var out []string
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil // missing directory -> empty chain, not an error
	}
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(l.Root, path)
		if relErr != nil {
			return relErr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: walking %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// Open implements Store.
func (l LocalStore) Open(_ context.Context, path string) ([]byte, error) {
	full := filepath.Join(l.Root, path)
	// #nosec G304 -- path is derived from a List() call scoped to Root.
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", full, err)
	}
	return data, nil
}

// S3Store reads the archive from an S3 bucket/prefix root.
type S3Store struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

// NewS3Store builds an S3Store from the default AWS credential chain,
// matching cloudmanic-massive's internal/flatfiles/client.go bootstrap.
func NewS3Store(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: loading aws config: %w", err)
	}
	return &S3Store{Client: s3.NewFromConfig(cfg), Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
}

// List implements Store.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := joinKey(s.Prefix, prefix)
	var out []string
	var token *string
	for {
		resp, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.Bucket),
			Prefix:            aws.String(fullPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("archive: s3 list %s/%s: %w", s.Bucket, fullPrefix, err)
		}
		for _, obj := range resp.Contents {
			if obj.Key != nil {
				out = append(out, strings.TrimPrefix(*obj.Key, s.Prefix+"/"))
			}
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	sort.Strings(out)
	return out, nil
}

// Open implements Store, downloading the full object via
// s3manager.Downloader into an in-memory buffer (zip archives in this
// domain are small per-day, per-contract-type files, not bulk blobs).
func (s *S3Store) Open(ctx context.Context, path string) ([]byte, error) {
	key := joinKey(s.Prefix, path)
	buf := manager.NewWriteAtBuffer(nil)
	downloader := manager.NewDownloader(s.Client)
	_, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: s3 download %s/%s: %w", s.Bucket, key, err)
	}
	return buf.Bytes(), nil
}

func joinKey(prefix, rest string) string {
	rest = strings.TrimPrefix(rest, "/")
	if prefix == "" {
		return rest
	}
	return prefix + "/" + rest
}

// readerAt adapts an in-memory byte slice for archive/zip.NewReader,
// which needs io.ReaderAt + size.
func readerAt(data []byte) (io.ReaderAt, int64) {
	return bytes.NewReader(data), int64(len(data))
}
