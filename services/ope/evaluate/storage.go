// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// StdioURI selects stdin for inputs and stdout for outputs.
const StdioURI = "-"

const gcsScheme = "gs://"

// ErrInvalidURI is returned for a gs:// URI without bucket or object.
var ErrInvalidURI = errors.New("invalid storage URI")

// Storage opens logs and writes reports by URI.
//
// Description:
//
//	Three kinds of URI are understood: "-" for stdin or stdout,
//	gs://bucket/object for Google Cloud Storage, and anything else as a
//	local path. The GCS client is created on first use, with the service
//	account key when one was given and application default credentials
//	otherwise.
//
// Thread Safety: Safe for concurrent use.
type Storage struct {
	credentialsFile string

	mu     sync.Mutex
	client *storage.Client
}

// NewStorage returns a Storage. credentialsFile may be empty.
func NewStorage(credentialsFile string) *Storage {
	return &Storage{credentialsFile: credentialsFile}
}

// ParseGCSURI splits gs://bucket/object. ok is false for any other URI.
func ParseGCSURI(uri string) (bucket, object string, ok bool, err error) {
	rest, found := strings.CutPrefix(uri, gcsScheme)
	if !found {
		return "", "", false, nil
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" {
		return "", "", true, fmt.Errorf("%w: %q needs gs://bucket/object", ErrInvalidURI, uri)
	}
	return bucket, object, true, nil
}

// Open returns a reader for uri. The caller closes it.
func (s *Storage) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if uri == StdioURI {
		return io.NopCloser(os.Stdin), nil
	}
	bucket, object, isGCS, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	if !isGCS {
		f, err := os.Open(uri)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		return f, nil
	}

	client, err := s.gcs(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", uri, err)
	}
	return r, nil
}

// Create returns a writer for uri. For GCS the object is only committed
// when the writer is closed without error.
func (s *Storage) Create(ctx context.Context, uri string) (io.WriteCloser, error) {
	if uri == StdioURI {
		return nopWriteCloser{os.Stdout}, nil
	}
	bucket, object, isGCS, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	if !isGCS {
		if err := os.MkdirAll(filepath.Dir(uri), 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
		f, err := os.Create(uri)
		if err != nil {
			return nil, fmt.Errorf("create output: %w", err)
		}
		return f, nil
	}

	client, err := s.gcs(ctx)
	if err != nil {
		return nil, err
	}
	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return w, nil
}

// Close releases the GCS client if one was created.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *Storage) gcs(ctx context.Context) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	var opts []option.ClientOption
	if s.credentialsFile != "" {
		if _, err := os.Stat(s.credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", s.credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(s.credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	s.client = client
	return client, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
