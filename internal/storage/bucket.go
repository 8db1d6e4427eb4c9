package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/aetriusgx/openet/internal/table"
)

// Credentials selects how the bucket client authenticates. At most one of
// File and JSON is set; with neither, application default credentials are
// used.
type Credentials struct {
	// File is the path of a service account key file.
	File string
	// JSON is the content of a service account key file.
	JSON []byte
}

// resolve turns the credentials into a parsed key. Application default
// credentials yield nil.
func (c Credentials) resolve(ctx context.Context) (*google.Credentials, error) {
	if c.File != "" && len(c.JSON) > 0 {
		return nil, errors.New("only one of credentials file and credentials json may be set")
	}
	raw := c.JSON
	if c.File != "" {
		b, err := os.ReadFile(c.File)
		if err != nil {
			return nil, fmt.Errorf("could not read credentials file: %w", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil, nil
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, storage.ScopeReadWrite)
	if err != nil {
		return nil, fmt.Errorf("could not parse credentials: %w", err)
	}
	return creds, nil
}

// Bucket keeps objects in a Google Cloud Storage bucket.
type Bucket struct {
	projectID string
	creds     *google.Credentials
	client    *storage.Client
	handle    *storage.BucketHandle
}

var _ Adapter = &Bucket{}

// NewBucket connects to bucket in projectID. Extra client options are
// appended after the credentials.
func NewBucket(ctx context.Context, projectID, bucket string, creds Credentials, opts ...option.ClientOption) (*Bucket, error) {
	resolved, err := creds.resolve(ctx)
	if err != nil {
		return nil, err
	}
	var clientOpts []option.ClientOption
	if resolved != nil {
		clientOpts = append(clientOpts, option.WithCredentials(resolved))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("could not create storage client: %w", err)
	}
	return &Bucket{
		projectID: projectID,
		creds:     resolved,
		client:    client,
		handle:    client.Bucket(bucket),
	}, nil
}

// ProjectID is the project the bucket belongs to.
func (b *Bucket) ProjectID() string {
	return b.projectID
}

// Authenticated reports whether explicit credentials were given and can
// mint a valid token. Application default credentials report false.
func (b *Bucket) Authenticated() bool {
	if b.creds == nil {
		return false
	}
	tok, err := b.creds.TokenSource.Token()
	return err == nil && tok.Valid()
}

func (b *Bucket) Write(ctx context.Context, name string, data []byte) (Object, error) {
	w := b.handle.Object(name).NewWriter(ctx)
	w.ContentType = "text/csv"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("could not write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("could not close writer for object: %w", err)
	}
	attrs := w.Attrs()
	return Object{Name: attrs.Name, Size: attrs.Size, Updated: attrs.Updated}, nil
}

func (b *Bucket) Read(ctx context.Context, name string) (*table.ResultTable, error) {
	rc, err := b.handle.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, notExist{wrapped: err}
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return table.ReadCSV(rc)
}

// Close releases the storage client.
func (b *Bucket) Close() error {
	return b.client.Close()
}
