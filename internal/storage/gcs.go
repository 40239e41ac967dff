package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Conceptual-Machines/magda-composer/internal/share"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const gcsTimeout = time.Minute

// GCSStore keeps runs as JSON objects in a bucket. Summary fields are
// copied into object metadata so listing does not download payloads.
type GCSStore struct {
	client       *storage.Client
	bucket       string
	objectPrefix string
}

// NewGCSStore creates a client from a credentials file or, when empty, the
// application default credentials
func NewGCSStore(ctx context.Context, bucketName, objectPrefix, credentialsFile string) (*GCSStore, error) {
	if bucketName == "" {
		return nil, errors.New("GCS bucket is required")
	}
	var client *storage.Client
	var err error
	if credentialsFile != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucketName, objectPrefix: strings.Trim(objectPrefix, "/")}, nil
}

func (s *GCSStore) objectName(id string) string {
	return path.Join(s.objectPrefix, "runs", id+".json")
}

func (s *GCSStore) listPrefix() string {
	return path.Join(s.objectPrefix, "runs") + "/"
}

// Save uploads the run
func (s *GCSStore) Save(ctx context.Context, run *share.Run) error {
	if err := checkRun(run); err != nil {
		return err
	}
	data, err := share.MarshalRun(run)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsTimeout)
	defer cancel()

	sum := summarize(run)
	wc := s.client.Bucket(s.bucket).Object(s.objectName(run.ID)).NewWriter(ctx)
	wc.ContentType = "application/json"
	wc.Metadata = map[string]string{
		"objective": sum.Objective,
		"model":     sum.Model,
		"notes":     strconv.Itoa(sum.NoteCount),
		"created":   sum.CreatedAt.Format(time.RFC3339Nano),
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to upload run: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// Load downloads a run by id
func (s *GCSStore) Load(ctx context.Context, id string) (*share.Run, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, gcsTimeout)
	defer cancel()

	rc, err := s.client.Bucket(s.bucket).Object(s.objectName(id)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run %s: %w", id, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to download run %s: %w", id, err)
	}
	return share.UnmarshalRun(data)
}

// List reads summaries from object metadata
func (s *GCSStore) List(ctx context.Context, limit int) ([]Summary, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.listPrefix()})
	var list []Summary
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error listing objects: %w", err)
		}
		if sum, ok := summaryFromObject(attrs.Name, attrs.Metadata, attrs.Created); ok {
			list = append(list, sum)
		}
	}
	return newestFirst(list, limit), nil
}

func summaryFromObject(name string, meta map[string]string, created time.Time) (Summary, bool) {
	id, ok := strings.CutSuffix(path.Base(name), ".json")
	if !ok || !validID(id) {
		return Summary{}, false
	}
	sum := Summary{ID: id, Objective: meta["objective"], Model: meta["model"], CreatedAt: created}
	if n, err := strconv.Atoi(meta["notes"]); err == nil {
		sum.NoteCount = n
	}
	if t, err := time.Parse(time.RFC3339Nano, meta["created"]); err == nil {
		sum.CreatedAt = t
	}
	return sum, true
}

// Close closes the GCS client
func (s *GCSStore) Close() error {
	return s.client.Close()
}
