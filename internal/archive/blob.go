package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobArchiver keeps finished workflow instances in a gocloud.dev/blob
// bucket, supporting S3, GCS, Azure Blob Storage, local files, and memory
type BlobArchiver struct {
	bucket *blob.Bucket
	prefix string
}

const archiveSuffix = ".json"

var ErrNotArchived = errors.New("workflow instance not archived")

// NewBlobArchiver opens the bucket at bucketURL
func NewBlobArchiver(
	ctx context.Context, bucketURL, prefix string,
) (*BlobArchiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobArchiver{bucket: bucket, prefix: prefix}, nil
}

// Get reads the archive of one instance
func (a *BlobArchiver) Get(
	ctx context.Context, id api.WorkflowInstanceID,
) (*api.WorkflowArchive, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotArchived
		}
		return nil, err
	}

	var rec api.WorkflowArchive
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put writes the archive of one instance, replacing any earlier one
func (a *BlobArchiver) Put(ctx context.Context, rec *api.WorkflowArchive) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(ctx, a.keyFor(rec.Instance.ID), data,
		&blob.WriterOptions{ContentType: "application/json"},
	)
}

// Delete removes the archive of one instance. A missing one is not an
// error
func (a *BlobArchiver) Delete(
	ctx context.Context, id api.WorkflowInstanceID,
) error {
	err := a.bucket.Delete(ctx, a.keyFor(id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// List returns the ids of every archived instance
func (a *BlobArchiver) List(
	ctx context.Context,
) ([]api.WorkflowInstanceID, error) {
	var res []api.WorkflowInstanceID
	iter := a.bucket.List(&blob.ListOptions{Prefix: a.prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, archiveSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Key, a.prefix),
			archiveSuffix)
		res = append(res, api.WorkflowInstanceID(id))
	}
}

func (a *BlobArchiver) Close() error {
	return a.bucket.Close()
}

func (a *BlobArchiver) keyFor(id api.WorkflowInstanceID) string {
	return a.prefix + string(id) + archiveSuffix
}
