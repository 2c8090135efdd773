package storage

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/testutil"
)

func TestFileKey(t *testing.T) {
	tests := []struct {
		id, rev  int64
		filename string
		want     string
	}{
		{1, 1, "reads.fastq", "1/1/reads.fastq"},
		{12, 3, "/tmp/upload/reads_R1.fastq.gz", "12/3/reads_R1.fastq.gz"},
		{5, 2, "..\\..\\evil.fastq", "5/2/evil.fastq"},
	}
	for _, tt := range tests {
		if got := FileKey(tt.id, tt.rev, tt.filename); got != tt.want {
			t.Errorf("FileKey(%d, %d, %q) = %q, want %q", tt.id, tt.rev, tt.filename, got, tt.want)
		}
	}
}

func TestSanitizeKey(t *testing.T) {
	for _, key := range []string{"", "  ", "/etc/passwd", "../x", "a/../../x"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Errorf("sanitizeKey(%q) should fail", key)
		}
	}
	if got, err := sanitizeKey("a/./b"); err != nil || got != "a/b" {
		t.Errorf("sanitizeKey(a/./b) = %q, %v", got, err)
	}
}

func TestFSStore(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewFSStore(filepath.Join(dir, "blobs"))
	testutil.RequireNoError(t, err, "NewFSStore")

	info, err := store.Put(ctx, "1/1/reads.fastq", strings.NewReader("@r1\nACGT\n+\nIIII\n"))
	testutil.RequireNoError(t, err, "Put")
	testutil.AssertEqual(t, info.Size, int64(16), "size")
	testutil.AssertEqual(t, len(info.Checksum), 64, "sha256 hex length")

	_, err = store.Put(ctx, "1/1/reads.fastq", strings.NewReader("again"))
	testutil.AssertTrue(t, errors.IsKind(err, errors.KindExists), "second put should report an existing blob")

	rc, err := store.Get(ctx, "1/1/reads.fastq")
	testutil.RequireNoError(t, err, "Get")
	data, _ := io.ReadAll(rc)
	rc.Close()
	testutil.AssertEqual(t, string(data), "@r1\nACGT\n+\nIIII\n", "content")

	testutil.AssertEqual(t, store.Locate("1/1/reads.fastq"), filepath.Join(store.Root(), "1", "1", "reads.fastq"), "location")

	testutil.RequireNoError(t, store.Delete(ctx, "1/1/reads.fastq"), "Delete")
	ok, err := store.Exists(ctx, "1/1/reads.fastq")
	testutil.RequireNoError(t, err, "Exists")
	testutil.AssertFalse(t, ok, "blob should be gone")

	_, err = store.Get(ctx, "1/1/reads.fastq")
	testutil.AssertTrue(t, errors.IsKind(err, errors.KindNotFound), "get after delete should be not found")

	// Deleting a missing blob is not an error
	testutil.AssertNoError(t, store.Delete(ctx, "nope"), "Delete missing")
}

func TestFSStoreCancelledPut(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	store, err := NewFSStore(dir)
	testutil.RequireNoError(t, err, "NewFSStore")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Put(ctx, "a", strings.NewReader("data"))
	testutil.AssertTrue(t, err != nil, "cancelled put should fail")

	ok, _ := store.Exists(context.Background(), "a")
	testutil.AssertFalse(t, ok, "cancelled put must not leave a blob")
}

func TestOpenFilesystemStores(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	stores, err := Open(context.Background(), config.StorageConfig{
		SequenceFileDir:  filepath.Join(dir, "sequence"),
		ReferenceFileDir: filepath.Join(dir, "reference"),
		OutputFileDir:    filepath.Join(dir, "output"),
	})
	testutil.RequireNoError(t, err, "Open")
	testutil.AssertEqual(t, stores.Sequence.Driver(), DriverFilesystem, "driver")

	for _, sub := range []string{"sequence", "reference", "output"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Errorf("expected %s directory to be created: %v", sub, err)
		}
	}

	_, err = stores.For("snapshot")
	testutil.AssertTrue(t, errors.IsKind(err, errors.KindStorage), "unknown class")

	_, err = Open(context.Background(), config.StorageConfig{Blob: config.BlobConfig{Driver: "ftp"}})
	testutil.AssertTrue(t, errors.IsKind(err, errors.KindConfig), "unknown driver")
}

func TestFilesWriteSequenceFile(t *testing.T) {
	db, fx, cleanup := testutil.TestDBWithFixtures(t)
	defer cleanup()
	dir, dirCleanup := testutil.TempDir(t)
	defer dirCleanup()
	ctx := context.Background()

	seq, err := NewFSStore(filepath.Join(dir, "sequence"))
	testutil.RequireNoError(t, err, "NewFSStore")
	files := NewFiles(db, &Stores{Sequence: seq})

	fileID := fx.Object.Files[0].ID
	first, err := files.WriteSequenceFile(ctx, fileID, "reads.fastq", strings.NewReader("@r\nAC\n+\nII\n"))
	testutil.RequireNoError(t, err, "first write")
	testutil.AssertEqual(t, first.FilePath, FileKey(fileID, 1, "reads.fastq"), "first revision path")
	testutil.AssertEqual(t, first.FileRevision, int64(1), "first revision")

	second, err := files.WriteSequenceFile(ctx, fileID, "reads.fastq", strings.NewReader("@r\nACGT\n+\nIIII\n"))
	testutil.RequireNoError(t, err, "second write")
	testutil.AssertEqual(t, second.FilePath, FileKey(fileID, 2, "reads.fastq"), "second revision path")
	testutil.AssertEqual(t, second.FileSize, int64(15), "second size")

	rc, err := files.OpenSequenceFile(ctx, second)
	testutil.RequireNoError(t, err, "OpenSequenceFile")
	data, _ := io.ReadAll(rc)
	rc.Close()
	testutil.AssertEqual(t, string(data), "@r\nACGT\n+\nIIII\n", "current content")

	// Older revisions stay on disk
	ok, _ := seq.Exists(ctx, first.FilePath)
	testutil.AssertTrue(t, ok, "first revision kept")

	abs, err := files.Resolve(ClassSequence, second.FilePath)
	testutil.RequireNoError(t, err, "Resolve")
	testutil.AssertEqual(t, abs, filepath.Join(seq.Root(), filepath.FromSlash(second.FilePath)), "resolved path")

	_, err = files.WriteSequenceFile(ctx, 9999, "x.fastq", strings.NewReader(""))
	testutil.AssertTrue(t, errors.IsKind(err, errors.KindNotFound), "missing sequence file")
}

// memS3 answers the subset of the S3 REST API the store uses.
type memS3 struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memS3) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// path-style: /<bucket>/<key>
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	respond := func(status int, body string, header http.Header) (*http.Response, error) {
		if header == nil {
			header = http.Header{}
		}
		return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(strings.NewReader(body)), Request: req}, nil
	}
	switch req.Method {
	case http.MethodHead:
		if _, ok := m.objects[key]; ok {
			return respond(http.StatusOK, "", http.Header{"Etag": {`"etag"`}})
		}
		return respond(http.StatusNotFound, "", nil)
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		m.objects[key] = string(body)
		return respond(http.StatusOK, "", http.Header{"Etag": {`"etag"`}})
	case http.MethodDelete:
		delete(m.objects, key)
		return respond(http.StatusNoContent, "", nil)
	}
	return respond(http.StatusNotImplemented, "", nil)
}

func TestS3Store(t *testing.T) {
	backend := &memS3{objects: map[string]string{}}
	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "seqlims",
		Endpoint:        "https://s3.test.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
		PathStyle:       true,
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: backend}
	})
	testutil.RequireNoError(t, err, "NewS3Store")
	ctx := context.Background()

	prefixed := Prefixed(store, "sequence")
	testutil.AssertEqual(t, prefixed.Locate("1/1/r.fastq"), "s3://seqlims/sequence/1/1/r.fastq", "location")

	ok, err := prefixed.Exists(ctx, "1/1/r.fastq")
	testutil.RequireNoError(t, err, "Exists")
	testutil.AssertFalse(t, ok, "empty bucket")

	info, err := prefixed.Put(ctx, "1/1/r.fastq", strings.NewReader("ACGT"))
	testutil.RequireNoError(t, err, "Put")
	testutil.AssertEqual(t, info.Key, "1/1/r.fastq", "key without prefix")
	testutil.AssertEqual(t, info.Size, int64(4), "size")

	_, err = prefixed.Put(ctx, "1/1/r.fastq", strings.NewReader("ACGT"))
	testutil.AssertTrue(t, errors.IsKind(err, errors.KindExists), "create-only put")

	testutil.RequireNoError(t, prefixed.Delete(ctx, "1/1/r.fastq"), "Delete")
	ok, _ = prefixed.Exists(ctx, "1/1/r.fastq")
	testutil.AssertFalse(t, ok, "deleted")

	_, err = NewS3Store(ctx, S3Config{})
	testutil.AssertTrue(t, err != nil, "bucket is required")
}
