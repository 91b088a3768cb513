package files

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	httperrors "github.com/nczempin/minihttpd/errors"
)

// truncatedReader returns data and then fails like a dropped connection.
type truncatedReader struct {
	data []byte
}

func (r *truncatedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, httperrors.NewProtocolError(httperrors.ProtocolErrorIncompleteBody, "peer went away")
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

// failingFS wraps a Dir and makes every sink fail after limit bytes.
type failingFS struct {
	*Dir
	limit int
}

type failingSink struct {
	Sink
	left int
}

func (s *failingSink) Write(p []byte) (int, error) {
	if len(p) > s.left {
		return 0, io.ErrShortWrite
	}
	s.left -= len(p)
	return s.Sink.Write(p)
}

func (f *failingFS) Create(name string) (Sink, error) {
	s, err := f.Dir.Create(name)
	if err != nil {
		return nil, err
	}
	return &failingSink{Sink: s, left: f.limit}, nil
}

func dirEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestUploader_Store(t *testing.T) {
	d, _ := NewDir(t.TempDir(), BackendStd)
	u := NewUploader(d, zerolog.Nop())

	payload := bytes.Repeat([]byte("upload-"), 5000)
	name, err := u.Store(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if !strings.HasPrefix(name, "file_") || !strings.HasSuffix(name, ".bin") {
		t.Errorf("Unexpected generated name %q", name)
	}
	if !ValidName(name) {
		t.Errorf("Generated name %q must be a valid file name", name)
	}

	rc, size, err := d.Open(name)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if size != int64(len(payload)) || !bytes.Equal(data, payload) {
		t.Errorf("Stored file differs from payload (%d bytes)", size)
	}

	if entries := dirEntries(t, d.Root()); len(entries) != 1 {
		t.Errorf("Expected only the published file, got %v", entries)
	}
}

func TestUploader_StoreIgnoresExtraBytes(t *testing.T) {
	d, _ := NewDir(t.TempDir(), BackendStd)
	u := NewUploader(d, zerolog.Nop())

	name, err := u.Store(strings.NewReader("0123456789"), 4)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	_, size, _ := d.Open(name)
	if size != 4 {
		t.Errorf("Expected exactly 4 bytes stored, got %d", size)
	}
}

func TestUploader_ShortBodyLeavesNothing(t *testing.T) {
	d, _ := NewDir(t.TempDir(), BackendStd)
	u := NewUploader(d, zerolog.Nop())

	_, err := u.Store(&truncatedReader{data: bytes.Repeat([]byte("x"), 10000)}, 50000)
	if !httperrors.IsProtocol(err, httperrors.ProtocolErrorIncompleteBody) {
		t.Fatalf("Expected incomplete body error, got %v", err)
	}
	if entries := dirEntries(t, d.Root()); len(entries) != 0 {
		t.Errorf("Expected empty upload root, got %v", entries)
	}
}

func TestUploader_EarlyEOFLeavesNothing(t *testing.T) {
	d, _ := NewDir(t.TempDir(), BackendStd)
	u := NewUploader(d, zerolog.Nop())

	_, err := u.Store(strings.NewReader("short"), 100)
	if !httperrors.IsProtocol(err, httperrors.ProtocolErrorIncompleteBody) {
		t.Fatalf("Expected incomplete body error, got %v", err)
	}
	if entries := dirEntries(t, d.Root()); len(entries) != 0 {
		t.Errorf("Expected empty upload root, got %v", entries)
	}
}

func TestUploader_WriteFailureLeavesNothing(t *testing.T) {
	d, _ := NewDir(t.TempDir(), BackendStd)
	u := NewUploader(&failingFS{Dir: d, limit: UploadBufferSize}, zerolog.Nop())

	_, err := u.Store(bytes.NewReader(make([]byte, 3*UploadBufferSize)), 3*UploadBufferSize)
	if httperrors.TypeOf(err) != httperrors.ErrorIO {
		t.Fatalf("Expected ErrorIO, got %v", err)
	}
	if entries := dirEntries(t, d.Root()); len(entries) != 0 {
		t.Errorf("Expected empty upload root, got %v", entries)
	}
}

func TestUploader_CreateFailure(t *testing.T) {
	d, _ := NewDir(t.TempDir(), BackendStd)
	os.RemoveAll(d.Root())
	u := NewUploader(d, zerolog.Nop())

	_, err := u.Store(strings.NewReader("data"), 4)
	if httperrors.TypeOf(err) != httperrors.ErrorIO {
		t.Errorf("Expected ErrorIO when the root is gone, got %v", err)
	}
}
