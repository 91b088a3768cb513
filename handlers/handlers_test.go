package handlers

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nczempin/minihttpd/files"
	"github.com/nczempin/minihttpd/flatjson"
	"github.com/nczempin/minihttpd/protocol"
	"github.com/nczempin/minihttpd/router"
	"github.com/nczempin/minihttpd/stats"
	"github.com/nczempin/minihttpd/store"
)

type fixture struct {
	h       *Handlers
	router  *router.Router
	users   *store.Users
	web     *files.Dir
	uploads *files.Dir
	conns   *stats.Connections
}

func setupHandlers(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "server_db.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUsers(db)
	if err := users.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	web, err := files.NewDir(filepath.Join(t.TempDir(), "www"), files.BackendStd)
	if err != nil {
		t.Fatalf("NewDir failed: %v", err)
	}
	uploads, err := files.NewDir(filepath.Join(t.TempDir(), "uploads"), files.BackendStd)
	if err != nil {
		t.Fatalf("NewDir failed: %v", err)
	}

	conns := &stats.Connections{}
	h := New(users, web, uploads, &stats.Counter{}, conns, Options{Log: zerolog.Nop()})
	r := router.New(h.NotFound)
	h.Register(r)

	return &fixture{h: h, router: r, users: users, web: web, uploads: uploads, conns: conns}
}

// do routes a request the way the dispatcher does: buffered routes get the
// whole body, streaming routes a BodyReader.
func (f *fixture) do(method, target string, body []byte) *protocol.Response {
	path, query, _ := strings.Cut(target, "?")
	req := &protocol.Request{
		Method:        method,
		Path:          path,
		Query:         query,
		Proto:         "HTTP/1.1",
		Header:        protocol.Header{},
		ContentLength: int64(len(body)),
		BodyStream:    protocol.NewBodyReader(bytes.NewReader(body), nil, int64(len(body))),
	}
	route := f.router.Match(method, path)
	if !route.Streaming {
		req.Body = body
	}
	return route.Handler(context.Background(), req)
}

func readBody(t *testing.T, resp *protocol.Response) string {
	t.Helper()
	if resp.Stream == nil {
		return string(resp.Body)
	}
	data, err := io.ReadAll(resp.Stream)
	if err != nil {
		t.Fatalf("Reading stream failed: %v", err)
	}
	if c, ok := resp.Stream.(io.Closer); ok {
		c.Close()
	}
	return string(data)
}

func expectStatus(t *testing.T, resp *protocol.Response, status int) {
	t.Helper()
	if resp.Status != status {
		t.Fatalf("Expected status %d, got %d: %s", status, resp.Status, resp.Body)
	}
}

func TestCreateUser_Success(t *testing.T) {
	f := setupHandlers(t)

	resp := f.do("POST", "/api/users", []byte(`{"name": "Ali", "email": "ali@example.com"}`))
	expectStatus(t, resp, 201)
	if resp.ContentType != "application/json" {
		t.Errorf("Expected application/json, got %s", resp.ContentType)
	}

	record, err := flatjson.Parse(resp.Body)
	if err != nil {
		t.Fatalf("Response is not a flat JSON object: %v", err)
	}
	if record["id"] != "1" || record["name"] != "Ali" || record["email"] != "ali@example.com" {
		t.Errorf("Unexpected record %v", record)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	f := setupHandlers(t)

	bodies := []string{
		`{"name": "Ali"}`,
		`{"email": "ali@example.com"}`,
		`{"name": "Ali", "email": "not-an-email"}`,
		`{"name": "", "email": "a@b"}`,
	}
	for _, body := range bodies {
		resp := f.do("POST", "/api/users", []byte(body))
		expectStatus(t, resp, 400)
		if !strings.Contains(string(resp.Body), "Name and a valid email are required.") {
			t.Errorf("Unexpected error body for %s: %s", body, resp.Body)
		}
	}

	if n, _ := f.users.Count(context.Background()); n != 0 {
		t.Errorf("Expected no users after invalid requests, got %d", n)
	}
}

func TestCreateUser_InvalidJSON(t *testing.T) {
	f := setupHandlers(t)

	for _, body := range []string{"", "{", `{"name": {"x": 1}}`, `["a"]`} {
		resp := f.do("POST", "/api/users", []byte(body))
		expectStatus(t, resp, 400)
	}

	long := `{"name": "` + strings.Repeat("n", 300) + `", "email": "a@b"}`
	expectStatus(t, f.do("POST", "/api/users", []byte(long)), 400)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	f := setupHandlers(t)

	expectStatus(t, f.do("POST", "/api/users", []byte(`{"name": "A", "email": "same@example.com"}`)), 201)

	resp := f.do("POST", "/api/users", []byte(`{"name": "B", "email": "same@example.com"}`))
	expectStatus(t, resp, 500)
	if !strings.Contains(string(resp.Body), `"error"`) {
		t.Errorf("Expected structured error, got %s", resp.Body)
	}

	if n, _ := f.users.Count(context.Background()); n != 1 {
		t.Errorf("Expected count to stay 1, got %d", n)
	}
}

func TestCreateUser_ConcurrentDistinctIDs(t *testing.T) {
	f := setupHandlers(t)

	const workers = 16
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := `{"name": "u` + strconv.Itoa(i) + `", "email": "u` + strconv.Itoa(i) + `@example.com"}`
			resp := f.do("POST", "/api/users", []byte(body))
			if resp.Status != 201 {
				t.Errorf("Create %d failed: %d %s", i, resp.Status, resp.Body)
				return
			}
			record, _ := flatjson.Parse(resp.Body)
			ids <- record["id"]
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("Duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != workers {
		t.Errorf("Expected %d distinct ids, got %d", workers, len(seen))
	}
}

func TestListUsers(t *testing.T) {
	f := setupHandlers(t)

	resp := f.do("GET", "/api/users", nil)
	expectStatus(t, resp, 200)
	if string(resp.Body) != "[\n\n]" {
		t.Errorf("Unexpected empty list %q", resp.Body)
	}

	f.do("POST", "/api/users", []byte(`{"name": "Ali", "email": "ali@example.com"}`))
	f.do("POST", "/api/users", []byte(`{"name": "Sara", "email": "sara@example.com"}`))

	body := string(f.do("GET", "/api/users", nil).Body)
	if !strings.HasPrefix(body, "[\n{") || !strings.HasSuffix(body, "}\n]") {
		t.Errorf("Unexpected array framing: %q", body)
	}
	if !strings.Contains(body, `"name": "Ali"`) || !strings.Contains(body, `"name": "Sara"`) {
		t.Errorf("Expected both users in %s", body)
	}
	if strings.Index(body, "Ali") > strings.Index(body, "Sara") {
		t.Error("Expected users ordered by id")
	}
}

func TestUpdateUser(t *testing.T) {
	f := setupHandlers(t)
	f.do("POST", "/api/users", []byte(`{"name": "Ali", "email": "ali@example.com"}`))

	resp := f.do("PUT", "/api/users/1", []byte(`{"name": "Ali Reza"}`))
	expectStatus(t, resp, 200)
	if !strings.Contains(string(resp.Body), "User 1 updated successfully.") {
		t.Errorf("Unexpected body %s", resp.Body)
	}

	rows, _ := f.users.List(context.Background())
	if rows[0]["name"] != "Ali Reza" || rows[0]["email"] != "ali@example.com" {
		t.Errorf("Expected partial update, got %v", rows[0])
	}
}

func TestUpdateUser_Errors(t *testing.T) {
	f := setupHandlers(t)
	f.do("POST", "/api/users", []byte(`{"name": "A", "email": "a@example.com"}`))
	f.do("POST", "/api/users", []byte(`{"name": "B", "email": "b@example.com"}`))

	expectStatus(t, f.do("PUT", "/api/users/", []byte(`{"name": "x"}`)), 400)
	expectStatus(t, f.do("PUT", "/api/users/abc", []byte(`{"name": "x"}`)), 400)
	expectStatus(t, f.do("PUT", "/api/users/1", []byte(`{"age": "3"}`)), 400)
	expectStatus(t, f.do("PUT", "/api/users/1", []byte(`not json`)), 400)
	expectStatus(t, f.do("PUT", "/api/users/99", []byte(`{"name": "x"}`)), 404)
	expectStatus(t, f.do("PUT", "/api/users/2", []byte(`{"email": "a@example.com"}`)), 500)
}

func TestDeleteFile(t *testing.T) {
	f := setupHandlers(t)
	os.WriteFile(filepath.Join(f.uploads.Root(), "doomed.txt"), []byte("x"), 0o644)

	expectStatus(t, f.do("DELETE", "/files/doomed.txt", nil), 200)
	if _, err := os.Stat(filepath.Join(f.uploads.Root(), "doomed.txt")); !os.IsNotExist(err) {
		t.Error("Expected file to be removed")
	}
	expectStatus(t, f.do("DELETE", "/files/doomed.txt", nil), 404)
	expectStatus(t, f.do("DELETE", "/files/", nil), 400)
}

func TestDeleteFile_Traversal(t *testing.T) {
	f := setupHandlers(t)

	outside := filepath.Join(filepath.Dir(f.uploads.Root()), "secret.txt")
	os.WriteFile(outside, []byte("keep"), 0o644)

	for _, target := range []string{"/files/../secret.txt", "/files/..", `/files/a\b`, "/files/sub/x"} {
		resp := f.do("DELETE", target, nil)
		expectStatus(t, resp, 403)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("File outside the upload root was touched: %v", err)
	}
}

func TestDeleteFile_UploadInProgressIsProtected(t *testing.T) {
	f := setupHandlers(t)
	partial := filepath.Join(f.uploads.Root(), ".part-abc-123")
	os.WriteFile(partial, []byte("half"), 0o644)

	expectStatus(t, f.do("DELETE", "/files/.part-abc-123", nil), 403)
	if _, err := os.Stat(partial); err != nil {
		t.Errorf("Upload in progress was removed: %v", err)
	}
}

func TestListFiles(t *testing.T) {
	f := setupHandlers(t)
	os.WriteFile(filepath.Join(f.uploads.Root(), "b.bin"), nil, 0o644)
	os.WriteFile(filepath.Join(f.uploads.Root(), "<script>.txt"), nil, 0o644)
	os.WriteFile(filepath.Join(f.uploads.Root(), ".part-123"), nil, 0o644)

	resp := f.do("GET", "/files", nil)
	expectStatus(t, resp, 200)
	body := string(resp.Body)

	if !strings.Contains(body, `href="/files/b.bin"`) {
		t.Errorf("Expected link to b.bin in %s", body)
	}
	if strings.Contains(body, "<script>.txt") || !strings.Contains(body, "&lt;script&gt;.txt") {
		t.Error("Expected file names to be HTML-escaped")
	}
	if strings.Contains(body, ".part-123") {
		t.Error("Expected partial uploads to be hidden")
	}
}

func TestUpload(t *testing.T) {
	f := setupHandlers(t)
	payload := bytes.Repeat([]byte{0xAB}, 10000)

	resp := f.do("POST", "/upload", payload)
	expectStatus(t, resp, 200)

	fields, err := flatjson.Parse(resp.Body)
	if err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	name := strings.TrimPrefix(fields["path"], "/files/")
	data, err := os.ReadFile(filepath.Join(f.uploads.Root(), name))
	if err != nil {
		t.Fatalf("Uploaded file missing: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("Uploaded content differs")
	}
	if f.conns.Snapshot().Uploads != 1 {
		t.Error("Expected upload to be counted")
	}

	served := f.do("GET", fields["path"], nil)
	expectStatus(t, served, 200)
	if readBody(t, served) != string(payload) {
		t.Error("Served upload differs from payload")
	}
}

func TestUpload_MissingLength(t *testing.T) {
	f := setupHandlers(t)

	req := &protocol.Request{Method: "POST", Path: "/upload", Header: protocol.Header{}, ContentLength: -1}
	resp := f.h.Upload(context.Background(), req)
	expectStatus(t, resp, 400)
	if resp.Close {
		t.Error("A missing Content-Length leaves the connection usable")
	}
}

func TestUpload_TooLarge(t *testing.T) {
	f := setupHandlers(t)

	req := &protocol.Request{Method: "POST", Path: "/upload", Header: protocol.Header{}, ContentLength: DefaultMaxUploadBytes + 1}
	resp := f.h.Upload(context.Background(), req)
	expectStatus(t, resp, 413)
	if !resp.Close {
		t.Error("Expected connection close after 413")
	}
	if !strings.Contains(string(resp.Body), "File size exceeds 500MB limit.") {
		t.Errorf("Unexpected body %s", resp.Body)
	}
}

func TestUpload_ShortBodyLeavesNothing(t *testing.T) {
	f := setupHandlers(t)

	req := &protocol.Request{
		Method:        "POST",
		Path:          "/upload",
		Header:        protocol.Header{},
		ContentLength: 50000,
		BodyStream:    protocol.NewBodyReader(strings.NewReader(strings.Repeat("x", 20000)), []byte("head"), 50000),
	}
	resp := f.h.Upload(context.Background(), req)
	expectStatus(t, resp, 500)
	if !resp.Close {
		t.Error("Expected connection close after interrupted upload")
	}
	if !strings.Contains(string(resp.Body), "Connection lost or incomplete data during upload.") {
		t.Errorf("Unexpected body %s", resp.Body)
	}

	entries, _ := os.ReadDir(f.uploads.Root())
	if len(entries) != 0 {
		t.Errorf("Expected empty upload root, found %d entries", len(entries))
	}
}

func TestServeStatic(t *testing.T) {
	f := setupHandlers(t)
	os.WriteFile(filepath.Join(f.web.Root(), "index.html"), []byte("<h1>home</h1>"), 0o644)
	os.WriteFile(filepath.Join(f.web.Root(), "style.css"), []byte("body{}"), 0o644)

	resp := f.do("GET", "/", nil)
	expectStatus(t, resp, 200)
	if !resp.Cacheable || resp.ContentType != "text/html" || resp.Length != 13 {
		t.Errorf("Unexpected index response %+v", resp)
	}
	if readBody(t, resp) != "<h1>home</h1>" {
		t.Error("Unexpected index content")
	}

	css := f.do("GET", "/style.css?v=2", nil)
	expectStatus(t, css, 200)
	if css.ContentType != "text/css" {
		t.Errorf("Expected text/css, got %s", css.ContentType)
	}
	readBody(t, css)

	expectStatus(t, f.do("GET", "/missing.js", nil), 404)
	expectStatus(t, f.do("GET", "/noextension", nil), 404)
	expectStatus(t, f.do("GET", "/files/", nil), 404)
}

func TestServeStatic_TraversalStaysInside(t *testing.T) {
	f := setupHandlers(t)
	parent := filepath.Dir(f.web.Root())
	os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644)
	os.WriteFile(filepath.Join(f.web.Root(), "secret.txt"), []byte("public"), 0o644)

	for _, p := range []string{"/../secret.txt", "/a/../../secret.txt", "/%2e%2e/secret.txt"} {
		resp := f.do("GET", p, nil)
		if resp.Status == 200 {
			if body := readBody(t, resp); body != "public" {
				t.Errorf("GET %s escaped the web root: %q", p, body)
			}
		}
	}

	expectStatus(t, f.do("GET", "/.hidden.txt", nil), 404)
}

func TestNotFound(t *testing.T) {
	f := setupHandlers(t)

	resp := f.do("POST", "/nowhere", nil)
	expectStatus(t, resp, 404)
	if resp.ContentType != "text/html" {
		t.Errorf("Expected HTML 404, got %s", resp.ContentType)
	}
}

func TestCount_Concurrent(t *testing.T) {
	f := setupHandlers(t)

	const m = 50
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if resp := f.do("GET", "/count", nil); resp.Status != 200 {
				t.Errorf("Count returned %d", resp.Status)
			}
		}()
	}
	wg.Wait()

	resp := f.do("GET", "/count", nil)
	if !strings.Contains(string(resp.Body), "visited "+strconv.Itoa(m+1)+" times") {
		t.Errorf("Expected counter at %d, got %s", m+1, resp.Body)
	}
}

func TestUpload_DiskFailure(t *testing.T) {
	f := setupHandlers(t)
	os.RemoveAll(f.uploads.Root())

	resp := f.do("POST", "/upload", []byte("data"))
	expectStatus(t, resp, 500)
	if !resp.Close {
		t.Error("Expected connection close after disk failure")
	}
}
