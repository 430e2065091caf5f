package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/altrentals/deedgate/internal/auth"
	"github.com/altrentals/deedgate/internal/casstore"
	"github.com/altrentals/deedgate/internal/config"
	"github.com/altrentals/deedgate/internal/model"
	"github.com/altrentals/deedgate/internal/queue"
	"github.com/altrentals/deedgate/internal/signing"
	"github.com/altrentals/deedgate/internal/storage"
)

type fakePrivate struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakePrivate() *fakePrivate {
	return &fakePrivate{objects: make(map[string][]byte)}
}

func (f *fakePrivate) Put(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakePrivate) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakePublic struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakePublic() *fakePublic {
	return &fakePublic{objects: make(map[string][]byte)}
}

func (f *fakePublic) Add(ctx context.Context, reader io.ReadSeeker, _ int64, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return f.AddBytes(ctx, data, contentType)
}

func (f *fakePublic) AddBytes(_ context.Context, data []byte, _ string) (string, error) {
	addr := casstore.AddressBytes(data)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[addr] = data
	return addr, nil
}

func (f *fakePublic) Get(_ context.Context, addr string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[addr]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeTasks struct {
	mu       sync.Mutex
	extracts []queue.ExtractPayload
	cleanups []queue.CleanupPayload
}

func (f *fakeTasks) EnqueueExtract(_ context.Context, p queue.ExtractPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracts = append(f.extracts, p)
	return nil
}

func (f *fakeTasks) EnqueueCleanup(_ context.Context, p queue.CleanupPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, p)
	return nil
}

// spyRecords counts record creations on top of the in-memory store.
type spyRecords struct {
	RecordStore
	mu      sync.Mutex
	creates int
}

func (s *spyRecords) Create(ctx context.Context, rec *model.FileRecord) error {
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	return s.RecordStore.Create(ctx, rec)
}

type testEnv struct {
	handler  http.Handler
	verifier *auth.Verifier
	records  *spyRecords
	private  *fakePrivate
	public   *fakePublic
	tasks    *fakeTasks
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Address:      ":0",
		MaxFileSize:  1 << 20,
		SignedURLTTL: 5 * time.Minute,
		TokenSecret:  []byte("test-secret"),
	}
	env := &testEnv{
		verifier: auth.NewVerifier(cfg.TokenSecret),
		records:  &spyRecords{RecordStore: storage.NewMemoryStore()},
		private:  newFakePrivate(),
		public:   newFakePublic(),
		tasks:    &fakeTasks{},
	}
	signer := signing.NewSigner(cfg.TokenSecret)
	srv := New(cfg, env.verifier, signer, env.records, env.private, env.public, env.tasks)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) token(t *testing.T, address string, validator bool) string {
	t.Helper()
	token, err := e.verifier.Issue(address, validator, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func multipartBody(t *testing.T, payload *uploadPayload, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		if err := writer.WriteField("payload", string(encoded)); err != nil {
			t.Fatalf("write payload field: %v", err)
		}
	}
	if data != nil {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, method, target, authHeader string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, authHeader string, payload *uploadPayload, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, payload, filename, data)
	return e.do(t, http.MethodPost, "/files", authHeader, body, contentType)
}

func TestPublicUploadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "0xowner", false)
	content := []byte("survey plot 42, public deed")

	resp := env.upload(t, owner, &uploadPayload{FileName: "deed.txt"}, "deed.txt", content)
	if resp.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", resp.Code, resp.Body.String())
	}
	fileID := resp.Body.String()
	if !strings.HasPrefix(fileID, "sha256:") {
		t.Fatalf("public file id %q is not a content address", fileID)
	}

	dl := env.do(t, http.MethodGet, "/files?download=true&fileId="+fileID, "", nil, "")
	if dl.Code != http.StatusOK {
		t.Fatalf("anonymous download status = %d: %s", dl.Code, dl.Body.String())
	}
	if !bytes.Equal(dl.Body.Bytes(), content) {
		t.Errorf("downloaded bytes differ from upload")
	}
	if got := dl.Header().Get("Content-Disposition"); !strings.Contains(got, "deed.txt") {
		t.Errorf("content disposition = %q", got)
	}
}

func TestDuplicatePublicUploadKeepsFirstOwner(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("parcel map, filed twice")

	first := env.upload(t, env.token(t, "0xalice", false), &uploadPayload{FileName: "map.txt"}, "map.txt", content)
	if first.Code != http.StatusOK {
		t.Fatalf("first upload status = %d: %s", first.Code, first.Body.String())
	}
	second := env.upload(t, env.token(t, "0xbob", false), &uploadPayload{FileName: "copy.txt"}, "copy.txt", content)
	if second.Code != http.StatusOK {
		t.Fatalf("second upload status = %d: %s", second.Code, second.Body.String())
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("identical bytes yielded different ids: %q vs %q", first.Body.String(), second.Body.String())
	}

	info := env.do(t, http.MethodGet, "/files?fileId="+first.Body.String(), "", nil, "")
	var rec model.FileRecord
	if err := json.Unmarshal(info.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if rec.Owner != "0xalice" {
		t.Errorf("owner = %q after duplicate upload, want 0xalice", rec.Owner)
	}
	if rec.FileName != "map.txt" {
		t.Errorf("file name = %q after duplicate upload, want map.txt", rec.FileName)
	}
}

func TestUploadJSONRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "0xowner", false)
	doc := []byte(`{"propertyAddress":"123 Main St","askingPrice":250000}`)

	resp := env.do(t, http.MethodPost, "/files?isJson=true", owner, bytes.NewReader(doc), "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", resp.Code, resp.Body.String())
	}
	addr := resp.Body.String()
	if addr != casstore.AddressBytes(doc) {
		t.Errorf("address %q does not match content digest", addr)
	}

	dl := env.do(t, http.MethodGet, "/files?download=true&fileId="+addr, "", nil, "")
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d: %s", dl.Code, dl.Body.String())
	}
	if !bytes.Equal(dl.Body.Bytes(), doc) {
		t.Errorf("downloaded bytes differ from upload")
	}

	anon := env.do(t, http.MethodPost, "/files?isJson=true", "", bytes.NewReader(doc), "application/json")
	if anon.Code != http.StatusUnauthorized {
		t.Errorf("anonymous json upload status = %d, want 401", anon.Code)
	}

	notJSON := env.do(t, http.MethodPost, "/files?isJson=true", owner, strings.NewReader("not json"), "application/json")
	if notJSON.Code != http.StatusBadRequest {
		t.Errorf("invalid json upload status = %d, want 400", notJSON.Code)
	}
}

func TestRestrictedIsolation(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "0xowner", false)
	content := []byte("restricted title deed")

	resp := env.upload(t, owner, &uploadPayload{FileName: "title.txt", Restricted: true}, "title.txt", content)
	if resp.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", resp.Code, resp.Body.String())
	}
	fileID := resp.Body.String()
	if strings.HasPrefix(fileID, "sha256:") {
		t.Fatalf("restricted file id %q should not be a content address", fileID)
	}

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"owner", owner, http.StatusOK},
		{"validator", env.token(t, "0xval", true), http.StatusOK},
		{"stranger", env.token(t, "0xother", false), http.StatusUnauthorized},
		{"anonymous", "", http.StatusUnauthorized},
		{"garbage token", "Bearer nonsense", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		dl := env.do(t, http.MethodGet, "/files?download=true&fileId="+fileID, tc.header, nil, "")
		if dl.Code != tc.want {
			t.Errorf("%s download status = %d, want %d", tc.name, dl.Code, tc.want)
		}
		if tc.want == http.StatusOK && !bytes.Equal(dl.Body.Bytes(), content) {
			t.Errorf("%s downloaded bytes differ from upload", tc.name)
		}
		info := env.do(t, http.MethodGet, "/files?fileId="+fileID, tc.header, nil, "")
		if info.Code != tc.want {
			t.Errorf("%s info status = %d, want %d", tc.name, info.Code, tc.want)
		}
	}

	info := env.do(t, http.MethodGet, "/files?fileId="+fileID, owner, nil, "")
	var rec model.FileRecord
	if err := json.Unmarshal(info.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if rec.FileID != fileID || rec.Owner != "0xowner" || !rec.Restricted {
		t.Errorf("record = %+v", rec)
	}
	if strings.Contains(info.Body.String(), "StoreKey") || strings.Contains(info.Body.String(), "storeKey") {
		t.Errorf("info response leaks the internal store key: %s", info.Body.String())
	}
}

func TestPublishTransition(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "0xowner", false)
	validator := env.token(t, "0xval", true)
	content := []byte("deed pending validation")

	resp := env.upload(t, owner, &uploadPayload{FileName: "deed.txt", Restricted: true}, "deed.txt", content)
	fileID := resp.Body.String()

	pub := env.do(t, http.MethodPost, "/files?publish=true", validator,
		strings.NewReader(fmt.Sprintf(`{"fileId":%q}`, fileID)), "application/json")
	if pub.Code != http.StatusOK {
		t.Fatalf("publish status = %d: %s", pub.Code, pub.Body.String())
	}
	newID := pub.Body.String()
	if !strings.HasPrefix(newID, "sha256:") {
		t.Errorf("published id %q is not a content address", newID)
	}
	if newID == fileID {
		t.Error("publish did not change the file id")
	}

	info := env.do(t, http.MethodGet, "/files?fileId="+newID, "", nil, "")
	if info.Code != http.StatusOK {
		t.Fatalf("anonymous info after publish status = %d", info.Code)
	}
	var rec model.FileRecord
	if err := json.Unmarshal(info.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if rec.Restricted {
		t.Error("published record still restricted")
	}

	dl := env.do(t, http.MethodGet, "/files?download=true&fileId="+newID, "", nil, "")
	if dl.Code != http.StatusOK {
		t.Fatalf("anonymous download after publish status = %d", dl.Code)
	}
	if !bytes.Equal(dl.Body.Bytes(), content) {
		t.Error("published bytes differ from upload")
	}

	old := env.do(t, http.MethodGet, "/files?download=true&fileId="+fileID, "", nil, "")
	if old.Code != http.StatusNotFound {
		t.Errorf("old private id still resolvable: status = %d", old.Code)
	}

	if len(env.tasks.cleanups) != 1 || env.tasks.cleanups[0].StoreKey != fileID {
		t.Errorf("cleanup tasks = %+v", env.tasks.cleanups)
	}
}

func TestPublishOntoExistingAddress(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "0xowner", false)
	validator := env.token(t, "0xval", true)
	content := []byte("deed already on record")

	public := env.upload(t, owner, &uploadPayload{FileName: "deed.txt"}, "deed.txt", content)
	addr := public.Body.String()

	restricted := env.upload(t, owner, &uploadPayload{FileName: "deed.txt", Restricted: true}, "deed.txt", content)
	fileID := restricted.Body.String()

	pub := env.do(t, http.MethodPost, "/files?publish=true", validator,
		strings.NewReader(fmt.Sprintf(`{"fileId":%q}`, fileID)), "application/json")
	if pub.Code != http.StatusOK {
		t.Fatalf("publish of duplicate bytes status = %d: %s", pub.Code, pub.Body.String())
	}
	if pub.Body.String() != addr {
		t.Errorf("published id %q, want existing address %q", pub.Body.String(), addr)
	}

	info := env.do(t, http.MethodGet, "/files?fileId="+addr, "", nil, "")
	var rec model.FileRecord
	if err := json.Unmarshal(info.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if rec.Restricted {
		t.Error("record under the content address became restricted")
	}

	old := env.do(t, http.MethodGet, "/files?download=true&fileId="+fileID, owner, nil, "")
	if old.Code != http.StatusNotFound {
		t.Errorf("retired private id still resolvable: status = %d", old.Code)
	}
	if len(env.tasks.cleanups) != 1 || env.tasks.cleanups[0].StoreKey != fileID {
		t.Errorf("cleanup tasks = %+v", env.tasks.cleanups)
	}
}

func TestPublishUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "0xowner", false)
	resp := env.upload(t, owner, &uploadPayload{FileName: "deed.txt", Restricted: true}, "deed.txt", []byte("deed"))
	fileID := resp.Body.String()

	pub := env.do(t, http.MethodPost, "/files?publish=true", owner,
		strings.NewReader(fmt.Sprintf(`{"fileId":%q}`, fileID)), "application/json")
	if pub.Code != http.StatusUnauthorized {
		t.Fatalf("non-validator publish status = %d, want 401", pub.Code)
	}

	info := env.do(t, http.MethodGet, "/files?fileId="+fileID, owner, nil, "")
	var rec model.FileRecord
	if err := json.Unmarshal(info.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if !rec.Restricted || rec.FileID != fileID {
		t.Errorf("record changed after rejected publish: %+v", rec)
	}
	if len(env.tasks.cleanups) != 0 {
		t.Errorf("cleanup enqueued after rejected publish")
	}
}

func TestPublishNotFound(t *testing.T) {
	env := newTestEnv(t)
	validator := env.token(t, "0xval", true)

	unknown := env.do(t, http.MethodPost, "/files?publish=true", validator,
		strings.NewReader(`{"fileId":"no-such-file"}`), "application/json")
	if unknown.Code != http.StatusNotFound {
		t.Errorf("publish unknown id status = %d, want 404", unknown.Code)
	}

	// A record that is already public cannot be published again.
	owner := env.token(t, "0xowner", false)
	resp := env.upload(t, owner, &uploadPayload{FileName: "deed.txt"}, "deed.txt", []byte("public deed"))
	addr := resp.Body.String()
	again := env.do(t, http.MethodPost, "/files?publish=true", validator,
		strings.NewReader(fmt.Sprintf(`{"fileId":%q}`, addr)), "application/json")
	if again.Code != http.StatusNotFound {
		t.Errorf("publish of public record status = %d, want 404", again.Code)
	}

	missing := env.do(t, http.MethodPost, "/files?publish=true", validator,
		strings.NewReader(`{}`), "application/json")
	if missing.Code != http.StatusBadRequest {
		t.Errorf("publish without fileId status = %d, want 400", missing.Code)
	}
}

func TestUnknownID(t *testing.T) {
	env := newTestEnv(t)
	for name, target := range map[string]string{
		"download": "/files?download=true&fileId=no-such-file",
		"info":     "/files?fileId=no-such-file",
	} {
		resp := env.do(t, http.MethodGet, target, "", nil, "")
		if resp.Code != http.StatusNotFound {
			t.Errorf("%s unknown id status = %d, want 404", name, resp.Code)
		}
	}
	// A well-formed content address with no bytes behind it is still 404.
	ghost := casstore.AddressBytes([]byte("never uploaded"))
	resp := env.do(t, http.MethodGet, "/files?download=true&fileId="+ghost, "", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Errorf("ghost address status = %d, want 404", resp.Code)
	}

	missing := env.do(t, http.MethodGet, "/files?download=true", "", nil, "")
	if missing.Code != http.StatusBadRequest {
		t.Errorf("missing fileId status = %d, want 400", missing.Code)
	}
}

func TestAnonymousUploadRejected(t *testing.T) {
	env := newTestEnv(t)
	resp := env.upload(t, "", &uploadPayload{FileName: "deed.txt", Restricted: true}, "deed.txt", []byte("deed"))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous upload status = %d, want 401", resp.Code)
	}
	if env.records.creates != 0 {
		t.Errorf("anonymous upload created %d records", env.records.creates)
	}
}

func TestUploadMissingParts(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "0xowner", false)

	noFile := env.upload(t, owner, &uploadPayload{FileName: "deed.txt"}, "", nil)
	if noFile.Code != http.StatusBadRequest {
		t.Errorf("upload without file part status = %d, want 400", noFile.Code)
	}
	noPayload := env.upload(t, owner, nil, "deed.txt", []byte("deed"))
	if noPayload.Code != http.StatusBadRequest {
		t.Errorf("upload without payload part status = %d, want 400", noPayload.Code)
	}
	notMultipart := env.do(t, http.MethodPost, "/files", owner, strings.NewReader("raw"), "text/plain")
	if notMultipart.Code != http.StatusBadRequest {
		t.Errorf("non-multipart upload status = %d, want 400", notMultipart.Code)
	}
	if env.records.creates != 0 {
		t.Errorf("malformed uploads created %d records", env.records.creates)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPut, "/files", "", nil, "")
	if resp.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT status = %d, want 405", resp.Code)
	}
}

func TestSignedURL(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "0xowner", false)
	content := []byte("shared during closing")

	resp := env.upload(t, owner, &uploadPayload{FileName: "deed.txt", Restricted: true}, "deed.txt", content)
	fileID := resp.Body.String()

	denied := env.do(t, http.MethodGet, "/files?signedUrl=true&fileId="+fileID, env.token(t, "0xother", false), nil, "")
	if denied.Code != http.StatusUnauthorized {
		t.Errorf("stranger signed-url status = %d, want 401", denied.Code)
	}

	minted := env.do(t, http.MethodGet, "/files?signedUrl=true&fileId="+fileID, owner, nil, "")
	if minted.Code != http.StatusOK {
		t.Fatalf("signed-url status = %d: %s", minted.Code, minted.Body.String())
	}
	var signed struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(minted.Body.Bytes(), &signed); err != nil {
		t.Fatalf("decode signed url: %v", err)
	}

	dl := env.do(t, http.MethodGet, signed.URL, "", nil, "")
	if dl.Code != http.StatusOK {
		t.Fatalf("signed download status = %d: %s", dl.Code, dl.Body.String())
	}
	if !bytes.Equal(dl.Body.Bytes(), content) {
		t.Error("signed download bytes differ from upload")
	}

	tampered := env.do(t, http.MethodGet, strings.Replace(signed.URL, "signature=", "signature=00", 1), "", nil, "")
	if tampered.Code != http.StatusUnauthorized {
		t.Errorf("tampered signature status = %d, want 401", tampered.Code)
	}
}

func TestRestrictedPDFQueuesExtraction(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "0xowner", false)
	// Minimal PDF header so content sniffing reports application/pdf.
	content := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 64)...)

	resp := env.upload(t, owner, &uploadPayload{FileName: "deed.pdf", Restricted: true}, "deed.pdf", content)
	if resp.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", resp.Code, resp.Body.String())
	}
	fileID := resp.Body.String()
	if len(env.tasks.extracts) != 1 || env.tasks.extracts[0].FileID != fileID {
		t.Errorf("extract tasks = %+v", env.tasks.extracts)
	}
}
