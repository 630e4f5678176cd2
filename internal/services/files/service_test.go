package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/tgvault/internal/domain"
)

type fakeRetriever struct {
	paths     map[string]string
	content   []byte
	err       error
	downloads []string
}

func (f *fakeRetriever) Download(_ context.Context, fileID string) ([]byte, string, error) {
	f.downloads = append(f.downloads, fileID)
	if f.err != nil {
		return nil, "", f.err
	}
	path, ok := f.paths[fileID]
	if !ok {
		return nil, "", fmt.Errorf("no file_path for file_id %s", fileID)
	}
	name := path
	if idx := lastSlash(path); idx >= 0 {
		name = path[idx+1:]
	}
	return f.content, name, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

type storedObject struct {
	content     []byte
	contentType string
}

type fakeStorage struct {
	objects map[string]storedObject
	putErr  error
}

func (f *fakeStorage) EnsureBucket(_ context.Context) error {
	return nil
}

func (f *fakeStorage) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	content, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = map[string]storedObject{}
	}
	f.objects[key] = storedObject{content: content, contentType: contentType}
	return nil
}

func (f *fakeStorage) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.local/" + key, nil
}

type fakeStore struct {
	rows    []domain.StoredFile
	saveErr error
}

func (f *fakeStore) SaveFile(_ context.Context, file domain.StoredFile) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.rows = append(f.rows, file)
	return nil
}

func (f *fakeStore) ListFiles(_ context.Context, userID string) ([]domain.StoredFile, error) {
	out := make([]domain.StoredFile, 0, len(f.rows))
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func newTestService(retriever *fakeRetriever, storage *fakeStorage, store *fakeStore, at time.Time) *Service {
	svc := NewService(retriever, storage, store, zap.NewNop())
	svc.now = func() time.Time { return at }
	return svc
}

const photoUpdateBody = `{"message": {"message_id": 5001, "chat": {"id": 123456, "type": "private"}, "photo": [{"file_id": "FILE123", "width": 90, "height": 90}]}}`

func TestHandleRecordSkipsEmptyBody(t *testing.T) {
	storage := &fakeStorage{}
	store := &fakeStore{}
	svc := newTestService(&fakeRetriever{}, storage, store, time.Now())

	if err := svc.HandleRecord(context.Background(), []byte("  ")); err != nil {
		t.Fatalf("empty body must be skipped without error, got %v", err)
	}
	if len(storage.objects) != 0 || len(store.rows) != 0 {
		t.Fatalf("empty body must produce no side effects")
	}
}

func TestHandleRecordSkipsMalformedJSONWithoutFailingOthers(t *testing.T) {
	retriever := &fakeRetriever{
		paths:   map[string]string{"FILE123": "documents/testfile.jpg"},
		content: []byte{0x89, 0x50, 0x4e, 0x47},
	}
	storage := &fakeStorage{}
	store := &fakeStore{}
	svc := newTestService(retriever, storage, store, time.Now())

	if err := svc.HandleRecord(context.Background(), []byte(`{not json`)); err != nil {
		t.Fatalf("malformed json must be skipped without error, got %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatalf("malformed json must not produce metadata rows")
	}

	// The next record in the same batch still processes.
	if err := svc.HandleRecord(context.Background(), []byte(photoUpdateBody)); err != nil {
		t.Fatalf("valid record after malformed one: %v", err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected 1 metadata row, got %d", len(store.rows))
	}
}

func TestHandleRecordNoMessageIsNoOp(t *testing.T) {
	storage := &fakeStorage{}
	store := &fakeStore{}
	svc := newTestService(&fakeRetriever{}, storage, store, time.Now())

	bodies := []string{
		`{"update_id": 1}`,
		`{"message": {"message_id": 7, "chat": {"id": 0}}}`,
		`{"message": {"chat": {"id": 5}}}`,
		`{"message": {"message_id": 7, "chat": {"id": 5}, "text": "hello"}}`,
	}
	for _, body := range bodies {
		if err := svc.HandleRecord(context.Background(), []byte(body)); err != nil {
			t.Fatalf("body %s: expected no-op, got %v", body, err)
		}
	}
	if len(storage.objects) != 0 || len(store.rows) != 0 {
		t.Fatalf("no-op updates must produce zero uploads and zero rows")
	}
}

func TestPhotoUsesLastSizeVariant(t *testing.T) {
	retriever := &fakeRetriever{
		paths:   map[string]string{"BIG": "photos/big.jpg"},
		content: []byte("bytes"),
	}
	svc := newTestService(retriever, &fakeStorage{}, &fakeStore{}, time.Now())

	body := `{"message": {"message_id": 9, "chat": {"id": 42}, "photo": [{"file_id": "SMALL"}, {"file_id": "MEDIUM"}, {"file_id": "BIG"}]}}`
	if err := svc.HandleRecord(context.Background(), []byte(body)); err != nil {
		t.Fatalf("handle record: %v", err)
	}

	if len(retriever.downloads) != 1 || retriever.downloads[0] != "BIG" {
		t.Fatalf("expected exactly the last variant downloaded, got %v", retriever.downloads)
	}
}

func TestPhotoRoundTrip(t *testing.T) {
	content := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	retriever := &fakeRetriever{
		paths:   map[string]string{"FILE123": "documents/testfile.jpg"},
		content: content,
	}
	storage := &fakeStorage{}
	store := &fakeStore{}
	at := time.Date(2024, 1, 31, 12, 0, 59, 0, time.UTC)
	svc := newTestService(retriever, storage, store, at)

	if err := svc.HandleRecord(context.Background(), []byte(photoUpdateBody)); err != nil {
		t.Fatalf("handle record: %v", err)
	}

	wantKey := "123456/5001_20240131T120059Z_testfile.jpg"
	obj, ok := storage.objects[wantKey]
	if !ok {
		t.Fatalf("object %q not stored, have %v", wantKey, keys(storage.objects))
	}
	if string(obj.content) != string(content) {
		t.Fatalf("stored content mismatch")
	}
	if obj.contentType != "image/jpeg" {
		t.Fatalf("unexpected content type: %q", obj.contentType)
	}

	if len(store.rows) != 1 {
		t.Fatalf("expected 1 metadata row, got %d", len(store.rows))
	}
	row := store.rows[0]
	if row.UserID != "123456" {
		t.Fatalf("unexpected user_id: %q", row.UserID)
	}
	if row.SortKey != fmt.Sprintf("file#5001#%d", at.Unix()) {
		t.Fatalf("unexpected sort_key: %q", row.SortKey)
	}
	if row.ObjectKey != wantKey {
		t.Fatalf("unexpected s3_key: %q", row.ObjectKey)
	}
	if row.FileName != "testfile.jpg" {
		t.Fatalf("unexpected file_name: %q", row.FileName)
	}
	if row.MimeType != "image/jpeg" {
		t.Fatalf("unexpected mime_type: %q", row.MimeType)
	}
	if row.TelegramFileID != "FILE123" {
		t.Fatalf("unexpected telegram_file_id: %q", row.TelegramFileID)
	}
}

func TestDocumentUsesSuppliedFilename(t *testing.T) {
	retriever := &fakeRetriever{
		paths:   map[string]string{"DOC1": "documents/abcdef.bin"},
		content: []byte("doc-bytes"),
	}
	storage := &fakeStorage{}
	store := &fakeStore{}
	at := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	svc := newTestService(retriever, storage, store, at)

	body := `{"message": {"message_id": 11, "chat": {"id": 77}, "document": {"file_id": "DOC1", "file_name": "report.pdf", "mime_type": "application/pdf"}}}`
	if err := svc.HandleRecord(context.Background(), []byte(body)); err != nil {
		t.Fatalf("handle record: %v", err)
	}

	wantKey := "77/11_20240601T083000Z_report.pdf"
	obj, ok := storage.objects[wantKey]
	if !ok {
		t.Fatalf("object %q not stored, have %v", wantKey, keys(storage.objects))
	}
	if obj.contentType != "application/pdf" {
		t.Fatalf("unexpected content type: %q", obj.contentType)
	}
	if store.rows[0].FileName != "report.pdf" {
		t.Fatalf("unexpected file_name: %q", store.rows[0].FileName)
	}
	if store.rows[0].MimeType != "application/pdf" {
		t.Fatalf("unexpected mime_type: %q", store.rows[0].MimeType)
	}
}

func TestDocumentFallsBackToDownloadedFilename(t *testing.T) {
	retriever := &fakeRetriever{
		paths:   map[string]string{"DOC2": "documents/remote_name.dat"},
		content: []byte("doc-bytes"),
	}
	storage := &fakeStorage{}
	store := &fakeStore{}
	svc := newTestService(retriever, storage, store, time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC))

	body := `{"message": {"message_id": 12, "chat": {"id": 77}, "document": {"file_id": "DOC2"}}}`
	if err := svc.HandleRecord(context.Background(), []byte(body)); err != nil {
		t.Fatalf("handle record: %v", err)
	}

	if len(store.rows) != 1 {
		t.Fatalf("expected 1 metadata row, got %d", len(store.rows))
	}
	if store.rows[0].FileName != "remote_name.dat" {
		t.Fatalf("filename must derive from download path, got %q", store.rows[0].FileName)
	}
	if store.rows[0].MimeType != "" {
		t.Fatalf("mime_type must be empty when unknown, got %q", store.rows[0].MimeType)
	}
}

func TestEditedMessageIsProcessed(t *testing.T) {
	retriever := &fakeRetriever{
		paths:   map[string]string{"FILE9": "photos/edited.jpg"},
		content: []byte("x"),
	}
	store := &fakeStore{}
	svc := newTestService(retriever, &fakeStorage{}, store, time.Now())

	body := `{"edited_message": {"message_id": 3, "chat": {"id": 8}, "photo": [{"file_id": "FILE9"}]}}`
	if err := svc.HandleRecord(context.Background(), []byte(body)); err != nil {
		t.Fatalf("handle record: %v", err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("edited_message must be processed, got %d rows", len(store.rows))
	}
}

func TestRedeliveryIsNotIdempotent(t *testing.T) {
	retriever := &fakeRetriever{
		paths:   map[string]string{"FILE123": "documents/testfile.jpg"},
		content: []byte("x"),
	}
	storage := &fakeStorage{}
	store := &fakeStore{}
	svc := NewService(retriever, storage, store, zap.NewNop())

	first := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }
	if err := svc.HandleRecord(context.Background(), []byte(photoUpdateBody)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	svc.now = func() time.Time { return first.Add(3 * time.Second) }
	if err := svc.HandleRecord(context.Background(), []byte(photoUpdateBody)); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if len(store.rows) != 2 {
		t.Fatalf("redelivery must produce a second row, got %d", len(store.rows))
	}
	if store.rows[0].SortKey == store.rows[1].SortKey {
		t.Fatalf("sort keys must differ across redeliveries with different timestamps")
	}
	if len(storage.objects) != 2 {
		t.Fatalf("redelivery must store a second object, got %d", len(storage.objects))
	}
}

func TestDownloadFailureLeavesRecordForRedelivery(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("getFile: connection refused")}
	storage := &fakeStorage{}
	store := &fakeStore{}
	svc := newTestService(retriever, storage, store, time.Now())

	err := svc.HandleRecord(context.Background(), []byte(photoUpdateBody))
	if err == nil {
		t.Fatalf("download failure must propagate for redelivery")
	}
	if len(storage.objects) != 0 || len(store.rows) != 0 {
		t.Fatalf("download failure must leave no side effects")
	}
}

func TestUploadFailureLeavesRecordForRedelivery(t *testing.T) {
	retriever := &fakeRetriever{
		paths:   map[string]string{"FILE123": "documents/testfile.jpg"},
		content: []byte("x"),
	}
	storage := &fakeStorage{putErr: errors.New("s3 unavailable")}
	store := &fakeStore{}
	svc := newTestService(retriever, storage, store, time.Now())

	if err := svc.HandleRecord(context.Background(), []byte(photoUpdateBody)); err == nil {
		t.Fatalf("upload failure must propagate for redelivery")
	}
	if len(store.rows) != 0 {
		t.Fatalf("upload failure must not write metadata")
	}
}

func TestMetadataFailureLeavesOrphanedObject(t *testing.T) {
	retriever := &fakeRetriever{
		paths:   map[string]string{"FILE123": "documents/testfile.jpg"},
		content: []byte("x"),
	}
	storage := &fakeStorage{}
	store := &fakeStore{saveErr: errors.New("table unavailable")}
	svc := newTestService(retriever, storage, store, time.Now())

	if err := svc.HandleRecord(context.Background(), []byte(photoUpdateBody)); err != nil {
		t.Fatalf("metadata failure must not fail the record, got %v", err)
	}
	if len(storage.objects) != 1 {
		t.Fatalf("uploaded object must remain, got %d", len(storage.objects))
	}
	if len(store.rows) != 0 {
		t.Fatalf("no metadata row expected")
	}
}

func TestListStoredFilesPresignsURLs(t *testing.T) {
	store := &fakeStore{rows: []domain.StoredFile{
		{UserID: "42", ObjectKey: "42/1_x_a.jpg", FileName: "a.jpg", MimeType: "image/jpeg"},
		{UserID: "43", ObjectKey: "43/1_x_b.jpg", FileName: "b.jpg"},
	}}
	svc := newTestService(&fakeRetriever{}, &fakeStorage{}, store, time.Now())

	views, err := svc.ListStoredFiles(context.Background(), 42)
	if err != nil {
		t.Fatalf("list stored files: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	if views[0].URL != "https://signed.local/42/1_x_a.jpg" {
		t.Fatalf("unexpected presigned url: %q", views[0].URL)
	}
}

func keys(m map[string]storedObject) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
