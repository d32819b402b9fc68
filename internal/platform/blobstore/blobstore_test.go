package blobstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func uploadText(t *testing.T, store BlobStore, name, content string) *BlobMetadata {
	t.Helper()
	meta, err := store.Upload(context.Background(), BlobMetadata{FileName: name, ContentType: "application/pdf"}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return meta
}

func stores(t *testing.T) map[string]BlobStore {
	dir, err := NewDirBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirBlobStore: %v", err)
	}
	return map[string]BlobStore{"memory": NewInMemoryBlobStore(), "dir": dir}
}

func TestBlobStore_RoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			meta := uploadText(t, store, "../scan.pdf", "%PDF-1.4")
			if meta.ID == "" || meta.Hash == "" || meta.Size != 8 {
				t.Fatalf("unexpected metadata: %+v", meta)
			}
			if meta.FileName != "scan.pdf" {
				t.Errorf("expected directory part stripped, got %q", meta.FileName)
			}

			rc, got, err := store.Download(context.Background(), meta.ID)
			if err != nil {
				t.Fatalf("Download: %v", err)
			}
			defer rc.Close()
			body, _ := io.ReadAll(rc)
			if string(body) != "%PDF-1.4" || got.FileName != "scan.pdf" {
				t.Errorf("unexpected download %q %+v", body, got)
			}

			if err := store.Delete(context.Background(), meta.ID); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := store.GetMetadata(context.Background(), meta.ID); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
			}
		})
	}
}

func TestBlobStore_Validation(t *testing.T) {
	store := NewInMemoryBlobStore()
	ctx := context.Background()

	if _, err := store.Upload(ctx, BlobMetadata{}, strings.NewReader("x")); !errors.Is(err, ErrMissingFileName) {
		t.Errorf("expected ErrMissingFileName, got %v", err)
	}
	if _, err := store.Upload(ctx, BlobMetadata{FileName: "a.exe", ContentType: "application/x-msdownload"}, strings.NewReader("x")); !errors.Is(err, ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
	big := strings.NewReader(strings.Repeat("a", MaxFileSize+1))
	if _, err := store.Upload(ctx, BlobMetadata{FileName: "big.pdf", ContentType: "application/pdf"}, big); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestDirBlobStore_RejectsPathIDs(t *testing.T) {
	store, err := NewDirBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetMetadata(context.Background(), "../../etc/passwd"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestBlobHandler_Download(t *testing.T) {
	store := NewInMemoryBlobStore()
	meta := uploadText(t, store, "contract.pdf", "scan-bytes")
	h := NewBlobHandler(store)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(meta.ID)

	if err := h.handleDownload(c); err != nil {
		t.Fatalf("handleDownload: %v", err)
	}
	if rec.Body.String() != "scan-bytes" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "contract.pdf") {
		t.Errorf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
}

func TestBlobHandler_NotFound(t *testing.T) {
	h := NewBlobHandler(NewInMemoryBlobStore())
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")

	err := h.handleGetMetadata(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
