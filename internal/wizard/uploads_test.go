package wizard

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarquote/cotizador/internal/platform/httpx"
)

var (
	pdfContent = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")
	pngContent = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
)

type upload struct {
	name    string
	content []byte
}

// multipartRequest builds a parsed multipart request with the given fields
// and bill uploads.
func multipartRequest(t *testing.T, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(BillField, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/wizard/step2", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func billHeaders(t *testing.T, files ...upload) []*multipart.FileHeader {
	t.Helper()
	req := multipartRequest(t, nil, files...)
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File[BillField]
}

func TestBillStorageSavesUnderDatedDirectory(t *testing.T) {
	root := t.TempDir()
	storage := NewBillStorage(root, 10<<20)
	storage.now = func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) }

	files := billHeaders(t, upload{"Boleta Marzo.PDF", pdfContent}, upload{"foto.png", pngContent})
	require.NoError(t, storage.Validate(files))
	stored, err := storage.Save(files)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	assert.True(t, strings.HasPrefix(stored[0].Path, "bills/2026/03/"))
	assert.True(t, strings.HasSuffix(stored[0].Path, ".pdf"))
	assert.Equal(t, "Boleta Marzo.PDF", stored[0].OriginalName)
	assert.Equal(t, "application/pdf", stored[0].MimeType)
	assert.Equal(t, int64(len(pdfContent)), stored[0].SizeBytes)
	assert.Equal(t, "image/png", stored[1].MimeType)

	written, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(stored[0].Path)))
	require.NoError(t, err)
	assert.Equal(t, pdfContent, written)
}

func TestBillStorageRejectsBatch(t *testing.T) {
	cases := []struct {
		name  string
		max   int64
		files []upload
	}{
		{"oversized", 16, []upload{{"a.pdf", pdfContent}}},
		{"extension", 10 << 20, []upload{{"a.pdf", pdfContent}, {"b.docx", pdfContent}}},
		{"content mismatch", 10 << 20, []upload{{"a.png", pdfContent}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			storage := NewBillStorage(t.TempDir(), tc.max)
			err := storage.Validate(billHeaders(t, tc.files...))
			var fields httpx.FieldErrors
			require.ErrorAs(t, err, &fields)
			assert.Contains(t, fields, BillField)
		})
	}
}
