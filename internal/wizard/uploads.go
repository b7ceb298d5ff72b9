package wizard

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/solarquote/cotizador/internal/platform/httpx"
)

// BillField is the multipart field carrying electricity bills.
const BillField = "bill"

var allowedBillTypes = map[string][]string{
	"pdf":  {"application/pdf"},
	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"png":  {"image/png"},
}

// BillStorage validates and stores uploaded bills below a media root.
type BillStorage struct {
	root     string
	maxBytes int64
	now      func() time.Time
}

// NewBillStorage constructs a BillStorage.
func NewBillStorage(root string, maxBytes int64) *BillStorage {
	return &BillStorage{root: root, maxBytes: maxBytes, now: time.Now}
}

// Validate checks every file before anything is stored.
func (b *BillStorage) Validate(files []*multipart.FileHeader) error {
	for _, fh := range files {
		if fh.Size > b.maxBytes {
			return httpx.FieldErrors{BillField: fmt.Sprintf("%s exceeds the maximum size of %d MB", fh.Filename, b.maxBytes>>20)}
		}
		ext := extension(fh.Filename)
		allowed, ok := allowedBillTypes[ext]
		if !ok {
			return httpx.FieldErrors{BillField: fmt.Sprintf("%s has an unsupported format; use PDF, JPG or PNG", fh.Filename)}
		}
		detected, err := detect(fh)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", fh.Filename, err)
		}
		if !mimetype.EqualsAny(detected, allowed...) {
			return httpx.FieldErrors{BillField: fmt.Sprintf("%s content does not match its extension", fh.Filename)}
		}
	}
	return nil
}

// Save writes files to bills/YYYY/MM/<uuid>.<ext>. Validate must have
// accepted them first.
func (b *BillStorage) Save(files []*multipart.FileHeader) ([]StoredFile, error) {
	now := b.now()
	dir := path.Join("bills", now.Format("2006"), now.Format("01"))
	if err := os.MkdirAll(filepath.Join(b.root, filepath.FromSlash(dir)), 0o755); err != nil {
		return nil, fmt.Errorf("create bill directory: %w", err)
	}
	stored := make([]StoredFile, 0, len(files))
	for _, fh := range files {
		ext := extension(fh.Filename)
		rel := path.Join(dir, uuid.NewString()+"."+ext)
		if err := b.copy(fh, filepath.Join(b.root, filepath.FromSlash(rel))); err != nil {
			return nil, err
		}
		mime, _ := detect(fh)
		stored = append(stored, StoredFile{
			Path:         rel,
			OriginalName: filepath.Base(fh.Filename),
			SizeBytes:    fh.Size,
			MimeType:     mime,
		})
	}
	return stored, nil
}

func (b *BillStorage) copy(fh *multipart.FileHeader, dest string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create bill file: %w", err)
	}
	if _, err := io.Copy(out, io.LimitReader(src, b.maxBytes)); err != nil {
		out.Close()
		return fmt.Errorf("write bill file: %w", err)
	}
	return out.Close()
}

func detect(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	mime, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	return mime.String(), nil
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
