package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/store"
)

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ImageStore keeps uploaded images on disk.
type ImageStore struct {
	dir     string
	baseURL string
}

func NewImageStore(dir, baseURL string) (*ImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &ImageStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// URL is where an image is served from.
func (s *ImageStore) URL(fileName string) string {
	return s.baseURL + "/images/" + fileName
}

func (s *ImageStore) path(fileName string) (string, error) {
	if fileName == "" || fileName != filepath.Base(fileName) || strings.HasPrefix(fileName, ".") {
		return "", errors.New("invalid file name")
	}
	return filepath.Join(s.dir, fileName), nil
}

func (s *ImageStore) save(fileName string, data []byte) error {
	p, err := s.path(fileName)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// UploadImage handles POST /images
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxImageSize+1<<20)
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"image\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxImageSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}
	if int64(len(data)) > h.cfg.MaxImageSize {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported image type")
		return
	}

	fileName := uuid.New().String() + ext
	if err := h.images.save(fileName, data); err != nil {
		h.internalError(w, r, err, "failed to store image")
		return
	}

	img := &store.Image{
		FileName:    fileName,
		Owner:       GetAddressFromContext(r.Context()),
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	if err := h.store.CreateImage(r.Context(), img); err != nil {
		h.internalError(w, r, err, "failed to store image")
		return
	}

	writeData(w, http.StatusCreated, forum.UploadedImage{
		FileName:    fileName,
		URL:         h.images.URL(fileName),
		ContentType: contentType,
	}, nil)
}

// ServeImage handles GET /images/{fileName}
func (h *Handler) ServeImage(w http.ResponseWriter, r *http.Request) {
	fileName := r.PathValue("fileName")
	img, err := h.store.GetImage(r.Context(), fileName)
	if err != nil {
		h.internalError(w, r, err, "failed to look up image")
		return
	}
	if img == nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}

	p, err := h.images.path(fileName)
	if err != nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	f, err := os.Open(p)
	if err != nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, fileName, img.CreatedAt, f)
}
