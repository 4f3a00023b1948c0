package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"checkpoint/internal/util"
	"checkpoint/pkg/domain"

	"github.com/google/uuid"
)

const maxStoredNameLen = 100

// Upload stores a photo under the given category and returns its public URL.
func (a *App) Upload(ctx context.Context, category, filename string, r io.Reader, size int64) (string, error) {
	cat := domain.UploadCategory(strings.TrimSpace(category))
	if cat != domain.UploadStudent && cat != domain.UploadDevice {
		return "", ErrInvalidUploadType
	}
	if r == nil {
		return "", ErrFileRequired
	}
	if a.objects == nil {
		return "", errors.New("upload storage not configured")
	}
	key := uploadKey(cat, filename)
	if err := a.objects.Put(ctx, key, r, size, contentTypeFor(filename)); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	url, err := a.objects.URL(ctx, key)
	if err != nil {
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			util.LoggerFromContext(ctx).Warn("remove orphaned upload failed", "key", key, "err", delErr)
		}
		return "", fmt.Errorf("resolve upload url: %w", err)
	}
	return url, nil
}

// uploadKey returns "{category}/{uuid}-{name}" so two uploads never collide.
func uploadKey(cat domain.UploadCategory, filename string) string {
	name := sanitizeFilename(path.Base(strings.ReplaceAll(filename, `\`, "/")))
	if name == "" || name == "." {
		name = "upload"
	}
	return string(cat) + "/" + uuid.NewString() + "-" + name
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// sanitizeFilename keeps ASCII letters, digits, dot, dash and underscore and
// collapses every other run of characters into one underscore.
func sanitizeFilename(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.TrimSpace(name) {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_'
		if !ok {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}
	out := strings.TrimLeft(b.String(), ".")
	if len(out) > maxStoredNameLen {
		ext := path.Ext(out)
		if len(ext) > 10 {
			ext = ""
		}
		out = out[:maxStoredNameLen-len(ext)] + ext
	}
	return out
}
