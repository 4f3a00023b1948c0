package app

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestUploadRejectsUnknownType(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.app.Upload(context.Background(), "video", "clip.mp4", strings.NewReader("x"), 1)
	if !errors.Is(err, ErrInvalidUploadType) {
		t.Fatalf("expected ErrInvalidUploadType, got %v", err)
	}
	if len(fx.objects.data) != 0 {
		t.Fatalf("nothing should be stored")
	}
}

func TestUploadStoresUnderCategory(t *testing.T) {
	fx := newFixture(t)
	url, err := fx.app.Upload(context.Background(), "student", "My Photo (1).JPG", strings.NewReader("jpeg"), 4)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(fx.objects.data) != 1 {
		t.Fatalf("expected one stored object, got %d", len(fx.objects.data))
	}
	for key, body := range fx.objects.data {
		if !strings.HasPrefix(key, "student/") || !strings.HasSuffix(key, "-My_Photo_1_.JPG") {
			t.Fatalf("unexpected key %q", key)
		}
		if string(body) != "jpeg" || fx.objects.ct[key] != "image/jpeg" {
			t.Fatalf("unexpected body/content type: %q %q", body, fx.objects.ct[key])
		}
		if url != "http://media.test/"+key {
			t.Fatalf("url = %q", url)
		}
	}
}

func TestUploadRemovesBlobWhenURLFails(t *testing.T) {
	fx := newFixture(t)
	fx.objects.urlErr = errors.New("presign unavailable")
	_, err := fx.app.Upload(context.Background(), "device", "phone.png", strings.NewReader("png"), 3)
	if err == nil || !strings.Contains(err.Error(), "presign unavailable") {
		t.Fatalf("expected url error, got %v", err)
	}
	if len(fx.objects.data) != 0 {
		t.Fatalf("orphaned blob left behind: %d objects", len(fx.objects.data))
	}
	if len(fx.objects.deleted) != 1 || !strings.HasPrefix(fx.objects.deleted[0], "device/") {
		t.Fatalf("unexpected deletes: %v", fx.objects.deleted)
	}
}

func TestUploadRequiresFile(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.app.Upload(context.Background(), "device", "", nil, 0); !errors.Is(err, ErrFileRequired) {
		t.Fatalf("expected ErrFileRequired, got %v", err)
	}
}

func TestUploadKeysAreUnique(t *testing.T) {
	a := uploadKey("device", "phone.png")
	b := uploadKey("device", "phone.png")
	if a == b {
		t.Fatalf("keys should differ, both %q", a)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"photo.jpg":          "photo.jpg",
		"  spaced name.png ": "spaced_name.png",
		"..hidden":           "hidden",
		"学生照片.jpg":           "jpg",
		"a//b\\c":            "a_b_c",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	long := strings.Repeat("n", 150) + ".jpeg"
	if got := sanitizeFilename(long); len(got) != maxStoredNameLen || !strings.HasSuffix(got, ".jpeg") {
		t.Fatalf("long name not truncated with extension: %q", got)
	}
}

func TestContentTypeFallback(t *testing.T) {
	if got := contentTypeFor("blob.unknownext"); got != "application/octet-stream" {
		t.Fatalf("fallback content type = %q", got)
	}
}
