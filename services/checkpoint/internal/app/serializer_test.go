package app

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"checkpoint/pkg/domain"
)

const validBody = `{
	"studentId": "S-77",
	"studentName": "  Jane Doe ",
	"className": "7A",
	"studentPhoto": "https://media.test/student/a.jpg",
	"devicePhotos": ["https://media.test/device/a.jpg"],
	"deviceDescription": "grey tablet",
	"checkInTime": "1999-01-01T00:00:00Z",
	"recordId": "ignored"
}`

func validationFields(t *testing.T, err error) map[string][]string {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	return verr.Fields
}

func TestDecodeCheckInValid(t *testing.T) {
	p, err := DecodeCheckIn([]byte(validBody))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.StudentID != "S-77" || p.Name != "Jane Doe" || p.ClassName != "7A" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if len(p.DevicePhotos) != 1 || p.Status != "" {
		t.Fatalf("unexpected photos/status: %+v", p)
	}
}

func TestDecodeCheckInReportsEveryMissingField(t *testing.T) {
	fields := validationFields(t, func() error { _, err := DecodeCheckIn([]byte(`{}`)); return err }())
	for _, name := range []string{"studentId", "studentName", "className", "studentPhoto", "devicePhotos", "deviceDescription"} {
		msgs := fields[name]
		if len(msgs) != 1 || msgs[0] != msgRequired {
			t.Fatalf("%s: expected required message, got %v", name, msgs)
		}
	}
}

func TestDecodeCheckInFieldErrors(t *testing.T) {
	base := map[string]any{}
	if err := json.Unmarshal([]byte(validBody), &base); err != nil {
		t.Fatalf("base body: %v", err)
	}
	cases := []struct {
		name  string
		field string
		value any
	}{
		{"relative photo url", "studentPhoto", "/media/a.jpg"},
		{"ftp photo url", "studentPhoto", "ftp://media.test/a.jpg"},
		{"photos not a list", "devicePhotos", "https://media.test/a.jpg"},
		{"photos with numbers", "devicePhotos", []any{"ok", 3}},
		{"unknown status", "status", "gone"},
		{"student id too long", "studentId", strings.Repeat("x", 51)},
		{"name too long", "studentName", strings.Repeat("y", 201)},
		{"blank class", "className", "   "},
		{"null description", "deviceDescription", nil},
		{"boolean student id", "studentId", true},
		{"object class", "className", map[string]any{"grade": 7}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := map[string]any{}
			for k, v := range base {
				body[k] = v
			}
			body[tc.field] = tc.value
			raw, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			_, err = DecodeCheckIn(raw)
			fields := validationFields(t, err)
			if len(fields[tc.field]) == 0 || len(fields) != 1 {
				t.Fatalf("expected a single error on %s, got %v", tc.field, fields)
			}
		})
	}
}

func TestDecodeCheckInCoercesNumbers(t *testing.T) {
	body := strings.Replace(validBody, `"studentId": "S-77"`, `"studentId": 12345`, 1)
	body = strings.Replace(body, `"className": "7A"`, `"className": 7.5`, 1)
	p, err := DecodeCheckIn([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.StudentID != "12345" || p.ClassName != "7.5" {
		t.Fatalf("numbers should become strings: %+v", p)
	}
}

func TestDecodeCheckInAcceptsKnownStatus(t *testing.T) {
	body := strings.Replace(validBody, `"className"`, `"status": "checked-out", "className"`, 1)
	p, err := DecodeCheckIn([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status != domain.StatusCheckedOut {
		t.Fatalf("status = %q", p.Status)
	}
}

func TestDecodeCheckInNonObject(t *testing.T) {
	for _, body := range []string{`[]`, `"text"`, ``, `{"studentId":`} {
		fields := validationFields(t, func() error { _, err := DecodeCheckIn([]byte(body)); return err }())
		if len(fields[NonFieldErrors]) == 0 {
			t.Fatalf("body %q: expected non_field_errors, got %v", body, fields)
		}
	}
}

func TestStudentResourceJSON(t *testing.T) {
	in := domain.Student{
		ID:          "id-1",
		StudentID:   "S-1",
		RecordID:    "rec-1",
		Name:        "Jane",
		ClassName:   "7A",
		CheckInTime: time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC),
		Status:      domain.StatusCheckedIn,
	}
	raw, err := json.Marshal(NewStudentResource(in))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := out["checkOutTime"]; !ok || v != nil {
		t.Fatalf("checkOutTime should be null, got %v (present=%v)", v, ok)
	}
	if photos, ok := out["devicePhotos"].([]any); !ok || len(photos) != 0 {
		t.Fatalf("devicePhotos should be an empty list, got %v", out["devicePhotos"])
	}
	if out["studentName"] != "Jane" || out["recordId"] != "rec-1" || out["checkInTime"] != "2026-03-02T07:45:00Z" {
		t.Fatalf("unexpected resource: %s", raw)
	}
}
