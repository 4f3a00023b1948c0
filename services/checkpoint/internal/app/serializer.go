package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"checkpoint/pkg/domain"
)

const (
	maxStudentIDLen = 50
	maxNameLen      = 200

	msgRequired = "This field is required."
	msgNull     = "This field may not be null."
	msgBlank    = "This field may not be blank."
	msgString   = "Not a valid string."
	msgURL      = "Enter a valid URL."
)

// CheckInPayload is a validated check-in request.
type CheckInPayload struct {
	StudentID         string
	Name              string
	ClassName         string
	Photo             string
	DevicePhotos      []string
	DeviceDescription string
	// Status is accepted for validation only; new records always start checked-in.
	Status domain.StudentStatus
}

// DecodeCheckIn parses and validates a check-in body. Every problem is
// reported in one *ValidationError keyed by the external field name.
func DecodeCheckIn(body []byte) (CheckInPayload, error) {
	var raw map[string]json.RawMessage
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return CheckInPayload{}, fieldError(NonFieldErrors, "Invalid data. Expected a dictionary.")
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return CheckInPayload{}, fieldError(NonFieldErrors, "Malformed JSON body.")
	}

	verr := &ValidationError{}
	p := CheckInPayload{
		StudentID:         requiredString(raw, "studentId", maxStudentIDLen, verr),
		Name:              requiredString(raw, "studentName", maxNameLen, verr),
		ClassName:         requiredString(raw, "className", maxNameLen, verr),
		Photo:             requiredString(raw, "studentPhoto", 0, verr),
		DeviceDescription: requiredString(raw, "deviceDescription", 0, verr),
	}
	if p.Photo != "" && !validHTTPURL(p.Photo) {
		verr.add("studentPhoto", msgURL)
	}
	p.DevicePhotos = devicePhotos(raw, verr)

	if v, ok := raw["status"]; ok && !isNull(v) {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			verr.add("status", msgString)
		} else if st, ok := domain.ParseStudentStatus(s); ok {
			p.Status = st
		} else {
			verr.add("status", fmt.Sprintf("%q is not a valid choice.", s))
		}
	}

	if !verr.empty() {
		return CheckInPayload{}, verr
	}
	return p, nil
}

func requiredString(raw map[string]json.RawMessage, field string, maxLen int, verr *ValidationError) string {
	v, ok := raw[field]
	if !ok {
		verr.add(field, msgRequired)
		return ""
	}
	if isNull(v) {
		verr.add(field, msgNull)
		return ""
	}
	s, ok := stringValue(v)
	if !ok {
		verr.add(field, msgString)
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		verr.add(field, msgBlank)
		return ""
	}
	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		verr.add(field, fmt.Sprintf("Ensure this field has no more than %d characters.", maxLen))
		return ""
	}
	return s
}

func devicePhotos(raw map[string]json.RawMessage, verr *ValidationError) []string {
	v, ok := raw["devicePhotos"]
	if !ok {
		verr.add("devicePhotos", msgRequired)
		return nil
	}
	if isNull(v) {
		verr.add("devicePhotos", msgNull)
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		verr.add("devicePhotos", "Expected a list of items.")
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			verr.add("devicePhotos", "Every item must be a string.")
			return nil
		}
		out = append(out, s)
	}
	return out
}

// stringValue accepts JSON strings and numbers; numbers keep their literal text.
func stringValue(v json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// StudentResource is the wire form of a record.
type StudentResource struct {
	ID                string     `json:"id"`
	StudentID         string     `json:"studentId"`
	StudentName       string     `json:"studentName"`
	ClassName         string     `json:"className"`
	StudentPhoto      string     `json:"studentPhoto"`
	DevicePhotos      []string   `json:"devicePhotos"`
	DeviceDescription string     `json:"deviceDescription"`
	CheckInTime       time.Time  `json:"checkInTime"`
	CheckOutTime      *time.Time `json:"checkOutTime"`
	Status            string     `json:"status"`
	RecordID          string     `json:"recordId"`
}

func NewStudentResource(s domain.Student) StudentResource {
	photos := s.DevicePhotos
	if photos == nil {
		photos = []string{}
	}
	return StudentResource{
		ID:                s.ID,
		StudentID:         s.StudentID,
		StudentName:       s.Name,
		ClassName:         s.ClassName,
		StudentPhoto:      s.Photo,
		DevicePhotos:      photos,
		DeviceDescription: s.DeviceDescription,
		CheckInTime:       s.CheckInTime,
		CheckOutTime:      s.CheckOutTime,
		Status:            string(s.Status),
		RecordID:          s.RecordID,
	}
}

// StudentList is the list envelope.
type StudentList struct {
	Results []StudentResource `json:"results"`
	Count   int64             `json:"count"`
}

func NewStudentList(items []domain.Student, count int64) StudentList {
	out := StudentList{Results: make([]StudentResource, 0, len(items)), Count: count}
	for _, s := range items {
		out.Results = append(out.Results, NewStudentResource(s))
	}
	return out
}
