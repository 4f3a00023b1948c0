package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"checkpoint/pkg/domain"
	gormlogger "gorm.io/gorm/logger"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	s, err := NewGormStore(dsn, WithDriver(DriverSQLite), WithLogLevel(gormlogger.Silent))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStoreStudentLifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	checkIn := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	st := sampleStudent("11111111-1111-4111-8111-111111111111", "S-1", "Jane Doe", "10A", checkIn)
	st.DevicePhotos = []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"}
	if err := s.CreateStudent(ctx, st); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, ok, err := s.GetStudentByStudentID(ctx, "S-1")
	if err != nil || !ok {
		t.Fatalf("get by student id: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.StatusCheckedIn || got.CheckOutTime != nil {
		t.Fatalf("unexpected fresh record: %+v", got)
	}
	if len(got.DevicePhotos) != 2 || got.DevicePhotos[1] != "https://cdn.example.com/b.jpg" {
		t.Fatalf("device photos not round-tripped in order: %v", got.DevicePhotos)
	}
	if !got.CheckInTime.Equal(checkIn) {
		t.Fatalf("check-in time mismatch: %v != %v", got.CheckInTime, checkIn)
	}

	got.CheckOut(checkIn.Add(2 * time.Hour))
	if err := s.UpdateStudent(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	after, ok, err := s.GetStudentByRecordID(ctx, st.RecordID)
	if err != nil || !ok {
		t.Fatalf("get by record id: ok=%v err=%v", ok, err)
	}
	if after.Status != domain.StatusCheckedOut || after.CheckOutTime == nil || after.CheckOutTime.Before(after.CheckInTime) {
		t.Fatalf("unexpected checked-out record: %+v", after)
	}

	if _, ok, err := s.GetStudent(ctx, "does-not-exist"); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
	if err := s.UpdateStudent(ctx, domain.Student{ID: "does-not-exist", Status: domain.StatusCheckedOut}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGormStoreDuplicateStudentIDIsConflict(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.CreateStudent(ctx, sampleStudent("id-1", "S-9", "Jane Doe", "10A", now)); err != nil {
		t.Fatalf("create first: %v", err)
	}
	err := s.CreateStudent(ctx, sampleStudent("id-2", "S-9", "John Roe", "10B", now))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate from unique index, got %v", err)
	}
}

func TestGormStoreListFilters(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seed := []domain.Student{
		sampleStudent("id-1", "S-100", "Jane Doe", "10A", base),
		sampleStudent("id-2", "S-200", "John Roe", "jane_room", base.Add(time.Minute)),
		sampleStudent("id-3", "JANE-7", "Ann Lee", "11C", base.Add(2*time.Minute)),
		sampleStudent("id-4", "S-400", "Bob 100% Stone", "12D", base.Add(3*time.Minute)),
	}
	for _, st := range seed {
		if err := s.CreateStudent(ctx, st); err != nil {
			t.Fatalf("create %s: %v", st.ID, err)
		}
	}
	last := seed[3]
	last.CheckOut(base.Add(time.Hour))
	if err := s.UpdateStudent(ctx, last); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	jane, total, err := s.ListStudents(ctx, StudentFilter{Search: "JaNe"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 3 || len(jane) != 3 {
		t.Fatalf("expected 3 jane matches, got %d/%d", len(jane), total)
	}
	for i, want := range []string{"id-1", "id-2", "id-3"} {
		if jane[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, jane[i].ID)
		}
	}

	literal, total, err := s.ListStudents(ctx, StudentFilter{Search: "100%"})
	if err != nil {
		t.Fatalf("literal search: %v", err)
	}
	if total != 1 || literal[0].ID != "id-4" {
		t.Fatalf("expected %% to match literally, got %+v", literal)
	}

	underscore, total, err := s.ListStudents(ctx, StudentFilter{Search: "e_"})
	if err != nil {
		t.Fatalf("underscore search: %v", err)
	}
	if total != 1 || underscore[0].ID != "id-2" {
		t.Fatalf("expected _ to match literally, got %+v", underscore)
	}

	out, total, err := s.ListStudents(ctx, StudentFilter{Status: domain.StatusCheckedOut})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if total != 1 || out[0].ID != "id-4" {
		t.Fatalf("expected only id-4 checked out, got %+v", out)
	}

	page, total, err := s.ListStudents(ctx, StudentFilter{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if total != 4 || len(page) != 2 || page[0].ID != "id-3" {
		t.Fatalf("unexpected page 2: total=%d %+v", total, page)
	}

	accented := sampleStudent("id-5", "S-500", "ÉMILE Zola", "12D", base.Add(4*time.Minute))
	if err := s.CreateStudent(ctx, accented); err != nil {
		t.Fatalf("create accented: %v", err)
	}
	mem := NewMemoryStore()
	if err := mem.CreateStudent(ctx, accented); err != nil {
		t.Fatalf("create accented in memory: %v", err)
	}
	for _, search := range []string{"émile", "Émile", "ÉMILE"} {
		got, total, err := s.ListStudents(ctx, StudentFilter{Search: search})
		if err != nil {
			t.Fatalf("unicode search %q: %v", search, err)
		}
		_, memTotal, err := mem.ListStudents(ctx, StudentFilter{Search: search})
		if err != nil {
			t.Fatalf("memory search %q: %v", search, err)
		}
		if total != 1 || len(got) != 1 || got[0].ID != "id-5" || memTotal != total {
			t.Fatalf("search %q: sql total=%d memory total=%d %+v", search, total, memTotal, got)
		}
	}
	if err := s.db.Delete(&StudentModel{}, "id = ?", "id-5").Error; err != nil {
		t.Fatalf("remove accented: %v", err)
	}

	pagedSearch, total, err := s.ListStudents(ctx, StudentFilter{Search: "jane", Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("paged search: %v", err)
	}
	if total != 3 || len(pagedSearch) != 1 || pagedSearch[0].ID != "id-3" {
		t.Fatalf("unexpected paged search: total=%d %+v", total, pagedSearch)
	}

	counts, err := s.CountStudentsByStatus(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Total != 4 || counts.CheckedIn != 3 || counts.CheckedOut != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestGormStoreAccountsAndProfiles(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	u := domain.User{ID: "u-1", Username: "desk", Email: "desk@example.com", PasswordHash: "x", CreatedAt: time.Now().UTC()}
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	u.FirstName = "Desk"
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("update user: %v", err)
	}
	got, ok, err := s.GetUserByEmail(ctx, "desk@example.com")
	if err != nil || !ok || got.FirstName != "Desk" {
		t.Fatalf("get by email: ok=%v err=%v got=%+v", ok, err, got)
	}
	if err := s.SaveProfile(ctx, domain.UserProfile{UserID: "u-1", Role: domain.RoleStaff}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	if err := s.SaveProfile(ctx, domain.UserProfile{UserID: "u-1", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("change role: %v", err)
	}
	p, ok, err := s.GetProfile(ctx, "u-1")
	if err != nil || !ok || p.Role != domain.RoleAdmin {
		t.Fatalf("unexpected profile: ok=%v err=%v %+v", ok, err, p)
	}
}

func TestGormTokenStoreReusesToken(t *testing.T) {
	s := newSQLiteStore(t)
	tokens := NewGormTokenStore(s.DB())
	ctx := context.Background()

	first, err := tokens.IssueToken(ctx, "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(first) != 40 {
		t.Fatalf("expected 40 char token, got %q", first)
	}
	second, err := tokens.IssueToken(ctx, "u-1")
	if err != nil {
		t.Fatalf("issue again: %v", err)
	}
	if first != second {
		t.Fatalf("expected token reuse, got %q then %q", first, second)
	}
	uid, ok, err := tokens.UserIDByToken(ctx, first)
	if err != nil || !ok || uid != "u-1" {
		t.Fatalf("resolve: uid=%q ok=%v err=%v", uid, ok, err)
	}
	if err := tokens.DeleteToken(ctx, first); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := tokens.UserIDByToken(ctx, first); ok {
		t.Fatalf("deleted token should not resolve")
	}
	third, err := tokens.IssueToken(ctx, "u-1")
	if err != nil {
		t.Fatalf("issue after delete: %v", err)
	}
	if third == first {
		t.Fatalf("expected a fresh token after logout")
	}
}
