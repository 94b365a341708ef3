package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/caiolacerdamt/cognistream/internal/auth"
	"github.com/caiolacerdamt/cognistream/internal/db/models"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	d, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCreateAndGetUser(t *testing.T) {
	d := testDB(t)

	u, err := d.CreateUser("caio", "s3cretpass", "member")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == 0 || u.Username != "caio" || u.Role != "member" {
		t.Errorf("created user = %+v", u)
	}
	if !auth.CheckPassword("s3cretpass", u.Password) {
		t.Error("stored password hash does not verify")
	}
	if u.Password == "s3cretpass" {
		t.Error("password stored in plain text")
	}

	got, err := d.GetUserByUsername("caio")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("lookup returned user %d, want %d", got.ID, u.ID)
	}

	if _, err := d.GetUserByUsername("nobody"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("missing user error = %v, want sql.ErrNoRows", err)
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	d := testDB(t)
	if _, err := d.CreateUser("caio", "password1", "member"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.CreateUser("caio", "password2", "member"); err == nil {
		t.Error("duplicate username accepted")
	}
}

func TestAPIKeyUpsert(t *testing.T) {
	d := testDB(t)
	u, err := d.CreateUser("caio", "s3cretpass", "member")
	if err != nil {
		t.Fatal(err)
	}

	key, err := d.GetAPIKey(u.ID, "openai")
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if key != "" {
		t.Errorf("missing key = %q, want empty", key)
	}

	if err := d.SaveAPIKey(u.ID, "openai", "sk-first"); err != nil {
		t.Fatalf("SaveAPIKey: %v", err)
	}
	if err := d.SaveAPIKey(u.ID, "openai", "sk-second"); err != nil {
		t.Fatalf("SaveAPIKey upsert: %v", err)
	}

	key, err = d.GetAPIKey(u.ID, "openai")
	if err != nil {
		t.Fatal(err)
	}
	if key != "sk-second" {
		t.Errorf("key = %q, want the upserted value", key)
	}

	// Keys are scoped per provider.
	key, err = d.GetAPIKey(u.ID, "gemini")
	if err != nil {
		t.Fatal(err)
	}
	if key != "" {
		t.Errorf("gemini key = %q, want empty", key)
	}
}

func sampleResult(id string, userID int64, createdAt time.Time) *models.Result {
	return &models.Result{
		ID:            id,
		UserID:        userID,
		SourceURL:     "https://example.com/v/" + id,
		Provider:      "gemini",
		Model:         "gemini-2.5-flash",
		Transcription: "texto completo da transcrição",
		Summary:       "resumo curto",
		KeyTopics:     []string{"tema um", "tema dois"},
		AudioSeconds:  321.5,
		CreatedAt:     createdAt,
	}
}

func TestSaveAndGetResult(t *testing.T) {
	d := testDB(t)
	u, err := d.CreateUser("caio", "s3cretpass", "member")
	if err != nil {
		t.Fatal(err)
	}

	want := sampleResult("r1", u.ID, time.Now().UTC())
	usage := models.Usage{InputTokens: 100, OutputTokens: 50}
	if err := d.SaveResult(want, usage); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := d.GetResult(u.ID, "r1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Transcription != want.Transcription || got.Summary != want.Summary {
		t.Errorf("result = %+v", got)
	}
	if len(got.KeyTopics) != 2 || got.KeyTopics[0] != "tema um" {
		t.Errorf("key topics = %v", got.KeyTopics)
	}
	if got.AudioSeconds != want.AudioSeconds {
		t.Errorf("audio seconds = %v, want %v", got.AudioSeconds, want.AudioSeconds)
	}

	var logged int
	if err := d.DB().QueryRow("SELECT COUNT(*) FROM usage_logs WHERE result_id = ?", "r1").Scan(&logged); err != nil {
		t.Fatal(err)
	}
	if logged != 1 {
		t.Errorf("usage log rows = %d, want 1", logged)
	}
}

func TestGetResultScopedToOwner(t *testing.T) {
	d := testDB(t)
	owner, _ := d.CreateUser("owner", "s3cretpass", "member")
	other, _ := d.CreateUser("other", "s3cretpass", "member")

	if err := d.SaveResult(sampleResult("r1", owner.ID, time.Now()), models.Usage{}); err != nil {
		t.Fatal(err)
	}

	if _, err := d.GetResult(other.ID, "r1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("cross-user read error = %v, want sql.ErrNoRows", err)
	}
}

func TestListResultsNewestFirstWithoutTranscription(t *testing.T) {
	d := testDB(t)
	u, _ := d.CreateUser("caio", "s3cretpass", "member")
	other, _ := d.CreateUser("other", "s3cretpass", "member")

	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		r := sampleResult(id, u.ID, base.Add(time.Duration(i)*time.Minute))
		if err := d.SaveResult(r, models.Usage{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.SaveResult(sampleResult("theirs", other.ID, base), models.Usage{}); err != nil {
		t.Fatal(err)
	}

	list, err := d.ListResults(u.ID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("listed %d results, want 3", len(list))
	}
	if list[0].ID != "new" || list[2].ID != "old" {
		t.Errorf("order = %s, %s, %s, want newest first", list[0].ID, list[1].ID, list[2].ID)
	}
	for _, r := range list {
		if r.Transcription != "" {
			t.Errorf("listing for %s includes the transcription body", r.ID)
		}
	}
}

func TestListResultsEmpty(t *testing.T) {
	d := testDB(t)
	u, _ := d.CreateUser("caio", "s3cretpass", "member")

	list, err := d.ListResults(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("empty listing = %v, want non-nil empty slice", list)
	}
}

func TestSaveResultDuplicateIDFails(t *testing.T) {
	d := testDB(t)
	u, _ := d.CreateUser("caio", "s3cretpass", "member")

	r := sampleResult("r1", u.ID, time.Now())
	if err := d.SaveResult(r, models.Usage{}); err != nil {
		t.Fatal(err)
	}
	if err := d.SaveResult(r, models.Usage{}); err == nil {
		t.Error("duplicate result ID accepted")
	}

	// The failed transaction must not leave a second usage row behind.
	var logged int
	if err := d.DB().QueryRow("SELECT COUNT(*) FROM usage_logs WHERE result_id = ?", "r1").Scan(&logged); err != nil {
		t.Fatal(err)
	}
	if logged != 1 {
		t.Errorf("usage log rows = %d, want 1 after rolled-back duplicate", logged)
	}
}
