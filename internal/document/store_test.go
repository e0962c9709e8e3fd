package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/sections"
	"cvforge/internal/validate"
)

type recordingInvalidator struct {
	mu       sync.Mutex
	resumeID []uint
}

func (r *recordingInvalidator) Invalidate(_ context.Context, resumeID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumeID = append(r.resumeID, resumeID)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedResume(t *testing.T, db *gorm.DB, userID uint) database.Resume {
	t.Helper()
	user := database.User{Model: gorm.Model{ID: userID}, Email: fmt.Sprintf("u%d@example.com", userID), PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	resume := database.Resume{Title: "Original", UserID: userID, ThemeColor: "#112233"}
	if err := db.Create(&resume).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}
	return resume
}

func TestSaveRewritesCollectionsWithDenseOrders(t *testing.T) {
	db := newTestDB(t)
	resume := seedResume(t, db, 1)
	inv := &recordingInvalidator{}
	store := NewStore(db, validate.New(), inv, nil)
	ctx := context.Background()

	// 先种两行旧数据，保存后必须被整体替换。
	stale := []database.Experience{
		{Ordered: database.Ordered{ResumeID: resume.ID, SortOrder: 0}, Company: "Stale A", Position: "Dev"},
		{Ordered: database.Ordered{ResumeID: resume.ID, SortOrder: 1}, Company: "Stale B", Position: "Dev"},
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale: %v", err)
	}

	snap := &Snapshot{
		ResumeID:   resume.ID,
		Title:      "Updated",
		ThemeColor: "#445566",
		Experiences: []database.Experience{
			// 序号故意乱给，保存时必须按切片下标重排。
			{Ordered: database.Ordered{SortOrder: 9}, Company: "New A", Position: "Dev"},
			{Ordered: database.Ordered{SortOrder: 3}, Company: "New B", Position: "Dev"},
		},
		Skills: []database.Skill{
			{Name: "Go", Category: "backend", Level: 90},
			{Name: "Figma", Category: "design", Level: 60},
			{Name: "Postgres", Category: "backend", Level: 70},
		},
	}

	if err := store.Save(ctx, 1, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	var exps []database.Experience
	if err := db.Where("resume_id = ?", resume.ID).Order("sort_order ASC").Find(&exps).Error; err != nil {
		t.Fatalf("load experiences: %v", err)
	}
	if len(exps) != 2 {
		t.Fatalf("stale rows survived: %d entries", len(exps))
	}
	if exps[0].Company != "New A" || exps[0].SortOrder != 0 {
		t.Fatalf("first entry = %s order %d", exps[0].Company, exps[0].SortOrder)
	}
	if exps[1].Company != "New B" || exps[1].SortOrder != 1 {
		t.Fatalf("second entry = %s order %d", exps[1].Company, exps[1].SortOrder)
	}

	// 技能序号按分类各自从 0 计数。
	var skills []database.Skill
	if err := db.Where("resume_id = ?", resume.ID).Order("category ASC, sort_order ASC").Find(&skills).Error; err != nil {
		t.Fatalf("load skills: %v", err)
	}
	type key struct {
		name  string
		order int
	}
	got := make([]key, 0, len(skills))
	for _, s := range skills {
		got = append(got, key{s.Name, s.SortOrder})
	}
	want := []key{{"Go", 0}, {"Postgres", 1}, {"Figma", 0}}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("skills = %v, want %v", got, want)
		}
	}

	var reloaded database.Resume
	if err := db.First(&reloaded, resume.ID).Error; err != nil {
		t.Fatalf("reload resume: %v", err)
	}
	if reloaded.Title != "Updated" || reloaded.ThemeColor != "#445566" {
		t.Fatalf("scalars not updated: %+v", reloaded)
	}

	if len(inv.resumeID) != 1 || inv.resumeID[0] != resume.ID {
		t.Fatalf("invalidation not fired: %v", inv.resumeID)
	}
}

func TestSaveRejectsForeignActorWithoutMutation(t *testing.T) {
	db := newTestDB(t)
	resume := seedResume(t, db, 1)
	seedResume(t, db, 2)
	store := NewStore(db, validate.New(), nil, nil)

	snap := &Snapshot{ResumeID: resume.ID, Title: "Hijacked"}
	if err := store.Save(context.Background(), 2, snap); !errors.Is(err, sections.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	var reloaded database.Resume
	if err := db.First(&reloaded, resume.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Title != "Original" {
		t.Fatalf("title mutated by rejected save: %q", reloaded.Title)
	}
}

func TestSaveValidatesEveryEntry(t *testing.T) {
	db := newTestDB(t)
	resume := seedResume(t, db, 1)
	store := NewStore(db, validate.New(), nil, nil)

	snap := &Snapshot{
		ResumeID: resume.ID,
		Title:    "T",
		Languages: []database.Language{
			{Name: "English", Level: 4},
			{Name: "", Level: 9}, // 非法：名称为空且等级越界
		},
	}

	err := store.Save(context.Background(), 1, snap)
	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *validate.Error", err)
	}

	var count int64
	if err := db.Model(&database.Language{}).Where("resume_id = ?", resume.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected save wrote %d rows", count)
	}
}

func TestLoadAssemblesOrderedSnapshot(t *testing.T) {
	db := newTestDB(t)
	resume := seedResume(t, db, 1)
	store := NewStore(db, validate.New(), nil, nil)
	ctx := context.Background()

	seedSnap := &Snapshot{
		ResumeID: resume.ID,
		Title:    "Loaded",
		PersonalInfo: &database.PersonalInfo{
			FullName: "Ada Lovelace",
			Email:    "ada@example.com",
		},
		Educations: []database.Education{
			{School: "First"},
			{School: "Second"},
		},
	}
	if err := store.Save(ctx, 1, seedSnap); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	snap, err := store.Load(ctx, 1, resume.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Title != "Loaded" {
		t.Fatalf("title = %q", snap.Title)
	}
	if snap.PersonalInfo == nil || snap.PersonalInfo.FullName != "Ada Lovelace" {
		t.Fatalf("personal info missing: %+v", snap.PersonalInfo)
	}
	if len(snap.Educations) != 2 || snap.Educations[0].School != "First" {
		t.Fatalf("educations out of order: %+v", snap.Educations)
	}
}

func TestLoadUnknownResume(t *testing.T) {
	db := newTestDB(t)
	seedResume(t, db, 1)
	store := NewStore(db, validate.New(), nil, nil)

	if _, err := store.Load(context.Background(), 1, 999); !errors.Is(err, sections.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if _, err := store.Load(context.Background(), 0, 1); !errors.Is(err, sections.ErrNotAuthenticated) {
		t.Fatalf("got %v, want ErrNotAuthenticated", err)
	}
}

func TestPatchApplyReplacesWholeCollections(t *testing.T) {
	base := Snapshot{
		Title: "Base",
		Skills: []database.Skill{
			{Name: "Go", Category: "backend", Level: 90},
		},
	}

	newTitle := "Patched"
	newSkills := []database.Skill{
		{Name: "Rust", Category: "backend", Level: 50},
		{Name: "K8s", Category: "ops", Level: 40},
	}
	next := base.Apply(Patch{Title: &newTitle, Skills: &newSkills})

	if next.Title != "Patched" {
		t.Fatalf("title = %q", next.Title)
	}
	if len(next.Skills) != 2 || next.Skills[0].Name != "Rust" {
		t.Fatalf("skills not replaced wholesale: %+v", next.Skills)
	}
	// 原快照不可被补丁修改。
	if base.Title != "Base" || len(base.Skills) != 1 {
		t.Fatalf("base snapshot mutated: %+v", base)
	}

	next.Skills[0].Name = "Changed"
	if newSkills[0].Name == "Changed" && &next.Skills[0] == &newSkills[0] {
		t.Fatal("patched snapshot shares backing array with patch input")
	}
}
