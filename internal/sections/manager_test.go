package sections

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/validate"
)

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

func seedUserWithResume(t *testing.T, db *gorm.DB, userID uint) database.Resume {
	t.Helper()
	user := database.User{Model: gorm.Model{ID: userID}, Email: fmt.Sprintf("u%d@example.com", userID), PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	resume := database.Resume{Title: "Test Resume", UserID: userID}
	if err := db.Create(&resume).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}
	return resume
}

func testDeps(db *gorm.DB) Deps {
	return Deps{DB: db, Validator: validate.New()}
}

func orderOf(t *testing.T, db *gorm.DB, model any, where string, args ...any) []int {
	t.Helper()
	var orders []int
	if err := db.Model(model).Where(where, args...).Order("sort_order ASC").Pluck("sort_order", &orders).Error; err != nil {
		t.Fatalf("pluck orders: %v", err)
	}
	return orders
}

func TestAddAppendsDenseOrders(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Experiences(testDeps(db))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := &database.Experience{Company: fmt.Sprintf("Co %d", i), Position: "Engineer"}
		if err := mgr.Add(ctx, 1, resume.ID, entry, nil); err != nil {
			t.Fatalf("add #%d: %v", i, err)
		}
		if got := entry.SortOrder; got != i {
			t.Fatalf("entry %d got order %d, want %d", i, got, i)
		}
	}

	orders := orderOf(t, db, &database.Experience{}, "resume_id = ?", resume.ID)
	for i, o := range orders {
		if o != i {
			t.Fatalf("orders not dense: %v", orders)
		}
	}
}

func TestAddExplicitOrderInserts(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Languages(testDeps(db))
	ctx := context.Background()

	for i, name := range []string{"English", "German", "Japanese"} {
		l := &database.Language{Name: name, Level: 3}
		if err := mgr.Add(ctx, 1, resume.ID, l, nil); err != nil {
			t.Fatalf("add #%d: %v", i, err)
		}
	}

	// 插入位置 1：后续兄弟各让一位。
	one := 1
	inserted := &database.Language{Name: "French", Level: 4}
	if err := mgr.Add(ctx, 1, resume.ID, inserted, &one); err != nil {
		t.Fatalf("add with position: %v", err)
	}
	if inserted.SortOrder != 1 {
		t.Fatalf("inserted order = %d, want 1", inserted.SortOrder)
	}

	var rows []database.Language
	if err := db.Where("resume_id = ?", resume.ID).Order("sort_order ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	wantNames := []string{"English", "French", "German", "Japanese"}
	for i, r := range rows {
		if r.Name != wantNames[i] || r.SortOrder != i {
			t.Fatalf("position %d = %s/%d, want %s/%d", i, r.Name, r.SortOrder, wantNames[i], i)
		}
	}
}

func TestAddExplicitOrderClampsToDenseRange(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Languages(testDeps(db))
	ctx := context.Background()

	first := &database.Language{Name: "English", Level: 4}
	if err := mgr.Add(ctx, 1, resume.ID, first, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	// 超出末尾的位置夹取为追加，序号保持 0..n-1 连续。
	five := 5
	tail := &database.Language{Name: "German", Level: 2}
	if err := mgr.Add(ctx, 1, resume.ID, tail, &five); err != nil {
		t.Fatalf("add with oversized position: %v", err)
	}
	if tail.SortOrder != 1 {
		t.Fatalf("oversized position landed at %d, want 1", tail.SortOrder)
	}

	negative := -3
	head := &database.Language{Name: "Japanese", Level: 1}
	if err := mgr.Add(ctx, 1, resume.ID, head, &negative); err != nil {
		t.Fatalf("add with negative position: %v", err)
	}
	if head.SortOrder != 0 {
		t.Fatalf("negative position landed at %d, want 0", head.SortOrder)
	}

	orders := orderOf(t, db, &database.Language{}, "resume_id = ?", resume.ID)
	for i, o := range orders {
		if o != i {
			t.Fatalf("orders not dense: %v", orders)
		}
	}
}

func TestSkillsPartitionByCategory(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Skills(testDeps(db))
	ctx := context.Background()

	add := func(name, category string) *database.Skill {
		s := &database.Skill{Name: name, Category: category, Level: 80}
		if err := mgr.Add(ctx, 1, resume.ID, s, nil); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		return s
	}

	a0 := add("Go", "backend")
	a1 := add("Postgres", "backend")
	b0 := add("Figma", "design")

	if a0.SortOrder != 0 || a1.SortOrder != 1 {
		t.Fatalf("backend orders = %d,%d, want 0,1", a0.SortOrder, a1.SortOrder)
	}
	if b0.SortOrder != 0 {
		t.Fatalf("design order = %d, want fresh partition starting at 0", b0.SortOrder)
	}
}

func TestRemoveClosesGap(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Educations(testDeps(db))
	ctx := context.Background()

	var entries []*database.Education
	for i := 0; i < 4; i++ {
		e := &database.Education{School: fmt.Sprintf("School %d", i)}
		if err := mgr.Add(ctx, 1, resume.ID, e, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
		entries = append(entries, e)
	}

	if err := mgr.Remove(ctx, 1, resume.ID, entries[1].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	orders := orderOf(t, db, &database.Education{}, "resume_id = ?", resume.ID)
	want := []int{0, 1, 2}
	if len(orders) != len(want) {
		t.Fatalf("got %d entries, want %d", len(orders), len(want))
	}
	for i := range want {
		if orders[i] != want[i] {
			t.Fatalf("orders after remove = %v, want %v", orders, want)
		}
	}

	// 相对顺序保持不变。
	var survivors []database.Education
	if err := db.Where("resume_id = ?", resume.ID).Order("sort_order ASC").Find(&survivors).Error; err != nil {
		t.Fatalf("load survivors: %v", err)
	}
	wantSchools := []string{"School 0", "School 2", "School 3"}
	for i, s := range survivors {
		if s.School != wantSchools[i] {
			t.Fatalf("survivor %d = %s, want %s", i, s.School, wantSchools[i])
		}
	}
}

func TestRemoveFirstShiftsAllSurvivors(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Educations(testDeps(db))
	ctx := context.Background()

	var entries []*database.Education
	for i := 0; i < 3; i++ {
		e := &database.Education{School: fmt.Sprintf("School %d", i)}
		if err := mgr.Add(ctx, 1, resume.ID, e, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
		entries = append(entries, e)
	}

	if err := mgr.Remove(ctx, 1, resume.ID, entries[0].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// 删除队首后所有幸存者整体前移。
	var survivors []database.Education
	if err := db.Where("resume_id = ?", resume.ID).Order("sort_order ASC").Find(&survivors).Error; err != nil {
		t.Fatalf("load survivors: %v", err)
	}
	wantSchools := []string{"School 1", "School 2"}
	for i, s := range survivors {
		if s.School != wantSchools[i] || s.SortOrder != i {
			t.Fatalf("survivor %d = %s/%d, want %s/%d", i, s.School, s.SortOrder, wantSchools[i], i)
		}
	}
}

func TestRemoveLastLeavesPrefixUntouched(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Educations(testDeps(db))
	ctx := context.Background()

	var entries []*database.Education
	for i := 0; i < 3; i++ {
		e := &database.Education{School: fmt.Sprintf("School %d", i)}
		if err := mgr.Add(ctx, 1, resume.ID, e, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
		entries = append(entries, e)
	}

	if err := mgr.Remove(ctx, 1, resume.ID, entries[2].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// 删除队尾不移动任何行。
	var survivors []database.Education
	if err := db.Where("resume_id = ?", resume.ID).Order("sort_order ASC").Find(&survivors).Error; err != nil {
		t.Fatalf("load survivors: %v", err)
	}
	wantSchools := []string{"School 0", "School 1"}
	for i, s := range survivors {
		if s.School != wantSchools[i] || s.SortOrder != i {
			t.Fatalf("survivor %d = %s/%d, want %s/%d", i, s.School, s.SortOrder, wantSchools[i], i)
		}
	}
}

func TestUpdateExplicitOrderMovesWithinPartition(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Projects(testDeps(db))
	ctx := context.Background()

	var entries []*database.Project
	for i := 0; i < 4; i++ {
		p := &database.Project{Name: fmt.Sprintf("Project %d", i)}
		if err := mgr.Add(ctx, 1, resume.ID, p, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
		entries = append(entries, p)
	}

	// 把末尾的条目移动到位置 1，夹在中间。
	one := 1
	moved := &database.Project{Name: "Project 3"}
	if err := mgr.Update(ctx, 1, resume.ID, entries[3].ID, moved, &one); err != nil {
		t.Fatalf("update with position: %v", err)
	}
	if moved.SortOrder != 1 {
		t.Fatalf("moved order = %d, want 1", moved.SortOrder)
	}

	var rows []database.Project
	if err := db.Where("resume_id = ?", resume.ID).Order("sort_order ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	wantNames := []string{"Project 0", "Project 3", "Project 1", "Project 2"}
	for i, r := range rows {
		if r.Name != wantNames[i] || r.SortOrder != i {
			t.Fatalf("position %d = %s/%d, want %s/%d", i, r.Name, r.SortOrder, wantNames[i], i)
		}
	}
}

func TestUpdateSkillCategoryMoveKeepsBothPartitionsDense(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Skills(testDeps(db))
	ctx := context.Background()

	add := func(name, category string) *database.Skill {
		s := &database.Skill{Name: name, Category: category, Level: 70}
		if err := mgr.Add(ctx, 1, resume.ID, s, nil); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		return s
	}

	add("Go", "backend")
	moved := add("Postgres", "backend")
	add("Redis", "backend")
	add("Figma", "design")

	// 改类别：旧分区闭合空洞，新分区末尾追加。
	replacement := &database.Skill{Name: "Postgres", Category: "design", Level: 70}
	if err := mgr.Update(ctx, 1, resume.ID, moved.ID, replacement, nil); err != nil {
		t.Fatalf("update category: %v", err)
	}
	if replacement.SortOrder != 1 {
		t.Fatalf("moved skill order = %d, want 1", replacement.SortOrder)
	}

	backend := orderOf(t, db, &database.Skill{}, "resume_id = ? AND category = ?", resume.ID, "backend")
	design := orderOf(t, db, &database.Skill{}, "resume_id = ? AND category = ?", resume.ID, "design")
	for i, o := range backend {
		if o != i {
			t.Fatalf("backend orders not dense: %v", backend)
		}
	}
	for i, o := range design {
		if o != i {
			t.Fatalf("design orders not dense: %v", design)
		}
	}
	if len(backend) != 2 || len(design) != 2 {
		t.Fatalf("partition sizes = %d/%d, want 2/2", len(backend), len(design))
	}
}

func TestReorderRewritesByIndex(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Projects(testDeps(db))
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 3; i++ {
		p := &database.Project{Name: fmt.Sprintf("Project %d", i)}
		if err := mgr.Add(ctx, 1, resume.ID, p, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
		ids = append(ids, p.ID)
	}

	reversed := []uint{ids[2], ids[1], ids[0]}
	if err := mgr.Reorder(ctx, 1, Partition{ResumeID: resume.ID}, reversed); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	var rows []database.Project
	if err := db.Where("resume_id = ?", resume.ID).Order("sort_order ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	for i, want := range reversed {
		if rows[i].ID != want {
			t.Fatalf("position %d has id %d, want %d", i, rows[i].ID, want)
		}
	}
}

func TestReorderRejectsMismatchedSet(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Achievements(testDeps(db))
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 2; i++ {
		a := &database.Achievement{Title: fmt.Sprintf("Award %d", i)}
		if err := mgr.Add(ctx, 1, resume.ID, a, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
		ids = append(ids, a.ID)
	}

	cases := map[string][]uint{
		"missing id":   {ids[0]},
		"foreign id":   {ids[0], ids[1] + 100},
		"duplicate id": {ids[0], ids[0]},
	}
	for name, proposal := range cases {
		if err := mgr.Reorder(ctx, 1, Partition{ResumeID: resume.ID}, proposal); !errors.Is(err, ErrInvalidReorderSet) {
			t.Fatalf("%s: got %v, want ErrInvalidReorderSet", name, err)
		}
	}

	// 整体拒绝后原顺序必须原样保留。
	orders := orderOf(t, db, &database.Achievement{}, "resume_id = ?", resume.ID)
	if orders[0] != 0 || orders[1] != 1 {
		t.Fatalf("orders mutated after rejected reorder: %v", orders)
	}
}

func TestOwnershipRejectsForeignActor(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	seedUserWithResume(t, db, 2)
	mgr := Certifications(testDeps(db))
	ctx := context.Background()

	owned := &database.Certification{Name: "CKA"}
	if err := mgr.Add(ctx, 1, resume.ID, owned, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	intruder := &database.Certification{Name: "Forged"}
	if err := mgr.Add(ctx, 2, resume.ID, intruder, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("add as foreign actor: got %v, want ErrNotFound", err)
	}
	if err := mgr.Remove(ctx, 2, resume.ID, owned.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("remove as foreign actor: got %v, want ErrNotFound", err)
	}

	var count int64
	if err := db.Model(&database.Certification{}).Where("resume_id = ?", resume.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("state changed by rejected calls, count = %d", count)
	}
}

func TestUnauthenticatedActor(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Experiences(testDeps(db))

	entry := &database.Experience{Company: "Co", Position: "Dev"}
	if err := mgr.Add(context.Background(), 0, resume.ID, entry, nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("got %v, want ErrNotAuthenticated", err)
	}
}

func TestUpdatePreservesOrderAndClearsOmittedFields(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Experiences(testDeps(db))
	ctx := context.Background()

	first := &database.Experience{Company: "First", Position: "Dev", Description: "old text"}
	second := &database.Experience{Company: "Second", Position: "Dev"}
	if err := mgr.Add(ctx, 1, resume.ID, first, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := mgr.Add(ctx, 1, resume.ID, second, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	replacement := &database.Experience{Company: "Second Renamed", Position: "Lead"}
	if err := mgr.Update(ctx, 1, resume.ID, second.ID, replacement, nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	if replacement.SortOrder != 1 {
		t.Fatalf("order not preserved, got %d", replacement.SortOrder)
	}
	if replacement.ID != second.ID {
		t.Fatalf("reload id = %d, want %d", replacement.ID, second.ID)
	}

	var stored database.Experience
	if err := db.First(&stored, second.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.Company != "Second Renamed" || stored.Position != "Lead" {
		t.Fatalf("update not applied: %+v", stored)
	}
	if stored.Description != "" {
		t.Fatalf("omitted field not overwritten: %q", stored.Description)
	}
}

func TestAddValidationFailure(t *testing.T) {
	db := newTestDB(t)
	resume := seedUserWithResume(t, db, 1)
	mgr := Skills(testDeps(db))

	bad := &database.Skill{Name: "", Level: 250}
	err := mgr.Add(context.Background(), 1, resume.ID, bad, nil)

	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *validate.Error", err)
	}
	if len(verr.Fields) < 2 {
		t.Fatalf("expected field errors for name and level, got %+v", verr.Fields)
	}
}
