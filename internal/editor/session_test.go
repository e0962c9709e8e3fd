package editor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cvforge/internal/document"
)

type fakeLoader struct {
	snaps  map[uint]*document.Snapshot
	err    error
	gate   chan struct{} // 非 nil 时对 gateID 的 Load 阻塞直到关闭
	gateID uint
}

func (f *fakeLoader) Load(_ context.Context, _, resumeID uint) (*document.Snapshot, error) {
	if f.gate != nil && resumeID == f.gateID {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	snap, ok := f.snaps[resumeID]
	if !ok {
		return nil, errors.New("unknown resume")
	}
	clone := snap.Clone()
	return &clone, nil
}

type fakeSaver struct {
	saved []document.Snapshot
	err   error
	gate  chan struct{} // 非 nil 时 Save 阻塞直到关闭
}

func (f *fakeSaver) Save(_ context.Context, _ uint, snap *document.Snapshot) error {
	if f.gate != nil {
		<-f.gate
	}
	f.saved = append(f.saved, snap.Clone())
	return f.err
}

func titlePatch(title string) document.Patch {
	return document.Patch{Title: &title}
}

func loadedSession(t *testing.T, title string) (*Session, *fakeSaver) {
	t.Helper()
	loader := &fakeLoader{snaps: map[uint]*document.Snapshot{
		1: {ResumeID: 1, Title: title},
	}}
	saver := &fakeSaver{}
	s := NewSession(7, loader, saver, nil)
	if err := s.Load(context.Background(), 1); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s, saver
}

func TestLoadResetsHistory(t *testing.T) {
	s, _ := loadedSession(t, "v1")

	if err := s.Merge(titlePatch("edited")); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if s.HistoryLen() != 2 || !s.CanUndo() {
		t.Fatalf("precondition failed: len=%d", s.HistoryLen())
	}

	if err := s.Load(context.Background(), 1); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.HistoryLen() != 1 || s.Cursor() != 0 || s.CanUndo() || s.CanRedo() {
		t.Fatalf("history not reset: len=%d cursor=%d", s.HistoryLen(), s.Cursor())
	}
}

func TestMergeBeforeLoad(t *testing.T) {
	s := NewSession(7, &fakeLoader{}, &fakeSaver{}, nil)
	if err := s.Merge(titlePatch("x")); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("got %v, want ErrNotLoaded", err)
	}
	if err := s.Save(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("save: got %v, want ErrNotLoaded", err)
	}
}

func TestUndoRedoLinearHistory(t *testing.T) {
	s, _ := loadedSession(t, "v0")

	if err := s.Merge(titlePatch("v1")); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := s.Merge(titlePatch("v2")); err != nil {
		t.Fatalf("merge: %v", err)
	}

	s.Undo()
	snap, err := s.Current()
	if err != nil || snap.Title != "v1" {
		t.Fatalf("after undo: title=%q err=%v", snap.Title, err)
	}
	if !s.CanRedo() {
		t.Fatal("expected redo available after undo")
	}

	s.Redo()
	snap, _ = s.Current()
	if snap.Title != "v2" {
		t.Fatalf("after redo: title=%q", snap.Title)
	}
}

func TestMergeTruncatesRedoBranch(t *testing.T) {
	s, _ := loadedSession(t, "v0")

	if err := s.Merge(titlePatch("v1")); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := s.Merge(titlePatch("v2")); err != nil {
		t.Fatalf("merge: %v", err)
	}
	s.Undo()
	s.Undo()

	// 撤销两步后的新编辑必须永久丢弃 v1/v2 未来。
	if err := s.Merge(titlePatch("v3")); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if s.CanRedo() {
		t.Fatal("redo branch survived a diverging merge")
	}
	if s.HistoryLen() != 2 {
		t.Fatalf("history len = %d, want 2", s.HistoryLen())
	}

	snap, _ := s.Current()
	if snap.Title != "v3" {
		t.Fatalf("title = %q, want v3", snap.Title)
	}
	s.Undo()
	snap, _ = s.Current()
	if snap.Title != "v0" {
		t.Fatalf("bottom of history = %q, want v0", snap.Title)
	}
}

func TestUndoRedoBoundsAreNoOps(t *testing.T) {
	s, _ := loadedSession(t, "v0")

	s.Undo()
	s.Undo()
	if s.Cursor() != 0 {
		t.Fatalf("undo at bottom moved cursor to %d", s.Cursor())
	}

	s.Redo()
	if s.Cursor() != 0 {
		t.Fatalf("redo at tip moved cursor to %d", s.Cursor())
	}
}

func TestEmptyPatchStillAppendsHistory(t *testing.T) {
	s, _ := loadedSession(t, "v0")

	if err := s.Merge(document.Patch{}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if s.HistoryLen() != 2 || !s.CanUndo() {
		t.Fatalf("empty patch did not append: len=%d", s.HistoryLen())
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	s, _ := loadedSession(t, "v0")

	for i := 1; i <= MaxHistoryDepth+20; i++ {
		if err := s.Merge(titlePatch(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}

	if s.HistoryLen() != MaxHistoryDepth {
		t.Fatalf("history len = %d, want %d", s.HistoryLen(), MaxHistoryDepth)
	}

	// 走到最老的保留项：最初的 v0 及其后继已被淘汰。
	for s.CanUndo() {
		s.Undo()
	}
	snap, _ := s.Current()
	if snap.Title == "v0" {
		t.Fatal("oldest snapshot was not evicted")
	}
}

func TestZoomClampsAtBounds(t *testing.T) {
	s, _ := loadedSession(t, "v0")

	if s.ZoomLevel() != ZoomDefault {
		t.Fatalf("initial zoom = %d", s.ZoomLevel())
	}

	for i := 0; i < 20; i++ {
		s.ZoomIn()
	}
	if s.ZoomLevel() != ZoomMax {
		t.Fatalf("zoom after 20 increments = %d, want %d", s.ZoomLevel(), ZoomMax)
	}

	for i := 0; i < 40; i++ {
		s.ZoomOut()
	}
	if s.ZoomLevel() != ZoomMin {
		t.Fatalf("zoom after 40 decrements = %d, want %d", s.ZoomLevel(), ZoomMin)
	}
}

func TestTogglePreview(t *testing.T) {
	s, _ := loadedSession(t, "v0")

	if s.PreviewMode() {
		t.Fatal("preview should start off")
	}
	if !s.TogglePreview() || !s.PreviewMode() {
		t.Fatal("toggle on failed")
	}
	if s.TogglePreview() || s.PreviewMode() {
		t.Fatal("toggle off failed")
	}
}

func TestSaveRejectsOverlap(t *testing.T) {
	loader := &fakeLoader{snaps: map[uint]*document.Snapshot{
		1: {ResumeID: 1, Title: "v0"},
	}}
	gate := make(chan struct{})
	saver := &fakeSaver{gate: gate}
	s := NewSession(7, loader, saver, nil)
	if err := s.Load(context.Background(), 1); err != nil {
		t.Fatalf("load: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.Save(context.Background())
	}()

	// 等第一个保存进入执行中。
	deadline := time.After(2 * time.Second)
	for !s.Saving() {
		select {
		case <-deadline:
			t.Fatal("first save never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := s.Save(context.Background()); !errors.Is(err, ErrSaveInFlight) {
		t.Fatalf("overlapping save: got %v, want ErrSaveInFlight", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first save: %v", err)
	}
	if s.Saving() {
		t.Fatal("saving flag not cleared")
	}
	if len(saver.saved) != 1 {
		t.Fatalf("saved %d snapshots, want 1", len(saver.saved))
	}

	// 第一个完成后可以再次保存。
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("second save: %v", err)
	}
}

func TestSaveUsesCursorSnapshot(t *testing.T) {
	s, saver := loadedSession(t, "v0")

	if err := s.Merge(titlePatch("v1")); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := s.Merge(titlePatch("v2")); err != nil {
		t.Fatalf("merge: %v", err)
	}
	s.Undo()

	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(saver.saved) != 1 || saver.saved[0].Title != "v1" {
		t.Fatalf("saved wrong snapshot: %+v", saver.saved)
	}
}

func TestLoadLastCallWins(t *testing.T) {
	slowGate := make(chan struct{})
	slowLoader := &fakeLoader{
		snaps: map[uint]*document.Snapshot{
			1: {ResumeID: 1, Title: "slow"},
			2: {ResumeID: 2, Title: "fast"},
		},
		gate:   slowGate,
		gateID: 1,
	}
	s := NewSession(7, slowLoader, &fakeSaver{}, nil)

	slowDone := make(chan error, 1)
	go func() {
		slowDone <- s.Load(context.Background(), 1)
	}()

	// 等慢调用占住 loadGen 后发出更新的 Load。
	time.Sleep(10 * time.Millisecond)
	if err := s.Load(context.Background(), 2); err != nil {
		t.Fatalf("fast load: %v", err)
	}

	close(slowGate)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow load: %v", err)
	}

	snap, err := s.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if snap.Title != "fast" {
		t.Fatalf("stale load overwrote newer document: title=%q", snap.Title)
	}
}
