package editor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"cvforge/internal/document"
)

// 缩放与历史深度的边界。
const (
	ZoomMin     = 50
	ZoomMax     = 200
	ZoomStep    = 10
	ZoomDefault = 100

	// MaxHistoryDepth 限制保留的快照数量，长编辑会话淘汰最旧条目。
	MaxHistoryDepth = 100
)

var (
	// ErrSaveInFlight 表示已有保存在执行中；并发保存被整体拒绝，
	// 由调用方决定何时重试。
	ErrSaveInFlight = errors.New("save already in flight")

	// ErrNotLoaded 表示会话尚未装载文档。
	ErrNotLoaded = errors.New("document not loaded")
)

// Loader 解析初始快照，通常由 document.Store 实现。
type Loader interface {
	Load(ctx context.Context, actorID, resumeID uint) (*document.Snapshot, error)
}

// Saver 持久化光标处的快照（整篇回写路径）。
type Saver interface {
	Save(ctx context.Context, actorID uint, snap *document.Snapshot) error
}

// Session 是单个编辑会话的文档状态机：线性历史、可撤销重做、
// 可缩放、可切换预览。快照只存在内存里，持久化必须显式 Save。
type Session struct {
	mu      sync.Mutex
	actorID uint
	loader  Loader
	saver   Saver
	logger  *slog.Logger

	history []document.Snapshot
	cursor  int
	zoom    int
	preview bool

	loadGen uint64
	saving  bool
}

// NewSession 构造空会话，zoom 取默认值。
func NewSession(actorID uint, loader Loader, saver Saver, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		actorID: actorID,
		loader:  loader,
		saver:   saver,
		logger:  logger,
		zoom:    ZoomDefault,
	}
}

// Load 装载指定简历并把历史重置为单元素序列。
// 并发 Load 采用 last-call-wins：过期结果到达时直接丢弃，
// 不会覆盖更新调用装出的快照。
func (s *Session) Load(ctx context.Context, resumeID uint) error {
	s.mu.Lock()
	s.loadGen++
	gen := s.loadGen
	s.mu.Unlock()

	snap, err := s.loader.Load(ctx, s.actorID, resumeID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.loadGen {
		// 已有更新的 Load 发出，本次结果作废。
		return nil
	}
	s.history = []document.Snapshot{snap.Clone()}
	s.cursor = 0
	return nil
}

// Merge 把补丁浅合并到光标处快照，截断重做分支后追加新快照。
// 撤销后的新编辑永久丢弃原重做未来：历史是线性栈，不是树。
// 空补丁在数据层面无变化，但仍产生一条历史（历史层不保证幂等）。
func (s *Session) Merge(p document.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return ErrNotLoaded
	}

	next := s.history[s.cursor].Apply(p)
	s.history = append(s.history[:s.cursor+1:s.cursor+1], next)
	s.cursor = len(s.history) - 1

	if len(s.history) > MaxHistoryDepth {
		drop := len(s.history) - MaxHistoryDepth
		s.history = append([]document.Snapshot(nil), s.history[drop:]...)
		s.cursor -= drop
	}
	return nil
}

// Undo 光标前移一格；已在最老快照时是安全的空操作。
func (s *Session) Undo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor > 0 {
		s.cursor--
	}
}

// Redo 光标后移一格；已在最新快照时是安全的空操作。
func (s *Session) Redo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < len(s.history)-1 {
		s.cursor++
	}
}

// CanUndo 报告是否存在可撤销的历史。
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor > 0
}

// CanRedo 报告是否存在可重做的历史。
func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor < len(s.history)-1
}

// Current 返回光标处快照的副本。
func (s *Session) Current() (document.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return document.Snapshot{}, ErrNotLoaded
	}
	return s.history[s.cursor].Clone(), nil
}

// ZoomIn 放大一档，封顶即空操作。
func (s *Session) ZoomIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zoom+ZoomStep <= ZoomMax {
		s.zoom += ZoomStep
	}
}

// ZoomOut 缩小一档，到底即空操作。
func (s *Session) ZoomOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zoom-ZoomStep >= ZoomMin {
		s.zoom -= ZoomStep
	}
}

// ZoomLevel 返回当前缩放百分比。
func (s *Session) ZoomLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

// TogglePreview 切换预览模式。预览态下消费方应把文档当只读处理。
func (s *Session) TogglePreview() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preview = !s.preview
	return s.preview
}

// PreviewMode 返回当前预览状态。
func (s *Session) PreviewMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// Saving 报告是否有保存在执行中。
func (s *Session) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

// HistoryLen 返回历史长度（含光标后的重做分支）。
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Cursor 返回光标下标。
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Save 把光标处快照交给持久化边界。同一会话同时只允许一个保存，
// 重叠调用返回 ErrSaveInFlight 而不是排队。
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if len(s.history) == 0 {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInFlight
	}
	s.saving = true
	snap := s.history[s.cursor].Clone()
	s.mu.Unlock()

	err := s.saver.Save(ctx, s.actorID, &snap)

	s.mu.Lock()
	s.saving = false
	s.mu.Unlock()
	return err
}
