package sections

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/validate"
)

// Entry 是所有有序子项模型共同实现的最小接口。
type Entry interface {
	PrimaryID() uint
	OwnerResumeID() uint
	SetOwnerResumeID(uint)
	OrderIndex() int
	SetOrderIndex(int)
}

type entryPtr[T any] interface {
	*T
	Entry
}

// Partition 标识一段必须保持稠密排序的范围。
// 除 Skill 按 (resume_id, category) 分区外，其余类型 Category 为空。
type Partition struct {
	ResumeID uint
	Category string
}

// Kind 是实体类型描述符：分区推导与范围查询作为数据传入，
// 七种子项共用同一套操作逻辑。
type Kind[T any, PT entryPtr[T]] struct {
	// Name 用于日志、指标与缓存键。
	Name string
	// PartitionOf 从实体推导其排序分区。
	PartitionOf func(PT) Partition
	// Scope 把查询限定到分区内的行。
	Scope func(tx *gorm.DB, p Partition) *gorm.DB
}

// Invalidator 在成功变更后触发编辑视图缓存失效。
// 失效失败只记日志，不作为操作失败传播。
type Invalidator interface {
	Invalidate(ctx context.Context, resumeID uint)
}

// Observer 记录每次成功的分区操作，用于指标上报。
type Observer interface {
	SectionMutation(kind, op string)
}

// Deps 聚合 Manager 的外部依赖，显式注入以便测试替换。
type Deps struct {
	DB          *gorm.DB
	Validator   *validate.Validator
	Invalidator Invalidator
	Observer    Observer
	Logger      *slog.Logger
}

// Manager 对单个实体类型执行归属校验、schema 校验与稠密排序维护。
type Manager[T any, PT entryPtr[T]] struct {
	deps Deps
	kind Kind[T, PT]
}

// NewManager 构造指定类型的管理器。
func NewManager[T any, PT entryPtr[T]](deps Deps, kind Kind[T, PT]) *Manager[T, PT] {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager[T, PT]{deps: deps, kind: kind}
}

// KindName 返回描述符名称。
func (m *Manager[T, PT]) KindName() string { return m.kind.Name }

// EnsureOwned 每次调用都从数据库重新推导归属关系：
// 子项 id 可枚举，跨简历篡改必须闭合失败，而不是信任客户端声明。
func EnsureOwned(tx *gorm.DB, resumeID, actorID uint) error {
	var count int64
	if err := tx.Model(&database.Resume{}).
		Where("id = ? AND user_id = ?", resumeID, actorID).
		Count(&count).Error; err != nil {
		return errors.Join(ErrPersistence, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// List 返回分区内按 sort_order 排列的全部条目。
func (m *Manager[T, PT]) List(ctx context.Context, actorID, resumeID uint) ([]T, error) {
	if actorID == 0 {
		return nil, ErrNotAuthenticated
	}
	tx := m.deps.DB.WithContext(ctx)
	if err := EnsureOwned(tx, resumeID, actorID); err != nil {
		return nil, err
	}

	var rows []T
	if err := tx.Where("resume_id = ?", resumeID).
		Order("sort_order ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	return rows, nil
}

// Add 校验并持久化一个新条目。
// explicitOrder 为 nil 时追加到分区末尾；否则视为插入位置：
// 夹取到 [0, n] 并在同一事务内为其后的兄弟让位，
// 分区序号始终保持 0..n-1 的稠密排列。
func (m *Manager[T, PT]) Add(ctx context.Context, actorID, resumeID uint, entry PT, explicitOrder *int) error {
	if actorID == 0 {
		return ErrNotAuthenticated
	}
	if err := m.deps.Validator.Struct(entry); err != nil {
		return err
	}

	entry.SetOwnerResumeID(resumeID)

	err := m.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := EnsureOwned(tx, resumeID, actorID); err != nil {
			return err
		}

		part := m.kind.PartitionOf(entry)
		next, err := m.nextOrder(tx, part)
		if err != nil {
			return err
		}

		pos := next
		if explicitOrder != nil {
			pos = clampOrder(*explicitOrder, next)
			if pos < next {
				if err := m.shiftUpFrom(tx, part, pos); err != nil {
					return err
				}
			}
		}
		entry.SetOrderIndex(pos)

		if err := tx.Create(entry).Error; err != nil {
			return errors.Join(ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.afterMutation(ctx, resumeID, "add")
	return nil
}

// Update 覆盖既有条目的字段。未显式提供 order 时保留原值；
// 显式提供时视为目标位置，兄弟条目在同一事务内让位，
// 跨分区移动（如技能改类别）先闭合旧分区空洞再插入新分区。
func (m *Manager[T, PT]) Update(ctx context.Context, actorID, resumeID, entryID uint, entry PT, explicitOrder *int) error {
	if actorID == 0 {
		return ErrNotAuthenticated
	}
	if err := m.deps.Validator.Struct(entry); err != nil {
		return err
	}

	err := m.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := EnsureOwned(tx, resumeID, actorID); err != nil {
			return err
		}

		existing, err := m.findInResume(tx, resumeID, entryID)
		if err != nil {
			return err
		}

		entry.SetOwnerResumeID(resumeID)

		oldPart := m.kind.PartitionOf(existing)
		newPart := m.kind.PartitionOf(entry)
		oldPos := existing.OrderIndex()

		if newPart != oldPart {
			// 离开旧分区：其后的兄弟各减一。
			if err := m.shiftDownAfter(tx, oldPart, oldPos); err != nil {
				return err
			}
			next, err := m.nextOrder(tx, newPart)
			if err != nil {
				return err
			}
			pos := next
			if explicitOrder != nil {
				pos = clampOrder(*explicitOrder, next)
				if pos < next {
					if err := m.shiftUpFrom(tx, newPart, pos); err != nil {
						return err
					}
				}
			}
			entry.SetOrderIndex(pos)
		} else if explicitOrder != nil {
			next, err := m.nextOrder(tx, oldPart)
			if err != nil {
				return err
			}
			// 行本身仍占一个位置，目标上限是 n-1。
			pos := clampOrder(*explicitOrder, next-1)
			switch {
			case pos < oldPos:
				if err := m.kind.Scope(tx.Model(new(T)), oldPart).
					Where("sort_order >= ? AND sort_order < ?", pos, oldPos).
					UpdateColumn("sort_order", gorm.Expr("sort_order + 1")).Error; err != nil {
					return errors.Join(ErrPersistence, err)
				}
			case pos > oldPos:
				if err := m.kind.Scope(tx.Model(new(T)), oldPart).
					Where("sort_order > ? AND sort_order <= ?", oldPos, pos).
					UpdateColumn("sort_order", gorm.Expr("sort_order - 1")).Error; err != nil {
					return errors.Join(ErrPersistence, err)
				}
			}
			entry.SetOrderIndex(pos)
		} else {
			entry.SetOrderIndex(oldPos)
		}

		if err := tx.Model(existing).
			Select("*").
			Omit("id", "created_at", "deleted_at").
			Updates(entry).Error; err != nil {
			return errors.Join(ErrPersistence, err)
		}

		// 回读，使调用方拿到包含主键与时间戳的完整条目。
		if err := tx.First(entry, existing.PrimaryID()).Error; err != nil {
			return errors.Join(ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.afterMutation(ctx, resumeID, "update")
	return nil
}

// Remove 删除条目并在同一事务内闭合序号空洞：
// 分区内所有 sort_order 大于被删条目的行各减一。
func (m *Manager[T, PT]) Remove(ctx context.Context, actorID, resumeID, entryID uint) error {
	if actorID == 0 {
		return ErrNotAuthenticated
	}

	err := m.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := EnsureOwned(tx, resumeID, actorID); err != nil {
			return err
		}

		existing, err := m.findInResume(tx, resumeID, entryID)
		if err != nil {
			return err
		}

		if err := tx.Delete(existing).Error; err != nil {
			return errors.Join(ErrPersistence, err)
		}

		part := m.kind.PartitionOf(existing)
		if err := m.shiftDownAfter(tx, part, existing.OrderIndex()); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.afterMutation(ctx, resumeID, "remove")
	return nil
}

// Reorder 将分区内条目的 sort_order 重写为给定 id 列表的下标。
// 列表必须恰好等于分区现有 id 集合，否则整体拒绝。
func (m *Manager[T, PT]) Reorder(ctx context.Context, actorID uint, part Partition, orderedIDs []uint) error {
	if actorID == 0 {
		return ErrNotAuthenticated
	}

	err := m.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := EnsureOwned(tx, part.ResumeID, actorID); err != nil {
			return err
		}

		var current []uint
		if err := m.kind.Scope(tx.Model(new(T)), part).
			Pluck("id", &current).Error; err != nil {
			return errors.Join(ErrPersistence, err)
		}

		if !sameIDSet(current, orderedIDs) {
			return ErrInvalidReorderSet
		}

		for i, id := range orderedIDs {
			if err := m.kind.Scope(tx.Model(new(T)), part).
				Where("id = ?", id).
				UpdateColumn("sort_order", i).Error; err != nil {
				return errors.Join(ErrPersistence, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.afterMutation(ctx, part.ResumeID, "reorder")
	return nil
}

func (m *Manager[T, PT]) findInResume(tx *gorm.DB, resumeID, entryID uint) (PT, error) {
	var row T
	entry := PT(&row)
	err := tx.Where("id = ? AND resume_id = ?", entryID, resumeID).First(entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, errors.Join(ErrPersistence, err)
	}
	return entry, nil
}

// clampOrder 把请求的位置夹取到 [0, limit]。
func clampOrder(order, limit int) int {
	if order < 0 {
		return 0
	}
	if order > limit {
		return limit
	}
	return order
}

// shiftUpFrom 为插入让位：分区内 sort_order >= from 的行各加一。
func (m *Manager[T, PT]) shiftUpFrom(tx *gorm.DB, part Partition, from int) error {
	if err := m.kind.Scope(tx.Model(new(T)), part).
		Where("sort_order >= ?", from).
		UpdateColumn("sort_order", gorm.Expr("sort_order + 1")).Error; err != nil {
		return errors.Join(ErrPersistence, err)
	}
	return nil
}

// shiftDownAfter 闭合空洞：分区内 sort_order > after 的行各减一。
func (m *Manager[T, PT]) shiftDownAfter(tx *gorm.DB, part Partition, after int) error {
	if err := m.kind.Scope(tx.Model(new(T)), part).
		Where("sort_order > ?", after).
		UpdateColumn("sort_order", gorm.Expr("sort_order - 1")).Error; err != nil {
		return errors.Join(ErrPersistence, err)
	}
	return nil
}

func (m *Manager[T, PT]) nextOrder(tx *gorm.DB, part Partition) (int, error) {
	var max int
	err := m.kind.Scope(tx.Model(new(T)), part).
		Select("COALESCE(MAX(sort_order), -1)").
		Scan(&max).Error
	if err != nil {
		return 0, errors.Join(ErrPersistence, err)
	}
	return max + 1, nil
}

func (m *Manager[T, PT]) afterMutation(ctx context.Context, resumeID uint, op string) {
	if m.deps.Observer != nil {
		m.deps.Observer.SectionMutation(m.kind.Name, op)
	}
	if m.deps.Invalidator != nil {
		m.deps.Invalidator.Invalidate(ctx, resumeID)
	}
}

func sameIDSet(current, proposed []uint) bool {
	if len(current) != len(proposed) {
		return false
	}
	seen := make(map[uint]struct{}, len(current))
	for _, id := range current {
		seen[id] = struct{}{}
	}
	for _, id := range proposed {
		if _, ok := seen[id]; !ok {
			return false
		}
		delete(seen, id)
	}
	return len(seen) == 0
}
