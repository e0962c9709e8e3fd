package document

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/sections"
	"cvforge/internal/validate"
)

// Store 负责快照与关系模型之间的装配与回写。
type Store struct {
	db          *gorm.DB
	validator   *validate.Validator
	invalidator sections.Invalidator
	logger      *slog.Logger
}

// NewStore 构造 Store。invalidator 可为 nil（例如 Worker 只读场景）。
func NewStore(db *gorm.DB, validator *validate.Validator, invalidator sections.Invalidator, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, validator: validator, invalidator: invalidator, logger: logger}
}

// Load 装配指定简历的全量快照，归属不成立时返回 sections.ErrNotFound。
func (s *Store) Load(ctx context.Context, actorID, resumeID uint) (*Snapshot, error) {
	if actorID == 0 {
		return nil, sections.ErrNotAuthenticated
	}
	tx := s.db.WithContext(ctx)
	if err := sections.EnsureOwned(tx, resumeID, actorID); err != nil {
		return nil, err
	}
	return s.assemble(tx, resumeID)
}

// LoadUnchecked 跳过归属校验装配快照，仅供内部（Worker、内部打印接口）使用。
func (s *Store) LoadUnchecked(ctx context.Context, resumeID uint) (*Snapshot, error) {
	return s.assemble(s.db.WithContext(ctx), resumeID)
}

func (s *Store) assemble(tx *gorm.DB, resumeID uint) (*Snapshot, error) {
	var resume database.Resume
	err := tx.First(&resume, resumeID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, sections.ErrNotFound
	case err != nil:
		return nil, errors.Join(sections.ErrPersistence, err)
	}

	snap := &Snapshot{
		ResumeID:   resume.ID,
		Title:      resume.Title,
		TemplateID: resume.TemplateID,
		ThemeColor: resume.ThemeColor,
		FontFamily: resume.FontFamily,
	}

	var info database.PersonalInfo
	err = tx.Where("resume_id = ?", resumeID).First(&info).Error
	switch {
	case err == nil:
		snap.PersonalInfo = &info
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, errors.Join(sections.ErrPersistence, err)
	}

	if err := loadOrdered(tx, resumeID, "sort_order ASC", &snap.Experiences); err != nil {
		return nil, err
	}
	if err := loadOrdered(tx, resumeID, "sort_order ASC", &snap.Educations); err != nil {
		return nil, err
	}
	// 技能按分类分组展示，组内再按序号。
	if err := loadOrdered(tx, resumeID, "category ASC, sort_order ASC", &snap.Skills); err != nil {
		return nil, err
	}
	if err := loadOrdered(tx, resumeID, "sort_order ASC", &snap.Languages); err != nil {
		return nil, err
	}
	if err := loadOrdered(tx, resumeID, "sort_order ASC", &snap.Certifications); err != nil {
		return nil, err
	}
	if err := loadOrdered(tx, resumeID, "sort_order ASC", &snap.Projects); err != nil {
		return nil, err
	}
	if err := loadOrdered(tx, resumeID, "sort_order ASC", &snap.Achievements); err != nil {
		return nil, err
	}
	if err := loadOrdered(tx, resumeID, "sort_order ASC", &snap.CustomSections); err != nil {
		return nil, err
	}

	return snap, nil
}

func loadOrdered[T any](tx *gorm.DB, resumeID uint, order string, dest *[]T) error {
	if err := tx.Where("resume_id = ?", resumeID).Order(order).Find(dest).Error; err != nil {
		return errors.Join(sections.ErrPersistence, err)
	}
	return nil
}

// Save 以整篇文档为单位回写：在一个事务内覆盖简历标量字段、
// 个人信息与全部子集合，序号按切片下标重新赋值（技能按分类分别计数）。
// 客户端快照不可信，保存前重做归属与 schema 校验。
func (s *Store) Save(ctx context.Context, actorID uint, snap *Snapshot) error {
	if actorID == 0 {
		return sections.ErrNotAuthenticated
	}
	if err := s.validateSnapshot(snap); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sections.EnsureOwned(tx, snap.ResumeID, actorID); err != nil {
			return err
		}

		updates := map[string]any{
			"title":       snap.Title,
			"template_id": snap.TemplateID,
			"theme_color": snap.ThemeColor,
			"font_family": snap.FontFamily,
		}
		if err := tx.Model(&database.Resume{}).
			Where("id = ?", snap.ResumeID).
			Updates(updates).Error; err != nil {
			return errors.Join(sections.ErrPersistence, err)
		}

		if err := s.savePersonalInfo(tx, snap); err != nil {
			return err
		}

		if err := replaceOrdered(tx, snap.ResumeID, snap.Experiences, nil); err != nil {
			return err
		}
		if err := replaceOrdered(tx, snap.ResumeID, snap.Educations, nil); err != nil {
			return err
		}
		if err := replaceOrdered(tx, snap.ResumeID, snap.Skills, func(sk *database.Skill) string { return sk.Category }); err != nil {
			return err
		}
		if err := replaceOrdered(tx, snap.ResumeID, snap.Languages, nil); err != nil {
			return err
		}
		if err := replaceOrdered(tx, snap.ResumeID, snap.Certifications, nil); err != nil {
			return err
		}
		if err := replaceOrdered(tx, snap.ResumeID, snap.Projects, nil); err != nil {
			return err
		}
		if err := replaceOrdered(tx, snap.ResumeID, snap.Achievements, nil); err != nil {
			return err
		}
		if err := replaceOrdered(tx, snap.ResumeID, snap.CustomSections, nil); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, snap.ResumeID)
	}
	return nil
}

func (s *Store) validateSnapshot(snap *Snapshot) error {
	if snap.PersonalInfo != nil {
		if err := s.validator.Struct(snap.PersonalInfo); err != nil {
			return err
		}
	}
	for i := range snap.Experiences {
		if err := s.validator.Struct(&snap.Experiences[i]); err != nil {
			return err
		}
	}
	for i := range snap.Educations {
		if err := s.validator.Struct(&snap.Educations[i]); err != nil {
			return err
		}
	}
	for i := range snap.Skills {
		if err := s.validator.Struct(&snap.Skills[i]); err != nil {
			return err
		}
	}
	for i := range snap.Languages {
		if err := s.validator.Struct(&snap.Languages[i]); err != nil {
			return err
		}
	}
	for i := range snap.Certifications {
		if err := s.validator.Struct(&snap.Certifications[i]); err != nil {
			return err
		}
	}
	for i := range snap.Projects {
		if err := s.validator.Struct(&snap.Projects[i]); err != nil {
			return err
		}
	}
	for i := range snap.Achievements {
		if err := s.validator.Struct(&snap.Achievements[i]); err != nil {
			return err
		}
	}
	for i := range snap.CustomSections {
		if err := s.validator.Struct(&snap.CustomSections[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) savePersonalInfo(tx *gorm.DB, snap *Snapshot) error {
	if snap.PersonalInfo == nil {
		if err := tx.Unscoped().
			Where("resume_id = ?", snap.ResumeID).
			Delete(&database.PersonalInfo{}).Error; err != nil {
			return errors.Join(sections.ErrPersistence, err)
		}
		return nil
	}

	info := *snap.PersonalInfo
	info.ID = 0
	info.ResumeID = snap.ResumeID

	if err := tx.Unscoped().
		Where("resume_id = ?", snap.ResumeID).
		Delete(&database.PersonalInfo{}).Error; err != nil {
		return errors.Join(sections.ErrPersistence, err)
	}
	if err := tx.Create(&info).Error; err != nil {
		return errors.Join(sections.ErrPersistence, err)
	}
	return nil
}

// replaceOrdered 以重建方式回写一个集合：旧行物理删除，新行按出现顺序
// 获得稠密序号。partition 非 nil 时序号在各分区内分别从 0 计数。
func replaceOrdered[T any, PT interface {
	*T
	sections.Entry
	SetPrimaryID(uint)
}](tx *gorm.DB, resumeID uint, rows []T, partition func(PT) string) error {
	if err := tx.Unscoped().
		Where("resume_id = ?", resumeID).
		Delete(new(T)).Error; err != nil {
		return errors.Join(sections.ErrPersistence, err)
	}
	if len(rows) == 0 {
		return nil
	}

	counters := make(map[string]int)
	fresh := make([]T, len(rows))
	copy(fresh, rows)
	for i := range fresh {
		entry := PT(&fresh[i])
		entry.SetOwnerResumeID(resumeID)

		key := ""
		if partition != nil {
			key = partition(entry)
		}
		entry.SetOrderIndex(counters[key])
		counters[key]++
	}

	// 主键清零后由存储重新分配，避免快照携带过期 id。
	for i := range fresh {
		PT(&fresh[i]).SetPrimaryID(0)
	}
	if err := tx.Create(&fresh).Error; err != nil {
		return errors.Join(sections.ErrPersistence, err)
	}
	return nil
}
