package sections

import (
	"gorm.io/gorm"

	"cvforge/internal/database"
)

// byResume 是默认分区：整个简历共享一段稠密序号。
func byResume[T any, PT entryPtr[T]]() Kind[T, PT] {
	return Kind[T, PT]{
		PartitionOf: func(e PT) Partition {
			return Partition{ResumeID: e.OwnerResumeID()}
		},
		Scope: func(tx *gorm.DB, p Partition) *gorm.DB {
			return tx.Where("resume_id = ?", p.ResumeID)
		},
	}
}

// Experiences 构造工作经历管理器。
func Experiences(deps Deps) *Manager[database.Experience, *database.Experience] {
	kind := byResume[database.Experience]()
	kind.Name = "experiences"
	return NewManager(deps, kind)
}

// Educations 构造教育经历管理器。
func Educations(deps Deps) *Manager[database.Education, *database.Education] {
	kind := byResume[database.Education]()
	kind.Name = "educations"
	return NewManager(deps, kind)
}

// Skills 构造技能管理器。
// 技能的排序分区是 (resume_id, category)：不同分类各自维持稠密序号。
func Skills(deps Deps) *Manager[database.Skill, *database.Skill] {
	kind := Kind[database.Skill, *database.Skill]{
		Name: "skills",
		PartitionOf: func(e *database.Skill) Partition {
			return Partition{ResumeID: e.ResumeID, Category: e.Category}
		},
		Scope: func(tx *gorm.DB, p Partition) *gorm.DB {
			return tx.Where("resume_id = ? AND category = ?", p.ResumeID, p.Category)
		},
	}
	return NewManager(deps, kind)
}

// Languages 构造语言管理器。
func Languages(deps Deps) *Manager[database.Language, *database.Language] {
	kind := byResume[database.Language]()
	kind.Name = "languages"
	return NewManager(deps, kind)
}

// Certifications 构造证书管理器。
func Certifications(deps Deps) *Manager[database.Certification, *database.Certification] {
	kind := byResume[database.Certification]()
	kind.Name = "certifications"
	return NewManager(deps, kind)
}

// Projects 构造项目管理器。
func Projects(deps Deps) *Manager[database.Project, *database.Project] {
	kind := byResume[database.Project]()
	kind.Name = "projects"
	return NewManager(deps, kind)
}

// Achievements 构造成就管理器。
func Achievements(deps Deps) *Manager[database.Achievement, *database.Achievement] {
	kind := byResume[database.Achievement]()
	kind.Name = "achievements"
	return NewManager(deps, kind)
}

// CustomSections 构造自定义区块管理器。
func CustomSections(deps Deps) *Manager[database.CustomSection, *database.CustomSection] {
	kind := byResume[database.CustomSection]()
	kind.Name = "custom_sections"
	return NewManager(deps, kind)
}
