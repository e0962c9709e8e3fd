package document

import (
	"cvforge/internal/database"
)

// Snapshot 是一份简历的全量内存聚合：编辑器历史的基本单位。
// 它永远不是权威数据，保存时服务端会重新做归属与 schema 校验。
type Snapshot struct {
	ResumeID   uint   `json:"resume_id"`
	Title      string `json:"title"`
	TemplateID *uint  `json:"template_id,omitempty"`
	ThemeColor string `json:"theme_color"`
	FontFamily string `json:"font_family"`

	PersonalInfo   *database.PersonalInfo   `json:"personal_info,omitempty"`
	Experiences    []database.Experience    `json:"experiences"`
	Educations     []database.Education     `json:"educations"`
	Skills         []database.Skill         `json:"skills"`
	Languages      []database.Language      `json:"languages"`
	Certifications []database.Certification `json:"certifications"`
	Projects       []database.Project       `json:"projects"`
	Achievements   []database.Achievement   `json:"achievements"`
	CustomSections []database.CustomSection `json:"custom_sections"`
}

// Patch 是文档的部分更新：非 nil 的顶层键整体替换快照中的对应值。
// 合并是浅合并，集合字段以整段为替换单位。
type Patch struct {
	Title      *string `json:"title,omitempty"`
	TemplateID *uint   `json:"template_id,omitempty"`
	ThemeColor *string `json:"theme_color,omitempty"`
	FontFamily *string `json:"font_family,omitempty"`

	PersonalInfo   *database.PersonalInfo    `json:"personal_info,omitempty"`
	Experiences    *[]database.Experience    `json:"experiences,omitempty"`
	Educations     *[]database.Education     `json:"educations,omitempty"`
	Skills         *[]database.Skill         `json:"skills,omitempty"`
	Languages      *[]database.Language      `json:"languages,omitempty"`
	Certifications *[]database.Certification `json:"certifications,omitempty"`
	Projects       *[]database.Project       `json:"projects,omitempty"`
	Achievements   *[]database.Achievement   `json:"achievements,omitempty"`
	CustomSections *[]database.CustomSection `json:"custom_sections,omitempty"`
}

// Clone 返回快照的独立副本，历史条目之间不共享底层存储。
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.PersonalInfo != nil {
		pi := *s.PersonalInfo
		out.PersonalInfo = &pi
	}
	out.Experiences = cloneSlice(s.Experiences)
	out.Educations = cloneSlice(s.Educations)
	out.Skills = cloneSlice(s.Skills)
	out.Languages = cloneSlice(s.Languages)
	out.Certifications = cloneSlice(s.Certifications)
	out.Projects = cloneSlice(s.Projects)
	out.Achievements = cloneSlice(s.Achievements)
	out.CustomSections = cloneSlice(s.CustomSections)
	if s.TemplateID != nil {
		id := *s.TemplateID
		out.TemplateID = &id
	}
	return out
}

// Apply 把补丁浅合并到快照上，返回新的快照，原值不变。
func (s Snapshot) Apply(p Patch) Snapshot {
	out := s.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.TemplateID != nil {
		id := *p.TemplateID
		out.TemplateID = &id
	}
	if p.ThemeColor != nil {
		out.ThemeColor = *p.ThemeColor
	}
	if p.FontFamily != nil {
		out.FontFamily = *p.FontFamily
	}
	if p.PersonalInfo != nil {
		pi := *p.PersonalInfo
		out.PersonalInfo = &pi
	}
	if p.Experiences != nil {
		out.Experiences = cloneSlice(*p.Experiences)
	}
	if p.Educations != nil {
		out.Educations = cloneSlice(*p.Educations)
	}
	if p.Skills != nil {
		out.Skills = cloneSlice(*p.Skills)
	}
	if p.Languages != nil {
		out.Languages = cloneSlice(*p.Languages)
	}
	if p.Certifications != nil {
		out.Certifications = cloneSlice(*p.Certifications)
	}
	if p.Projects != nil {
		out.Projects = cloneSlice(*p.Projects)
	}
	if p.Achievements != nil {
		out.Achievements = cloneSlice(*p.Achievements)
	}
	if p.CustomSections != nil {
		out.CustomSections = cloneSlice(*p.CustomSections)
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
