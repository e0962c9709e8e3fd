package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的账号信息，身份以邮箱为键。
type User struct {
	gorm.Model
	Email              string   `gorm:"uniqueIndex;size:255"`
	PasswordHash       string   `gorm:"size:255"`
	MustChangePassword bool     `gorm:"default:false"`
	ActiveResumeID     *uint    `gorm:"index"`
	Resumes            []Resume `gorm:"constraint:OnDelete:CASCADE"`
}

// Resume 表示用户创建的一份简历，聚合全部子分区。
type Resume struct {
	gorm.Model
	Title           string `gorm:"size:255" json:"title"`
	UserID          uint   `gorm:"index" json:"-"`
	User            User   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	TemplateID      *uint  `gorm:"index" json:"template_id,omitempty"`
	ThemeColor      string `gorm:"size:32" json:"theme_color"`
	FontFamily      string `gorm:"size:64" json:"font_family"`
	PhotoObjectKey  string `gorm:"size:512" json:"photo_object_key,omitempty"`
	PdfURL          string `gorm:"size:512" json:"-"`
	Status          string `gorm:"size:32" json:"status,omitempty"`
	PreviewImageURL string `gorm:"size:1024" json:"preview_image_url,omitempty"`

	PersonalInfo   *PersonalInfo   `gorm:"constraint:OnDelete:CASCADE" json:"personal_info,omitempty"`
	Experiences    []Experience    `gorm:"constraint:OnDelete:CASCADE" json:"experiences,omitempty"`
	Educations     []Education     `gorm:"constraint:OnDelete:CASCADE" json:"educations,omitempty"`
	Skills         []Skill         `gorm:"constraint:OnDelete:CASCADE" json:"skills,omitempty"`
	Languages      []Language      `gorm:"constraint:OnDelete:CASCADE" json:"languages,omitempty"`
	Certifications []Certification `gorm:"constraint:OnDelete:CASCADE" json:"certifications,omitempty"`
	Projects       []Project       `gorm:"constraint:OnDelete:CASCADE" json:"projects,omitempty"`
	Achievements   []Achievement   `gorm:"constraint:OnDelete:CASCADE" json:"achievements,omitempty"`
	CustomSections []CustomSection `gorm:"constraint:OnDelete:CASCADE" json:"custom_sections,omitempty"`
}

// Ordered 为有序子项提供归属与排序字段。
// 同一分区内 sort_order 必须是 0..n-1 的稠密排列。
type Ordered struct {
	ResumeID  uint `gorm:"index;not null" json:"resume_id"`
	SortOrder int  `gorm:"column:sort_order;not null" json:"order"`
}

func (o Ordered) OwnerResumeID() uint { return o.ResumeID }

func (o *Ordered) SetOwnerResumeID(id uint) { o.ResumeID = id }

func (o Ordered) OrderIndex() int { return o.SortOrder }

func (o *Ordered) SetOrderIndex(i int) { o.SortOrder = i }

// PersonalInfo 是简历的 1:1 个人信息块。
type PersonalInfo struct {
	gorm.Model
	ResumeID uint   `gorm:"uniqueIndex;not null" json:"resume_id"`
	FullName string `gorm:"size:255" json:"full_name" validate:"required,max=255"`
	Headline string `gorm:"size:255" json:"headline"`
	Email    string `gorm:"size:255" json:"email" validate:"omitempty,email"`
	Phone    string `gorm:"size:64" json:"phone"`
	Location string `gorm:"size:255" json:"location"`
	Website  string `gorm:"size:512" json:"website" validate:"omitempty,url"`
	Summary  string `gorm:"type:text" json:"summary"`
	PhotoKey string `gorm:"size:512" json:"photo_key"`
}

// Experience 工作经历条目。
type Experience struct {
	gorm.Model
	Ordered
	Company     string `gorm:"size:255" json:"company" validate:"required,max=255"`
	Position    string `gorm:"size:255" json:"position" validate:"required,max=255"`
	StartDate   string `gorm:"size:16" json:"start_date" validate:"omitempty,yearmonth"`
	EndDate     string `gorm:"size:16" json:"end_date" validate:"omitempty,yearmonth"`
	Current     bool   `json:"current"`
	Description string `gorm:"type:text" json:"description"`
}

func (m *Experience) PrimaryID() uint { return m.ID }

func (m *Experience) SetPrimaryID(id uint) { m.ID = id }

// Education 教育经历条目。
type Education struct {
	gorm.Model
	Ordered
	School      string `gorm:"size:255" json:"school" validate:"required,max=255"`
	Degree      string `gorm:"size:255" json:"degree" validate:"max=255"`
	Field       string `gorm:"size:255" json:"field"`
	StartDate   string `gorm:"size:16" json:"start_date" validate:"omitempty,yearmonth"`
	EndDate     string `gorm:"size:16" json:"end_date" validate:"omitempty,yearmonth"`
	Description string `gorm:"type:text" json:"description"`
}

func (m *Education) PrimaryID() uint { return m.ID }

func (m *Education) SetPrimaryID(id uint) { m.ID = id }

// Skill 技能条目。排序分区为 (resume_id, category)，Level 取 0-100。
type Skill struct {
	gorm.Model
	Ordered
	Name     string `gorm:"size:255" json:"name" validate:"required,max=255"`
	Category string `gorm:"size:64;index" json:"category" validate:"max=64"`
	Level    int    `json:"level" validate:"gte=0,lte=100"`
}

func (m *Skill) PrimaryID() uint { return m.ID }

func (m *Skill) SetPrimaryID(id uint) { m.ID = id }

// Language 语言条目。Level 取 0-5。
type Language struct {
	gorm.Model
	Ordered
	Name  string `gorm:"size:255" json:"name" validate:"required,max=255"`
	Level int    `json:"level" validate:"gte=0,lte=5"`
}

func (m *Language) PrimaryID() uint { return m.ID }

func (m *Language) SetPrimaryID(id uint) { m.ID = id }

// Certification 证书条目。
type Certification struct {
	gorm.Model
	Ordered
	Name       string `gorm:"size:255" json:"name" validate:"required,max=255"`
	Issuer     string `gorm:"size:255" json:"issuer" validate:"max=255"`
	IssueDate  string `gorm:"size:16" json:"issue_date" validate:"omitempty,yearmonth"`
	Credential string `gorm:"size:512" json:"credential"`
}

func (m *Certification) PrimaryID() uint { return m.ID }

func (m *Certification) SetPrimaryID(id uint) { m.ID = id }

// Project 项目条目。
type Project struct {
	gorm.Model
	Ordered
	Name        string `gorm:"size:255" json:"name" validate:"required,max=255"`
	Link        string `gorm:"size:512" json:"link" validate:"omitempty,url"`
	StartDate   string `gorm:"size:16" json:"start_date" validate:"omitempty,yearmonth"`
	EndDate     string `gorm:"size:16" json:"end_date" validate:"omitempty,yearmonth"`
	Description string `gorm:"type:text" json:"description"`
}

func (m *Project) PrimaryID() uint { return m.ID }

func (m *Project) SetPrimaryID(id uint) { m.ID = id }

// Achievement 成就条目。
type Achievement struct {
	gorm.Model
	Ordered
	Title       string `gorm:"size:255" json:"title" validate:"required,max=255"`
	Date        string `gorm:"size:16" json:"date" validate:"omitempty,yearmonth"`
	Description string `gorm:"type:text" json:"description"`
}

func (m *Achievement) PrimaryID() uint { return m.ID }

func (m *Achievement) SetPrimaryID(id uint) { m.ID = id }

// CustomSection 自定义区块，正文为自由格式 JSON。
type CustomSection struct {
	gorm.Model
	Ordered
	Title   string         `gorm:"size:255" json:"title" validate:"required,max=255"`
	Content datatypes.JSON `gorm:"type:jsonb" json:"content"`
}

func (m *CustomSection) PrimaryID() uint { return m.ID }

func (m *CustomSection) SetPrimaryID(id uint) { m.ID = id }

// Template 表示可复用的简历模板。
// 支持私有与公开模板（IsPublic），并归属于创建者（UserID）。
type Template struct {
	gorm.Model
	Title           string         `gorm:"size:255"`
	PreviewImageURL string         `gorm:"size:512"`
	Content         datatypes.JSON `gorm:"type:jsonb"` // JSONB 存储版式配置
	IsPublic        bool           `gorm:"default:false"`
	UserID          uint           `gorm:"index"`
	User            User           `gorm:"constraint:OnDelete:CASCADE"`
}

// AllModels 返回 AutoMigrate 所需的全部模型。
func AllModels() []any {
	return []any{
		&User{},
		&Resume{},
		&PersonalInfo{},
		&Experience{},
		&Education{},
		&Skill{},
		&Language{},
		&Certification{},
		&Project{},
		&Achievement{},
		&CustomSection{},
		&Template{},
	}
}
