package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/database"
	"cvforge/internal/sections"
)

// SectionRegistry 持有全部子项集合的管理器，并负责挂载路由。
// 七种同构子项共用同一套泛型处理逻辑，技能按 (resume_id, category) 分区。
type SectionRegistry struct {
	experiences    *sections.Manager[database.Experience, *database.Experience]
	educations     *sections.Manager[database.Education, *database.Education]
	skills         *sections.Manager[database.Skill, *database.Skill]
	languages      *sections.Manager[database.Language, *database.Language]
	certifications *sections.Manager[database.Certification, *database.Certification]
	projects       *sections.Manager[database.Project, *database.Project]
	achievements   *sections.Manager[database.Achievement, *database.Achievement]
	customSections *sections.Manager[database.CustomSection, *database.CustomSection]
}

// NewSectionRegistry 构造全部管理器。
func NewSectionRegistry(deps sections.Deps) *SectionRegistry {
	return &SectionRegistry{
		experiences:    sections.Experiences(deps),
		educations:     sections.Educations(deps),
		skills:         sections.Skills(deps),
		languages:      sections.Languages(deps),
		certifications: sections.Certifications(deps),
		projects:       sections.Projects(deps),
		achievements:   sections.Achievements(deps),
		customSections: sections.CustomSections(deps),
	}
}

// Mount 在 /:id 下挂载全部集合路由。
func (r *SectionRegistry) Mount(group *gin.RouterGroup) {
	mountSection(group, "experiences", r.experiences, resumePartition)
	mountSection(group, "educations", r.educations, resumePartition)
	mountSection(group, "skills", r.skills, skillPartition)
	mountSection(group, "languages", r.languages, resumePartition)
	mountSection(group, "certifications", r.certifications, resumePartition)
	mountSection(group, "projects", r.projects, resumePartition)
	mountSection(group, "achievements", r.achievements, resumePartition)
	mountSection(group, "custom-sections", r.customSections, resumePartition)
}

func resumePartition(resumeID uint, _ string) sections.Partition {
	return sections.Partition{ResumeID: resumeID}
}

func skillPartition(resumeID uint, category string) sections.Partition {
	return sections.Partition{ResumeID: resumeID, Category: category}
}

type sectionPtr[T any] interface {
	*T
	sections.Entry
}

func mountSection[T any, PT sectionPtr[T]](group *gin.RouterGroup, path string, mgr *sections.Manager[T, PT], partitionOf func(uint, string) sections.Partition) {
	col := group.Group("/:id/" + path)
	col.GET("", listSection(mgr))
	col.POST("", createSection(mgr))
	col.PUT("/order", reorderSection(mgr, partitionOf))
	col.PUT("/:entryID", updateSection(mgr))
	col.DELETE("/:entryID", removeSection(mgr))
}

func listSection[T any, PT sectionPtr[T]](mgr *sections.Manager[T, PT]) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, resumeID, ok := sectionScope(c)
		if !ok {
			return
		}

		entries, err := mgr.List(c.Request.Context(), actorID, resumeID)
		if err != nil {
			sectionError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func createSection[T any, PT sectionPtr[T]](mgr *sections.Manager[T, PT]) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, resumeID, ok := sectionScope(c)
		if !ok {
			return
		}

		entry, explicitOrder, err := bindEntryWithOrder[T, PT](c)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}

		if err := mgr.Add(c.Request.Context(), actorID, resumeID, entry, explicitOrder); err != nil {
			sectionError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	}
}

func updateSection[T any, PT sectionPtr[T]](mgr *sections.Manager[T, PT]) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, resumeID, ok := sectionScope(c)
		if !ok {
			return
		}
		entryID, err := parseResumeID(c.Param("entryID"))
		if err != nil {
			BadRequest(c, "invalid entry id")
			return
		}

		entry, explicitOrder, err := bindEntryWithOrder[T, PT](c)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}

		if err := mgr.Update(c.Request.Context(), actorID, resumeID, entryID, entry, explicitOrder); err != nil {
			sectionError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func removeSection[T any, PT sectionPtr[T]](mgr *sections.Manager[T, PT]) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, resumeID, ok := sectionScope(c)
		if !ok {
			return
		}
		entryID, err := parseResumeID(c.Param("entryID"))
		if err != nil {
			BadRequest(c, "invalid entry id")
			return
		}

		if err := mgr.Remove(c.Request.Context(), actorID, resumeID, entryID); err != nil {
			sectionError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type reorderRequest struct {
	IDs      []uint `json:"ids" binding:"required"`
	Category string `json:"category"`
}

func reorderSection[T any, PT sectionPtr[T]](mgr *sections.Manager[T, PT], partitionOf func(uint, string) sections.Partition) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, resumeID, ok := sectionScope(c)
		if !ok {
			return
		}

		var req reorderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}

		part := partitionOf(resumeID, req.Category)
		if err := mgr.Reorder(c.Request.Context(), actorID, part, req.IDs); err != nil {
			sectionError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// sectionScope 提取操作者与目标简历。归属校验在集合层做，这里只解析。
func sectionScope(c *gin.Context) (actorID, resumeID uint, ok bool) {
	actorID, found := userIDFromContext(c)
	if !found {
		AbortUnauthorized(c)
		return 0, 0, false
	}
	resumeID, err := parseResumeID(c.Param("id"))
	if err != nil {
		BadRequest(c, "invalid resume id")
		return 0, 0, false
	}
	return actorID, resumeID, true
}

// bindEntryWithOrder 解析实体并区分「显式给出的 order」与「缺省」。
// 缺省时追加到分区末尾，显式时按给定位置写入。
func bindEntryWithOrder[T any, PT sectionPtr[T]](c *gin.Context) (PT, *int, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, nil, err
	}

	entry := PT(new(T))
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, nil, err
	}

	var extra struct {
		Order *int `json:"order"`
	}
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, nil, err
	}
	return entry, extra.Order, nil
}
