package worker

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"cvforge/internal/document"
)

// resumeTemplateString 是服务端 PDF 渲染的 HTML 模板。
// 打印尺寸按 A4 @ 96 DPI 固定，分页交给 Chromium 的 CSS 分页规则。
const resumeTemplateString = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        @page { size: A4; margin: 0; }
        body {
            margin: 0;
            padding: 0;
            font-family: '{{.FontFamily}}', 'Helvetica Neue', sans-serif;
            font-size: 10pt;
            color: #222;
        }
        .page {
            width: 794px;
            min-height: 1122px;
            box-sizing: border-box;
            padding: 48px 56px;
            background: white;
        }
        h1 { font-size: 22pt; margin: 0 0 2px; color: {{.ThemeColor}}; }
        h2 {
            font-size: 12pt;
            margin: 18px 0 8px;
            padding-bottom: 3px;
            border-bottom: 2px solid {{.ThemeColor}};
            text-transform: uppercase;
            letter-spacing: 1px;
        }
        .headline { font-size: 11pt; color: #555; margin-bottom: 6px; }
        .contact { font-size: 9pt; color: #666; }
        .contact span + span::before { content: " · "; }
        .photo { float: right; width: 96px; height: 96px; object-fit: cover; border-radius: 4px; }
        .entry { margin-bottom: 10px; page-break-inside: avoid; }
        .entry-head { display: flex; justify-content: space-between; }
        .entry-title { font-weight: bold; }
        .entry-sub { color: #555; }
        .entry-dates { color: #777; font-size: 9pt; white-space: nowrap; }
        .entry-desc { margin-top: 2px; white-space: pre-wrap; }
        .skill-category { font-weight: bold; margin-top: 4px; }
        .skill-row { display: flex; align-items: center; gap: 8px; margin: 2px 0; }
        .skill-name { width: 160px; }
        .skill-bar { flex: 1; height: 6px; background: #eee; border-radius: 3px; }
        .skill-fill { height: 6px; background: {{.ThemeColor}}; border-radius: 3px; }
        .lang-row { margin: 2px 0; }
    </style>
</head>
<body>
<div class="page">
    {{with .PhotoURL}}<img class="photo" src="{{.}}" />{{end}}

    {{with .Snapshot.PersonalInfo}}
        <h1>{{.FullName}}</h1>
        {{with .Headline}}<div class="headline">{{.}}</div>{{end}}
        <div class="contact">
            {{with .Email}}<span>{{.}}</span>{{end}}
            {{with .Phone}}<span>{{.}}</span>{{end}}
            {{with .Location}}<span>{{.}}</span>{{end}}
            {{with .Website}}<span>{{.}}</span>{{end}}
        </div>
        {{with .Summary}}<div class="entry-desc" style="margin-top:10px">{{.}}</div>{{end}}
    {{else}}
        <h1>{{.Snapshot.Title}}</h1>
    {{end}}

    {{with .Snapshot.Experiences}}
    <h2>Experience</h2>
    {{range .}}
    <div class="entry">
        <div class="entry-head">
            <div><span class="entry-title">{{.Position}}</span> <span class="entry-sub">· {{.Company}}</span></div>
            <div class="entry-dates">{{dateRange .StartDate .EndDate .Current}}</div>
        </div>
        {{with .Description}}<div class="entry-desc">{{.}}</div>{{end}}
    </div>
    {{end}}
    {{end}}

    {{with .Snapshot.Educations}}
    <h2>Education</h2>
    {{range .}}
    <div class="entry">
        <div class="entry-head">
            <div><span class="entry-title">{{.School}}</span>{{if .Degree}} <span class="entry-sub">· {{.Degree}}{{with .Field}}, {{.}}{{end}}</span>{{end}}</div>
            <div class="entry-dates">{{dateRange .StartDate .EndDate false}}</div>
        </div>
        {{with .Description}}<div class="entry-desc">{{.}}</div>{{end}}
    </div>
    {{end}}
    {{end}}

    {{with .SkillGroups}}
    <h2>Skills</h2>
    {{range .}}
        {{with .Category}}<div class="skill-category">{{.}}</div>{{end}}
        {{range .Skills}}
        <div class="skill-row">
            <div class="skill-name">{{.Name}}</div>
            <div class="skill-bar"><div class="skill-fill" style="width: {{.Level}}%"></div></div>
        </div>
        {{end}}
    {{end}}
    {{end}}

    {{with .Snapshot.Languages}}
    <h2>Languages</h2>
    {{range .}}<div class="lang-row">{{.Name}} — {{langLabel .Level}}</div>{{end}}
    {{end}}

    {{with .Snapshot.Projects}}
    <h2>Projects</h2>
    {{range .}}
    <div class="entry">
        <div class="entry-head">
            <div><span class="entry-title">{{.Name}}</span>{{with .Link}} <span class="entry-sub">· {{.}}</span>{{end}}</div>
            <div class="entry-dates">{{dateRange .StartDate .EndDate false}}</div>
        </div>
        {{with .Description}}<div class="entry-desc">{{.}}</div>{{end}}
    </div>
    {{end}}
    {{end}}

    {{with .Snapshot.Certifications}}
    <h2>Certifications</h2>
    {{range .}}
    <div class="entry">
        <div class="entry-head">
            <div><span class="entry-title">{{.Name}}</span>{{with .Issuer}} <span class="entry-sub">· {{.}}</span>{{end}}</div>
            <div class="entry-dates">{{.IssueDate}}</div>
        </div>
    </div>
    {{end}}
    {{end}}

    {{with .Snapshot.Achievements}}
    <h2>Achievements</h2>
    {{range .}}
    <div class="entry">
        <div class="entry-head">
            <div><span class="entry-title">{{.Title}}</span></div>
            <div class="entry-dates">{{.Date}}</div>
        </div>
        {{with .Description}}<div class="entry-desc">{{.}}</div>{{end}}
    </div>
    {{end}}
    {{end}}
</div>
</body>
</html>`

var languageLevelLabels = [...]string{
	"Basic", "Elementary", "Limited Working", "Professional Working", "Full Professional", "Native",
}

var resumeTemplate = template.Must(template.New("resume").Funcs(template.FuncMap{
	"dateRange": func(start, end string, current bool) string {
		switch {
		case start == "" && end == "" && !current:
			return ""
		case current:
			return fmt.Sprintf("%s – Present", start)
		case end == "":
			return start
		default:
			return fmt.Sprintf("%s – %s", start, end)
		}
	},
	"langLabel": func(level int) string {
		if level < 0 || level >= len(languageLevelLabels) {
			return ""
		}
		return languageLevelLabels[level]
	},
}).Parse(resumeTemplateString))

type skillGroup struct {
	Category string
	Skills   []renderSkill
}

type renderSkill struct {
	Name  string
	Level int
}

type renderData struct {
	Snapshot    *document.Snapshot
	PhotoURL    template.URL
	FontFamily  string
	ThemeColor  template.CSS
	SkillGroups []skillGroup
}

// RenderResumeHTML 把简历快照渲染为可打印的 HTML。
// photoURL 为空时不渲染照片区域。
func RenderResumeHTML(snap *document.Snapshot, photoURL string) (string, error) {
	fontFamily := strings.TrimSpace(snap.FontFamily)
	if fontFamily == "" {
		fontFamily = "Inter"
	}
	themeColor := strings.TrimSpace(snap.ThemeColor)
	if !isSafeCSSColor(themeColor) {
		themeColor = "#1a56db"
	}

	data := renderData{
		Snapshot:    snap,
		PhotoURL:    template.URL(photoURL),
		FontFamily:  fontFamily,
		ThemeColor:  template.CSS(themeColor),
		SkillGroups: groupSkills(snap),
	}

	var buf bytes.Buffer
	if err := resumeTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute resume template: %w", err)
	}
	return buf.String(), nil
}

// groupSkills 按 category 分组，保留快照内的既有顺序。
func groupSkills(snap *document.Snapshot) []skillGroup {
	var groups []skillGroup
	index := make(map[string]int)
	for _, s := range snap.Skills {
		i, ok := index[s.Category]
		if !ok {
			i = len(groups)
			index[s.Category] = i
			groups = append(groups, skillGroup{Category: s.Category})
		}
		groups[i].Skills = append(groups[i].Skills, renderSkill{Name: s.Name, Level: clampPercent(s.Level)})
	}
	return groups
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// isSafeCSSColor 只放行 #rgb/#rrggbb 形式，主题色会被注入到 <style>。
func isSafeCSSColor(s string) bool {
	if len(s) != 4 && len(s) != 7 {
		return false
	}
	if s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
