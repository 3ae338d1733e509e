// Package digest reads the recommendation posts a review bot leaves in a
// Slack channel and sorts them into topics.
//
// A post looks like:
//
//	📝 블로그 추천
//	점수: 8/10
//	유형: 강연/교육
//	핵심: ...
//	💡 이유: ...
//	✍️ 칼럼 관점: ...
//	📅 2024-01-03
package digest

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Recommendation is the structured part of one post.
type Recommendation struct {
	Score  int
	Type   string
	Core   string
	Reason string
	Column string
	// Date is the post's YYYY-MM-DD date.
	Date string
}

var (
	scoreRe  = regexp.MustCompile(`점수:\s*(\d+)/10`)
	typeRe   = regexp.MustCompile(`유형:\s*(.+?)(?:\n|$)`)
	coreRe   = regexp.MustCompile(`(?s)핵심:\s*(.+?)(?:\n💡|\n✍️|\n📅|$)`)
	reasonRe = regexp.MustCompile(`(?s)이유:\s*(.+?)(?:\n✍️|\n📅|$)`)
	columnRe = regexp.MustCompile(`(?s)칼럼 관점:\s*(.+?)(?:\n📅|$)`)
	dateRe   = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
)

// IsCandidate is the cheap pre-check: posts without these markers are
// never recommendations.
func IsCandidate(text string) bool {
	return strings.Contains(text, "블로그 추천") || strings.Contains(text, "점수:")
}

// Parse extracts a Recommendation. Posts without a score are not
// recommendations. When the post carries no date, posted supplies it.
func Parse(text string, posted time.Time) (Recommendation, bool) {
	if !IsCandidate(text) {
		return Recommendation{}, false
	}
	m := scoreRe.FindStringSubmatch(text)
	if m == nil {
		return Recommendation{}, false
	}
	score, err := strconv.Atoi(m[1])
	if err != nil {
		return Recommendation{}, false
	}

	r := Recommendation{
		Score:  score,
		Type:   group(typeRe, text),
		Core:   group(coreRe, text),
		Reason: group(reasonRe, text),
		Column: group(columnRe, text),
		Date:   group(dateRe, text),
	}
	if r.Date == "" {
		r.Date = posted.Format(time.DateOnly)
	}
	return r, true
}

func group(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

const fallbackTitleRunes = 50

// FallbackTitle derives a title from the core summary when the post links
// no video.
func FallbackTitle(core string) string {
	if utf8.RuneCountInString(core) <= fallbackTitleRunes {
		return core
	}
	return string([]rune(core)[:fallbackTitleRunes]) + "..."
}

// Types lists the values the Notion "유형" select accepts.
var Types = []string{"강연/교육", "뉴스/트렌드", "튜토리얼", "리뷰/분석", "인터뷰"}

// KnownType maps a free-form type onto one of Types.
func KnownType(raw string) (string, bool) {
	for _, t := range Types {
		if strings.Contains(raw, t) {
			return t, true
		}
	}
	return "", false
}
