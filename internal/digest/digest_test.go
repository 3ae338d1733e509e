package digest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePost = "📝 블로그 추천\n" +
	"점수: 8/10\n" +
	"유형: 강연/교육 (컨퍼런스)\n" +
	"핵심: 에이전트가 브라우저를 직접 조작하는 데모\n" +
	"두 번째 줄\n" +
	"💡 이유: 실무 적용 사례가 많다\n" +
	"✍️ 칼럼 관점: 도입 비용 비교\n" +
	"📅 2024-01-03"

func TestParse(t *testing.T) {
	r, ok := Parse(samplePost, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, Recommendation{
		Score:  8,
		Type:   "강연/교육 (컨퍼런스)",
		Core:   "에이전트가 브라우저를 직접 조작하는 데모\n두 번째 줄",
		Reason: "실무 적용 사례가 많다",
		Column: "도입 비용 비교",
		Date:   "2024-01-03",
	}, r)
}

func TestParseDateFallbackAndRejects(t *testing.T) {
	posted := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	r, ok := Parse("점수: 5/10\n핵심: short", posted)
	require.True(t, ok)
	assert.Equal(t, "2024-02-01", r.Date)
	assert.Equal(t, "short", r.Core)

	_, ok = Parse("hello team, lunch?", posted)
	assert.False(t, ok, "no markers")
	_, ok = Parse("블로그 추천 without a score", posted)
	assert.False(t, ok, "score is required")
}

func TestFallbackTitle(t *testing.T) {
	assert.Equal(t, "짧은 요약", FallbackTitle("짧은 요약"))
	long := "가나다라마바사아자차카타파하가나다라마바사아자차카타파하가나다라마바사아자차카타파하가나다라마바사아자차카타파하"
	got := FallbackTitle(long)
	assert.Equal(t, 53, len([]rune(got)))
	assert.True(t, len(got) < len(long))
}

func TestKnownType(t *testing.T) {
	got, ok := KnownType("강연/교육 (컨퍼런스)")
	assert.True(t, ok)
	assert.Equal(t, "강연/교육", got)
	_, ok = KnownType("팟캐스트")
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Building an autonomous AGENT", "AI 에이전트"},
		{"ClaudeBot agent demo", "Moltbot/ClaudeBot"},
		{"Gemini benchmarks", "LLM/GPT"},
		{"의료 데이터", "헬스케어"},
		{"rust tips", OtherTopic},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.text, DefaultTopics), tt.text)
	}
}
