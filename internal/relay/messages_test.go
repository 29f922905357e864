package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDigestBuild(t *testing.T) {
	t.Parallel()

	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatal(err)
	}
	d := Digest{
		Header: "[자동 알림] {date} 시장 링크",
		Title:  "오늘의 경제 링크 모음",
		Footer: "#bot01 #daily",
		Links: []Link{
			{Name: "경제달력", URL: "https://kr.investing.com/economic-calendar/"},
			{Name: "중앙은행 기준금리", URL: "https://kr.investing.com/central-banks/"},
		},
		Location: seoul,
	}

	// 23:30 UTC on the 13th is the morning of Friday the 14th in Seoul.
	now := time.Date(2025, 3, 13, 23, 30, 0, 0, time.UTC)
	want := "[자동 알림] 2025-03-14 (Fri) 시장 링크\n" +
		"\n" +
		"오늘의 경제 링크 모음\n" +
		"- 경제달력: https://kr.investing.com/economic-calendar/\n" +
		"- 중앙은행 기준금리: https://kr.investing.com/central-banks/\n" +
		"\n" +
		"#bot01 #daily"
	assert.Equal(t, want, d.Build(now))
}

func TestDigestBuildMinimal(t *testing.T) {
	t.Parallel()

	d := Digest{Header: "links", Links: []Link{{Name: "a", URL: "https://a.example"}}}
	assert.Equal(t, "links\n\n- a: https://a.example", d.Build(time.Now()))
}

func TestSubmissionMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "IP: 1.2.3.4\nMessage: hello", SubmissionMessage("1.2.3.4", "hello"))
	assert.Equal(t, "IP: ::1\nMessage: ", SubmissionMessage("::1", ""))
	assert.Equal(t, "IP: 1.2.3.4\nbody", LinksMessage("1.2.3.4", "body"))
}
