package agent

import "strings"

// Keyword lists for the pre-planning classifier. The heuristic is an
// optimisation: a misrouted general question still gets a useful direct
// answer, and a misrouted data question fails loudly in planning.
var (
	dataKeywords = []string{
		// Korean
		"조회", "통계", "데이터", "인구", "수출", "수입", "평균", "합계",
		"추이", "차트", "그래프", "분석", "비교", "몇", "얼마", "테이블",
		"물가", "지수",
		// English
		"select ", "count", "how many", "how much", "average", "sum of",
		"trend", "chart", "graph", "plot", "analyz", "analys", "compare",
		"table", "query", "sql", "gdp", "cpi", "statistic", "show me",
		"데이터베이스", "database",
	}
	generalKeywords = []string{
		"안녕", "고마워", "감사", "누구", "도움말",
		"hello", "hi ", "hey", "thank", "who are you", "what can you do",
		"help me understand you", "how do you work",
	}
)

// ClassifyUtterance routes an utterance to the plan loop or to a direct
// answer. Data keywords win ties; no data match at all means general.
func ClassifyUtterance(utterance string) Route {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return RouteGeneral
	}

	dataHits := countHits(text, dataKeywords)
	if dataHits == 0 {
		return RouteGeneral
	}
	if countHits(text, generalKeywords) > dataHits {
		return RouteGeneral
	}
	return RouteDataAnalysis
}

func countHits(text string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return hits
}
