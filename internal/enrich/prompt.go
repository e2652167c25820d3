package enrich

import (
	"encoding/json"
	"strings"
)

const batchSystemPrompt = `You are a Japanese tech editor for developer news.
For each item, output three fields:
1) summaryJa: one concise Japanese sentence (90-120 chars) that synthesizes the main point across title and content.
2) summaryEn: the same point as one English sentence (max 26 words).
3) descriptionJa: faithful Japanese translation of excerpt (if empty, omit).
Important rules:
- Do NOT copy the excerpt; write a new sentence in Japanese.
- Prefer facts from content over the excerpt; if content is missing, infer from title and excerpt.
- No URLs, markdown, emojis, hashtags, or quotation marks.
- Do not include author names, dates, read-time (e.g. '10 min read'), or UI words like Listen/Share/Press enter.
- summaryJa must be a single complete sentence ending with 。`

const batchUserHeader = `Return strictly as JSON with shape:
{"items": {"<id>": {"summaryJa": "...", "summaryEn": "...", "descriptionJa": "..."}}}
Items:
`

// promptItem はLLMに渡す1記事分の入力。
type promptItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Content string `json:"content,omitempty"`
}

// draft はLLMが返す1記事分の結果。
type draft struct {
	ID            string `json:"id,omitempty"`
	SummaryJa     string `json:"summaryJa"`
	SummaryEn     string `json:"summaryEn"`
	DescriptionJa string `json:"descriptionJa"`
}

func buildBatchPrompt(items []promptItem, maxTokens int) Prompt {
	payload, _ := json.Marshal(items)
	return Prompt{
		System:      batchSystemPrompt,
		User:        batchUserHeader + string(payload),
		JSON:        true,
		Temperature: 0.2,
		MaxTokens:   maxTokens,
	}
}

// decodeDrafts はLLMの応答から記事IDごとの結果を取り出す。
// items がオブジェクトでも配列でも受け付け、前後に余計な文字があれば
// 波括弧・角括弧の範囲を切り出して再試行する。解釈できなければ空を返す。
func decodeDrafts(text string) map[string]draft {
	for _, candidate := range []string{text, braceSpan(text, '{', '}')} {
		if candidate == "" {
			continue
		}
		var env struct {
			Items json.RawMessage `json:"items"`
		}
		if json.Unmarshal([]byte(candidate), &env) == nil {
			if out := decodeItems(env.Items); len(out) > 0 {
				return out
			}
		}
	}
	if arr := braceSpan(text, '[', ']'); arr != "" {
		return decodeItems(json.RawMessage(arr))
	}
	return map[string]draft{}
}

func decodeItems(raw json.RawMessage) map[string]draft {
	out := map[string]draft{}
	if len(raw) == 0 {
		return out
	}

	var byID map[string]draft
	if json.Unmarshal(raw, &byID) == nil {
		for id, d := range byID {
			if id != "" {
				out[id] = d
			}
		}
		return out
	}

	var list []draft
	if json.Unmarshal(raw, &list) == nil {
		for _, d := range list {
			if d.ID != "" {
				out[d.ID] = d
			}
		}
	}
	return out
}

func braceSpan(text string, left, right byte) string {
	start := strings.IndexByte(text, left)
	end := strings.LastIndexByte(text, right)
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
