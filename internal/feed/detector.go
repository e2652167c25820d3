package feed

import (
	"bytes"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// FeedType はフィードの種類を表す。
type FeedType string

const (
	// FeedTypeRSS はRSSフィード。
	FeedTypeRSS FeedType = "rss"
	// FeedTypeAtom はAtomフィード。
	FeedTypeAtom FeedType = "atom"
	// FeedTypeJSON はJSON Feed。
	FeedTypeJSON FeedType = "json"
)

// FeedCandidate はHTMLから検出されたフィード候補を表す。
type FeedCandidate struct {
	URL      string
	FeedType FeedType
	Title    string
}

var (
	feedLinkTypeRe = regexp.MustCompile(`rss|atom|xml|feed\+json`)
	feedLinkHrefRe = regexp.MustCompile(`(?i)/feed|\.xml|rss`)
)

// DiscoverFeedLinks はHTMLの <link rel="alternate"> からフィードURLを検出する。
// 相対URLはbaseURLを基準に絶対URLに解決し、重複を除いた上で
// 同一ホスト > Atom > RSS/JSON > 出現順 の優先順位で並べて返す。
func DiscoverFeedLinks(htmlBody []byte, baseURL string) []FeedCandidate {
	baseU, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	candidates := parseFeedLinks(htmlBody, baseU)
	sortCandidates(candidates, baseU.Hostname())
	return candidates
}

// parseFeedLinks はbodyに入る前までの link 要素を走査する。
func parseFeedLinks(htmlBody []byte, baseU *url.URL) []FeedCandidate {
	var candidates []FeedCandidate
	seen := make(map[string]bool)

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return candidates

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "body" {
				return candidates
			}
			if tagName != "link" || !hasAttr {
				continue
			}

			var rel, linkType, href, title string
			for {
				key, val, more := tokenizer.TagAttr()
				v := string(val)
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(v)
				case "type":
					linkType = strings.ToLower(v)
				case "href":
					href = strings.TrimSpace(v)
				case "title":
					title = v
				}
				if !more {
					break
				}
			}

			if !hasRelToken(rel, "alternate") || href == "" {
				continue
			}
			if !feedLinkTypeRe.MatchString(linkType) && !feedLinkHrefRe.MatchString(href) {
				continue
			}

			resolvedURL := resolveURL(baseU, href)
			if resolvedURL == "" || seen[resolvedURL] {
				continue
			}
			seen[resolvedURL] = true

			candidates = append(candidates, FeedCandidate{
				URL:      resolvedURL,
				FeedType: classifyFeedLink(linkType, href),
				Title:    title,
			})

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return candidates
			}
		}
	}
}

func hasRelToken(rel, token string) bool {
	for _, f := range strings.Fields(rel) {
		if f == token {
			return true
		}
	}
	return false
}

// classifyFeedLink はtype属性（無ければhref）からフィード種別を推定する。
func classifyFeedLink(linkType, href string) FeedType {
	switch {
	case strings.Contains(linkType, "atom"):
		return FeedTypeAtom
	case strings.Contains(linkType, "json"):
		return FeedTypeJSON
	case linkType != "":
		return FeedTypeRSS
	case strings.Contains(strings.ToLower(href), "atom"):
		return FeedTypeAtom
	default:
		return FeedTypeRSS
	}
}

// resolveURL は相対URLをベースURLを基準に絶対URLに解決する。
// http/https 以外のスキームは空文字列を返す。
func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

// sortCandidates は同一ホスト(+100)、Atom(+10)のスコア順に安定ソートする。
func sortCandidates(candidates []FeedCandidate, baseHost string) {
	baseHost = strings.ToLower(baseHost)
	score := func(c FeedCandidate) int {
		s := 0
		if extractHost(c.URL) == baseHost {
			s += 100
		}
		if c.FeedType == FeedTypeAtom {
			s += 10
		}
		return s
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return score(candidates[i]) > score(candidates[j])
	})
}

// extractHost はURLからホスト名を抽出する。
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
