// Package topics はトピック辞書 (キー → 表示名 → 検索語) とレビュー本文との照合を扱います。
package topics

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jinzhu/inflection"

	"review_pipeline/internal/app/model"
)

// DisplayName は辞書に無いキーの表示名です。"refund_process" は "Refund Process" になります。
func DisplayName(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

// SearchTerms は照合に使う語の一覧です。キー (空白区切り)、小文字の表示名、その単数形または複数形を含みます。
func SearchTerms(key, name string) []string {
	lower := strings.ToLower(strings.TrimSpace(name))
	candidates := []string{strings.ToLower(strings.ReplaceAll(key, "_", " ")), lower}
	if singular := inflection.Singular(lower); singular != lower {
		candidates = append(candidates, singular)
	} else {
		candidates = append(candidates, inflection.Plural(lower))
	}

	seen := make(map[string]bool, len(candidates))
	terms := make([]string, 0, len(candidates))
	for _, t := range candidates {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	return terms
}

// New は辞書の 1 項目を作ります。name が空ならキーから表示名を作ります。
func New(key, name string) model.Topic {
	if name == "" {
		name = DisplayName(key)
	}
	return model.Topic{TopicKey: key, TopicName: name, SearchTerms: SearchTerms(key, name)}
}

// LoadDictionary は {"customer_service": "Customer Service", ...} 形式の JSON を読み込みます。
// 結果はキー順です。
func LoadDictionary(path string) ([]model.Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topics file %s: %w", path, err)
	}
	var dict map[string]string
	if err := json.Unmarshal(data, &dict); err != nil {
		return nil, fmt.Errorf("invalid topics file %s: %w", path, err)
	}
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]model.Topic, 0, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		result = append(result, New(k, dict[k]))
	}
	return result, nil
}

// Matcher はトピックの検索語を単語境界付きで照合します。
type Matcher struct {
	entries []matcherEntry
}

type matcherEntry struct {
	name     string
	patterns []*regexp.Regexp
}

// NewMatcher は検索語ごとに (^|[^a-z])term([^a-z]|$) のパターンを作ります。
func NewMatcher(dict []model.Topic) *Matcher {
	m := &Matcher{entries: make([]matcherEntry, 0, len(dict))}
	for _, t := range dict {
		e := matcherEntry{name: t.TopicName}
		for _, term := range t.SearchTerms {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				continue
			}
			e.patterns = append(e.patterns, regexp.MustCompile(`(^|[^a-z])`+regexp.QuoteMeta(term)+`([^a-z]|$)`))
		}
		if len(e.patterns) > 0 {
			m.entries = append(m.entries, e)
		}
	}
	return m
}

// Count は texts のうち各トピックに一致した本文の件数を返します。1 本文は 1 トピックにつき 1 回だけ数えます。
func (m *Matcher) Count(texts []string) map[string]int {
	counts := make(map[string]int)
	for _, text := range texts {
		lower := strings.ToLower(text)
		if lower == "" {
			continue
		}
		for _, e := range m.entries {
			for _, p := range e.patterns {
				if p.MatchString(lower) {
					counts[e.name]++
					break
				}
			}
		}
	}
	return counts
}
