package policy

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

const (
	keywordFilterName = "KeywordFilter"
)

type compiledKeywordRule struct {
	source string
	regex  *regexp.Regexp
}

// KeywordFilter rejects queries and replies mentioning a banned word or
// pattern. Query texts, rich query values and reply result names are checked.
type KeywordFilter struct {
	enabled bool
	rules   []compiledKeywordRule
}

func NewKeywordFilter(cfg *config.KeywordFilterConfig) (*KeywordFilter, error) {
	if !cfg.Enabled {
		return &KeywordFilter{enabled: false}, nil
	}

	var rules []compiledKeywordRule

	// Compile simple words into case-insensitive whole-word regexes.
	for _, word := range cfg.Words {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		compiled, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("internal error compiling keyword '%s': %w", word, err)
		}
		rules = append(rules, compiledKeywordRule{source: word, regex: compiled})
	}

	for _, rx := range cfg.Regexps {
		compiled, err := regexp.Compile(rx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile keyword regexp '%s': %w", rx, err)
		}
		rules = append(rules, compiledKeywordRule{source: rx, regex: compiled})
	}

	return &KeywordFilter{enabled: true, rules: rules}, nil
}

func (f *KeywordFilter) Match(msg *message.Message) FilterResult {
	newResult := NewResultFunc(keywordFilterName)

	if !f.enabled || len(f.rules) == 0 {
		return newResult(true, "filter_disabled")
	}

	var texts []string
	switch msg.Kind {
	case message.KindQuery:
		if msg.Query == nil {
			return newResult(false, "missing_query_payload")
		}
		texts = append(texts, msg.Query.Text)
		if msg.Query.RichQuery != "" {
			values, err := richQueryValues(msg.Query.RichQuery)
			if err != nil {
				return newResult(false, "malformed_rich_query")
			}
			texts = append(texts, values...)
		}
	case message.KindQueryReply:
		if msg.Reply == nil {
			return newResult(false, "missing_reply_payload")
		}
		for _, r := range msg.Reply.Results {
			texts = append(texts, r.Name)
		}
	case message.KindPing, message.KindPong, message.KindPush:
		return newResult(true, "kind_not_checked")
	default:
		return newResult(true, "unknown_kind")
	}

	for _, text := range texts {
		for _, rule := range f.rules {
			if rule.regex.MatchString(text) {
				return newResult(false, fmt.Sprintf("forbidden_pattern_found:'%s'", rule.source))
			}
		}
	}

	return newResult(true, "no_forbidden_patterns_found")
}

// richQueryValues extracts attribute values and character data from an XML document.
func richQueryValues(doc string) ([]string, error) {
	dec := xml.NewDecoder(strings.NewReader(doc))
	var values []string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return values, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			for _, attr := range t.Attr {
				if attr.Value != "" {
					values = append(values, attr.Value)
				}
			}
		case xml.CharData:
			if s := strings.TrimSpace(string(t)); s != "" {
				values = append(values, s)
			}
		}
	}
}
