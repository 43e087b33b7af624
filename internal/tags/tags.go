// Package tags expands @name references in free text using the Gateway's
// tag directory.
package tags

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/HendryAvila/kanbridge/internal/gateway"
)

var tokenRe = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// Source lists the tag directory.
type Source interface {
	ListTags(ctx context.Context) ([]gateway.Tag, error)
}

// Expander substitutes @name tokens with tag content.
type Expander struct {
	src Source
	log *zap.Logger
}

// NewExpander returns an Expander backed by src.
func NewExpander(src Source, log *zap.Logger) *Expander {
	if log == nil {
		log = zap.NewNop()
	}
	return &Expander{src: src, log: log}
}

// HasTokens reports whether text contains at least one @name token.
func HasTokens(text string) bool {
	return tokenRe.MatchString(text)
}

// Expand replaces every @name whose name matches a tag with that tag's
// content. Unknown tokens are left alone. If the directory cannot be
// fetched the original text is returned. Expanded content is not rescanned,
// but expanding the result again will substitute any tokens it contains.
func (e *Expander) Expand(ctx context.Context, text string) string {
	if !HasTokens(text) {
		return text
	}

	list, err := e.src.ListTags(ctx)
	if err != nil {
		e.log.Warn("tag expansion skipped", zap.Error(err))
		return text
	}

	byName := make(map[string]string, len(list))
	for _, t := range list {
		byName[t.TagName] = t.Content
	}

	return tokenRe.ReplaceAllStringFunc(text, func(tok string) string {
		if content, ok := byName[tok[1:]]; ok {
			return content
		}
		return tok
	})
}
