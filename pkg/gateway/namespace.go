package gateway

import (
	"strings"
	"unicode"

	"github.com/Sternrassler/learnforge/pkg/cache"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Namespace prefixes per operation.
const (
	subtopicsPrefix    = "subtopics:"
	explanationsPrefix = "explanations:"
)

// NamespaceToken turns a topic into the compact form used in namespaces:
// "quantum  computing" and "Quantum Computing" both yield "QuantumComputing".
func NamespaceToken(topic string) string {
	words := strings.FieldsFunc(cache.NormalizeValue(topic), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	// A Caser is stateful and must not be shared between goroutines.
	title := cases.Title(language.Und)

	var b strings.Builder
	for _, w := range words {
		b.WriteString(title.String(w))
	}
	return b.String()
}

// Namespace returns the cache namespace holding op's content for topic.
func Namespace(op Operation, topic string) string {
	switch op {
	case OpBreakdown:
		return subtopicsPrefix + NamespaceToken(topic)
	case OpExplain:
		return explanationsPrefix + NamespaceToken(topic)
	default:
		return string(op) + ":" + NamespaceToken(topic)
	}
}
