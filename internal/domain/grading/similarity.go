package grading

import (
	"strings"
	"unicode"
)

// Similarity возвращает коэффициент Дайса по словам двух текстов, от 0 до 1.
// Регистр и пунктуация не учитываются. Повторяющееся слово считается
// столько раз, сколько встречается.
func Similarity(a, b string) float64 {
	wa, wb := words(a), words(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	counts := make(map[string]int, len(wb))
	for _, w := range wb {
		counts[w]++
	}
	common := 0
	for _, w := range wa {
		if counts[w] > 0 {
			counts[w]--
			common++
		}
	}
	return 2 * float64(common) / float64(len(wa)+len(wb))
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
