package sender

import (
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const maxSpaceAttempts = 200

// 抖音文字表情，如 [庆祝]
var emojiSpan = regexp.MustCompile(`\[[^\]]+\]`)

// InsertRandomSpaces 在文本中随机插入空格，不会插在首字符之前、表情内部或相邻位置。
func InsertRandomSpaces(text string, rnd *rand.Rand) string {
	runes := []rune(text)
	n := len(runes)
	if n <= 1 {
		return text
	}

	// 表情所占的字符区间 [start, end)
	var protected [][2]int
	for _, loc := range emojiSpan.FindAllStringIndex(text, -1) {
		start := utf8.RuneCountInString(text[:loc[0]])
		end := start + utf8.RuneCountInString(text[loc[0]:loc[1]])
		protected = append(protected, [2]int{start, end})
	}
	isProtected := func(pos int) bool {
		for _, r := range protected {
			if pos >= r[0] && pos < r[1] {
				return true
			}
		}
		return false
	}

	maxCount := n / 5
	if maxCount < 1 {
		maxCount = 1
	}
	if maxCount > 3 {
		maxCount = 3
	}
	count := 1 + rnd.Intn(maxCount)

	positions := make(map[int]struct{}, count)
	for attempts := 0; len(positions) < count && attempts < maxSpaceAttempts; attempts++ {
		pos := 1 + rnd.Intn(n-1)
		if isProtected(pos) {
			continue
		}
		ok := true
		for p := range positions {
			if pos-p <= 1 && p-pos <= 1 {
				ok = false
				break
			}
		}
		if ok {
			positions[pos] = struct{}{}
		}
	}
	if len(positions) == 0 {
		for pos := 1; pos < n-1; pos++ {
			if !isProtected(pos) {
				positions[pos] = struct{}{}
				break
			}
		}
	}
	if len(positions) == 0 {
		return text
	}

	sorted := make([]int, 0, len(positions))
	for p := range positions {
		sorted = append(sorted, p)
	}
	sort.Ints(sorted)

	var sb strings.Builder
	last := 0
	for _, p := range sorted {
		sb.WriteString(string(runes[last:p]))
		sb.WriteString(strings.Repeat(" ", 1+rnd.Intn(3)))
		last = p
	}
	sb.WriteString(string(runes[last:]))
	return sb.String()
}
