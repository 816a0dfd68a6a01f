package analyze

import "unicode"

// cjkProbeLimit caps how many runes DetectLanguage inspects. Headlines and
// leads carry enough signal; scanning whole articles buys nothing.
const cjkProbeLimit = 400

// DetectLanguage returns "zh" when the text is dominated by CJK ideographs
// and "en" otherwise. A rough probe, but it only has to pick a prompt
// template.
func DetectLanguage(text string) string {
	var total, han int
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsDigit(r) {
			continue
		}
		total++
		if unicode.Is(unicode.Han, r) {
			han++
		}
		if total >= cjkProbeLimit {
			break
		}
	}
	if total > 0 && han*3 >= total {
		return "zh"
	}
	return "en"
}
