package declarations

import "strings"

// classifierKeywords is evaluated in order; the first substring found wins.
var classifierKeywords = []struct {
	keyword  string
	category Category
}{
	{keyword: "trasladado", category: CategoryIVATrasladado},
	{keyword: "acreditable", category: CategoryIVAAcreditable},
	{keyword: "emitido", category: CategoryEmitidos},
}

// Classify maps an uploaded file name to its declaration category.
// Names without a known keyword are CategoryUnclassified.
func Classify(filename string) Category {
	name := strings.ToLower(filename)
	for _, k := range classifierKeywords {
		if strings.Contains(name, k.keyword) {
			return k.category
		}
	}
	return CategoryUnclassified
}
