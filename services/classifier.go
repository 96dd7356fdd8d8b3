package services

import "strings"

// Classifier gates records by category keywords. An excluded keyword in the
// identifying text rejects the record; otherwise at least one included
// keyword must appear in the identifying text or the page source. A
// Classifier with no keywords accepts everything.
type Classifier struct {
	Excluded []string
	Included []string
}

// Allows reports whether the record passes, and the keyword that decided it.
func (c Classifier) Allows(identity, source string) (bool, string) {
	if len(c.Excluded) == 0 && len(c.Included) == 0 {
		return true, ""
	}
	id := strings.ToLower(identity)
	for _, k := range c.Excluded {
		if strings.Contains(id, k) {
			return false, k
		}
	}
	if len(c.Included) == 0 {
		return true, ""
	}
	for _, k := range c.Included {
		if strings.Contains(id, k) {
			return true, k
		}
	}
	src := strings.ToLower(source)
	for _, k := range c.Included {
		if strings.Contains(src, k) {
			return true, k
		}
	}
	return false, ""
}
