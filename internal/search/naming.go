package search

import (
	"fmt"
	"slices"

	"github.com/emrgen/catalog/internal/model"
)

// RemoteName returns the name of the remote index for one language of a dataset version.
// It is a pure function of its inputs and is recomputed, never stored under a different name.
func RemoteName(site, name, version string, versionID uint, language string) string {
	return fmt.Sprintf("%s--%s-%s-%d-%s", site, name, version, versionID, language)
}

// AliasName returns the alias pointing at the latest index of a language.
func AliasName(prefix, language string) string {
	return prefix + "latest-" + language
}

// Languages is the closed set of index languages. The unknown language
// collects every document whose language is not in the set.
type Languages []string

func (l Languages) Contains(language string) bool {
	return slices.Contains(l, language)
}

// Normalize maps a document language onto the index language it is pushed to.
func (l Languages) Normalize(language string) string {
	if language != model.UnknownLanguage && l.Contains(language) {
		return language
	}
	return model.UnknownLanguage
}

// Known returns the languages other than unknown.
func (l Languages) Known() []string {
	var known []string
	for _, language := range l {
		if language != model.UnknownLanguage {
			known = append(known, language)
		}
	}
	return known
}
