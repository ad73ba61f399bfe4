// Package platform maps media URLs to the social platform that hosts them.
package platform

import "strings"

// Tag identifies the source platform of a URL.
type Tag string

const (
	// YouTube covers youtube.com and the youtu.be short domain.
	YouTube Tag = "youtube"

	// Instagram covers instagram.com and instagr.am.
	Instagram Tag = "instagram"

	// TikTok covers tiktok.com and the vm.tiktok.com share domain.
	TikTok Tag = "tiktok"

	// Twitter covers twitter.com, x.com and the t.co shortener.
	Twitter Tag = "twitter"

	// Facebook covers facebook.com, fb.watch and fb.com.
	Facebook Tag = "facebook"

	// Pinterest covers pinterest.com and pin.it.
	Pinterest Tag = "pinterest"

	// Threads covers threads.net.
	Threads Tag = "threads"

	// Unknown is the sentinel for URLs that match no known platform.
	// Unknown URLs fall through to the generic strategy ladder.
	Unknown Tag = "unknown"
)

// pattern pairs a platform tag with the domain substrings that identify it.
type pattern struct {
	tag      Tag
	matchers []string
}

// patterns is ordered; Classify returns the first match. The table is
// maintained so that no entry's matchers are substrings of a later entry's
// in a way that would shadow it.
var patterns = []pattern{
	{YouTube, []string{"youtube.com", "youtu.be"}},
	{Instagram, []string{"instagram.com", "instagr.am"}},
	{TikTok, []string{"tiktok.com", "vm.tiktok.com"}},
	{Twitter, []string{"twitter.com", "x.com", "t.co"}},
	{Facebook, []string{"facebook.com", "fb.watch", "fb.com"}},
	{Pinterest, []string{"pinterest.com", "pin.it"}},
	{Threads, []string{"threads.net"}},
}

// Classify returns the platform tag for the given URL, or Unknown if no
// pattern matches. Matching is case-insensitive and purely substring-based;
// the same URL always yields the same tag.
func Classify(url string) Tag {
	lower := strings.ToLower(url)
	for _, p := range patterns {
		for _, m := range p.matchers {
			if strings.Contains(lower, m) {
				return p.tag
			}
		}
	}

	return Unknown
}

// Known returns the ordered list of supported platform tags, excluding
// Unknown. Used by the status endpoint to report capabilities.
func Known() []Tag {
	tags := make([]Tag, 0, len(patterns))
	for _, p := range patterns {
		tags = append(tags, p.tag)
	}

	return tags
}
