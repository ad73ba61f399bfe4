// Package strategy builds the ordered extraction-attempt ladder for a
// download request. A Strategy is pure data describing a single attempt:
// stream selector, HTTP identity, credential source, and client hints.
package strategy

import (
	"fmt"

	"github.com/socdl/socdl/internal/platform"
)

// Format selects what streams a download should produce.
type Format string

const (
	// FormatBest downloads muxed video+audio, preferring mp4 and re-muxing
	// into mp4 when the source serves split streams.
	FormatBest Format = "best"

	// FormatAudio extracts audio only and converts it to mp3.
	FormatAudio Format = "audio"

	// FormatVideoOnly downloads the video stream without audio.
	FormatVideoOnly Format = "video_only"
)

// ParseFormat normalizes a request format string, defaulting to FormatBest.
func ParseFormat(s string) Format {
	switch Format(s) {
	case FormatAudio:
		return FormatAudio
	case FormatVideoOnly:
		return FormatVideoOnly
	default:
		return FormatBest
	}
}

// HTTP identities used across the ladder. The iOS fingerprint matches the
// YouTube mobile client and is required for the ios player client to be
// accepted.
const (
	UserAgentDesktop = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	UserAgentIOS     = "com.google.ios.youtube/19.29.1 (iPhone16,2; U; CPU iOS 17_5_1 like Mac OS X;)"
)

// browserOrder is the fixed order in which local browser credential sources
// are tried. Empirically chrome succeeds most often, so it leads.
var browserOrder = []string{"chrome", "firefox", "edge"}

// qualityHeights maps request quality strings to vertical-resolution
// ceilings. Unrecognized values fall back to 1080.
var qualityHeights = map[string]int{
	"360":  360,
	"480":  480,
	"720":  720,
	"1080": 1080,
	"4k":   2160,
	"2160": 2160,
}

// Height resolves a request quality string to a resolution ceiling.
func Height(quality string) int {
	if h, ok := qualityHeights[quality]; ok {
		return h
	}

	return 1080
}

// Strategy is one fully-specified extraction attempt. Strategies carry no
// mutable state and are rebuilt per request.
type Strategy struct {
	// Name identifies the attempt in logs and failure reports.
	Name string

	// Selector is the stream-selector expression passed to the fetch tool.
	Selector string

	// MergeFormat, when non-empty, asks the tool to remux split streams
	// into this container.
	MergeFormat string

	// ExtractAudio converts the result to an audio file.
	ExtractAudio bool

	// AudioCodec and AudioQuality configure the audio conversion.
	AudioCodec   string
	AudioQuality string

	// UserAgent overrides the HTTP identity for the attempt. Empty means
	// the tool's default.
	UserAgent string

	// CookiesFromBrowser names a local browser whose stored credentials
	// authenticate the attempt. Empty means unauthenticated.
	CookiesFromBrowser string

	// PlayerClients lists client-impersonation hints for platforms that
	// gate access by client type (currently YouTube).
	PlayerClients []string

	// Direct bypasses the extraction tool entirely and fetches the URL
	// bytes over plain HTTP or FTP. Last resort for unknown platforms.
	Direct bool
}

// modifier derives one fallback strategy from a platform's default.
type modifier struct {
	name  string
	apply func(s Strategy) Strategy
}

func withBrowser(browser string) modifier {
	return modifier{
		name: "cookies-" + browser,
		apply: func(s Strategy) Strategy {
			s.CookiesFromBrowser = browser
			return s
		},
	}
}

func withUserAgent(name, ua string) modifier {
	return modifier{
		name: "ua-" + name,
		apply: func(s Strategy) Strategy {
			s.UserAgent = ua
			s.CookiesFromBrowser = ""
			return s
		},
	}
}

func withPlayerClient(client string) modifier {
	return modifier{
		name: "client-" + client,
		apply: func(s Strategy) Strategy {
			s.PlayerClients = []string{client}
			return s
		},
	}
}

var directModifier = modifier{
	name: "direct",
	apply: func(s Strategy) Strategy {
		s.Direct = true
		s.CookiesFromBrowser = ""
		s.PlayerClients = nil
		return s
	},
}

// credentialModifiers expands the fixed browser order into modifiers.
func credentialModifiers() []modifier {
	mods := make([]modifier, 0, len(browserOrder))
	for _, b := range browserOrder {
		mods = append(mods, withBrowser(b))
	}

	return mods
}

// ladders maps each platform to its ordered fallback tail. The default
// strategy always runs first; the tail encodes the empirically-found
// reliability ranking (credentials, then user-agent spoofing, then
// platform-specific client hints) and its order must not change without
// measurement.
var ladders = map[platform.Tag][]modifier{
	platform.YouTube: append(credentialModifiers(),
		withUserAgent("desktop", UserAgentDesktop),
		withUserAgent("ios", UserAgentIOS),
		withPlayerClient("android"),
		withPlayerClient("ios"),
	),
	platform.Instagram: append(credentialModifiers(),
		withUserAgent("desktop", UserAgentDesktop),
		withUserAgent("ios", UserAgentIOS),
	),
	platform.TikTok: {
		// TikTok rejects authenticated requests more often than anonymous
		// ones, so credentials come after the identity swaps.
		withUserAgent("ios", UserAgentIOS),
		withBrowser("chrome"),
	},
	platform.Twitter: append(credentialModifiers(),
		withUserAgent("desktop", UserAgentDesktop),
	),
	platform.Facebook: append(credentialModifiers(),
		withUserAgent("desktop", UserAgentDesktop),
	),
	platform.Pinterest: {
		withUserAgent("desktop", UserAgentDesktop),
	},
	platform.Threads: append(credentialModifiers(),
		withUserAgent("desktop", UserAgentDesktop),
	),
}

// genericLadder serves unknown platforms. It ends with a direct byte fetch
// so that plain media URLs still resolve without the extraction tool.
var genericLadder = append(append(credentialModifiers(),
	withUserAgent("desktop", UserAgentDesktop),
	withUserAgent("ios", UserAgentIOS)),
	directModifier,
)

// Build produces the ordered strategy ladder for one request. The first
// entry is always the platform-tuned default; each later entry changes one
// dimension of it. Order is significant and preserved from the table.
func Build(tag platform.Tag, format Format, quality string) []Strategy {
	base := defaultStrategy(tag, format, quality)

	tail, ok := ladders[tag]
	if !ok {
		tail = genericLadder
	}

	out := make([]Strategy, 0, len(tail)+1)
	out = append(out, base)

	for _, m := range tail {
		s := m.apply(base)
		s.Name = m.name
		out = append(out, s)
	}

	return out
}

// defaultStrategy builds the platform-tuned first attempt.
func defaultStrategy(tag platform.Tag, format Format, quality string) Strategy {
	s := Strategy{Name: "default"}

	switch format {
	case FormatAudio:
		s.Selector = "bestaudio/best"
		s.ExtractAudio = true
		s.AudioCodec = "mp3"
		s.AudioQuality = "192"
	case FormatVideoOnly:
		s.Selector = fmt.Sprintf("bestvideo[height<=%d]", Height(quality))
	default:
		h := Height(quality)
		s.Selector = fmt.Sprintf(
			"bestvideo[height<=%d][ext=mp4]+bestaudio[ext=m4a]/best[height<=%d]/best", h, h)
		s.MergeFormat = "mp4"
	}

	switch tag {
	case platform.YouTube:
		// The iOS client with matching fingerprint bypasses most
		// throttling and age gates without credentials.
		s.UserAgent = UserAgentIOS
		s.PlayerClients = []string{"ios", "android"}
	case platform.TikTok:
		s.UserAgent = UserAgentDesktop
	}

	return s
}
