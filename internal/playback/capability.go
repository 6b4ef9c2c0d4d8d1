package playback

import (
	"strings"

	"github.com/mssola/useragent"
)

// Capabilities describes which playback engines the runtime can drive.
type Capabilities struct {
	// Adaptive is true when the in-process adaptive engine can run, i.e. the
	// runtime exposes a media buffer the engine can feed.
	Adaptive bool
	// NativeHLS is true when the runtime plays HLS manifests itself.
	NativeHLS bool
}

// DetectCapabilities derives capabilities from a browser user agent. An
// empty user agent describes a headless runtime where only the adaptive
// engine is known to work.
func DetectCapabilities(userAgent string) Capabilities {
	if strings.TrimSpace(userAgent) == "" {
		return Capabilities{Adaptive: true}
	}

	ua := useragent.New(userAgent)
	if ua.Bot() {
		return Capabilities{}
	}

	browser, _ := ua.Browser()
	platform := ua.Platform()
	osName := ua.OS()

	switch {
	case platform == "iPhone" || platform == "iPod" || platform == "iPod touch":
		// Every iPhone browser is WebKit with native HLS and no media source buffer.
		return Capabilities{Adaptive: false, NativeHLS: true}
	case platform == "iPad":
		return Capabilities{Adaptive: true, NativeHLS: true}
	case strings.Contains(osName, "Android"):
		return Capabilities{Adaptive: true, NativeHLS: true}
	case browser == "Safari":
		return Capabilities{Adaptive: true, NativeHLS: true}
	default:
		return Capabilities{Adaptive: true, NativeHLS: false}
	}
}
