package verification

import "regexp"

// A device below this viewport width is assumed to have a camera at hand
// and gets the in-place capture wizard instead of the handoff code.
const handoffWidthThreshold = 1024

var mobileUserAgent = regexp.MustCompile(`(?i)android|iphone|ipad|ipod|blackberry|iemobile|opera mini|mobile`)

// Capable classifies a device as able to run the capture wizard directly.
// It is a pure function of the user-agent string and the viewport width:
// a mobile user agent or a narrow viewport qualifies.
func Capable(userAgent string, viewportWidth int) bool {
	return mobileUserAgent.MatchString(userAgent) || viewportWidth < handoffWidthThreshold
}
