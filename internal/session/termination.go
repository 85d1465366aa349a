package session

import "fmt"

// Connection termination codes reported by the protocol layer.
const (
	TerminationGraceful         = 0
	TerminationNoVideoTraffic   = -100
	TerminationNoVideoFrame     = -101
	TerminationUnexpectedEarly  = -102
	TerminationProtectedContent = -103
	TerminationFrameConversion  = -104
)

// TerminationMessage returns the message shown for an unexpected
// termination, or "" for a graceful one. ports lists the ports implicated
// by a traffic failure.
func TerminationMessage(code int, ports string) string {
	switch code {
	case TerminationGraceful:
		return ""
	case TerminationNoVideoTraffic:
		return "No video received from host.\n\n" +
			"Check your firewall and port forwarding rules for port(s): " + ports
	case TerminationNoVideoFrame:
		return "Your network connection isn't performing well. " +
			"Reduce your video bitrate setting or try a faster connection."
	case TerminationProtectedContent, TerminationUnexpectedEarly:
		return "Something went wrong on your host PC when starting the stream.\n\n" +
			"Make sure you don't have any DRM-protected content open on your host PC. " +
			"You can also try restarting your host PC."
	case TerminationFrameConversion:
		return "The host PC reported a fatal video encoding error.\n\n" +
			"Try disabling HDR mode, changing the streaming resolution, " +
			"or changing your host PC's display resolution."
	default:
		return "Connection terminated\n\nError code: " + formatErrorCode(code)
	}
}

// formatErrorCode prints large codes as zero-padded hex.
func formatErrorCode(code int) string {
	if code > 1000 || code < -1000 {
		return fmt.Sprintf("%08x", uint32(code))
	}
	return fmt.Sprintf("%d", code)
}
