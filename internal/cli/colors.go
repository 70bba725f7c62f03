package cli

// ANSI color codes for terminal output.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
)

// FormatStatus returns a colored verification status.
func FormatStatus(status string) string {
	switch status {
	case "valid", "verified":
		return ColorGreen + status + ColorReset
	case "invalid", "failed":
		return ColorRed + status + ColorReset
	case "null-signed":
		return ColorYellow + status + ColorReset
	default:
		return status
	}
}
