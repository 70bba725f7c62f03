package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Logging flag names.
const (
	LogLevelFlag  = "log-level"
	LogFormatFlag = "log-format"
)

// LogLevelEnv overrides the default log level when --log-level is not given.
const LogLevelEnv = "MSGSIGN_LOG_LEVEL"

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// RegisterLoggingFlags adds --log-level and --log-format to flags.
//
//	--log-level debug|info|warn|error   (default warn, or $MSGSIGN_LOG_LEVEL)
//	--log-format text|json              (default text)
func RegisterLoggingFlags(flags *pflag.FlagSet) {
	flags.String(LogLevelFlag, "", "log level: debug, info, warn or error (or set "+LogLevelEnv+")")
	flags.String(LogFormatFlag, FormatText, "log format: text or json")
}

// LoggerFromCommand builds the logger selected by the command's flags. Logs
// go to the command's stderr so that they never mix with signature output.
func LoggerFromCommand(cmd *cobra.Command) (*slog.Logger, error) {
	level, err := cmd.Flags().GetString(LogLevelFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to get the log level flag: %w", err)
	}
	if level == "" {
		level = os.Getenv(LogLevelEnv)
	}
	format, err := cmd.Flags().GetString(LogFormatFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to get the log format flag: %w", err)
	}
	return NewLogger(cmd.ErrOrStderr(), level, format)
}

// NewLogger returns a text or JSON logger writing to w. An empty level is warn.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", FormatText:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("invalid log level: %s", level)
	}
}
