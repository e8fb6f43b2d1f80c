package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Flag to track if JSON output is enabled
	JSONOutput bool
	// Level is the active level; adjustable at runtime via SetVerbosity
	Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
)

func init() {
	// No-op until Initialize so package-level loggers never panic
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger.
// jsonOutput selects machine-readable JSON on stdout; otherwise a console
// encoder writes to stderr so command output on stdout stays clean.
// verbosity is the count of -v flags (see VerbosityToLevel).
func Initialize(jsonOutput bool, verbosity int) error {
	JSONOutput = jsonOutput || isProductionEnvironment()
	Level.SetLevel(VerbosityToLevel(verbosity))

	var zapLogger *zap.Logger
	var err error

	if JSONOutput {
		config := zap.NewProductionConfig()
		config.Level = Level
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		zapLogger, err = config.Build()
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encCfg),
				zapcore.AddSync(os.Stderr),
				Level,
			),
		)
	}

	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// SetVerbosity changes the level of the already-initialized logger.
func SetVerbosity(verbosity int) {
	Level.SetLevel(VerbosityToLevel(verbosity))
}

// isProductionEnvironment forces JSON output when running under a scheduler
// host that sets BFHTW_ENV=production.
func isProductionEnvironment() bool {
	env := strings.ToLower(os.Getenv("BFHTW_ENV"))
	return env == "production" || env == "prod"
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Infow logs an info message with structured fields
func Infow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, keysAndValues...)
	}
}

// Warnw logs a warning message with structured fields
func Warnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, keysAndValues...)
	}
}

// Errorw logs an error message with structured fields
func Errorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Errorw(msg, keysAndValues...)
	}
}

// Debugw logs a debug message with structured fields
func Debugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Debugw(msg, keysAndValues...)
	}
}
