package executor

// Logger is the logging surface used by executors.
type Logger interface {
	LogInfo(message string)
	LogWarn(message string)
	LogDebug(message string)
}

// Recorder receives executor metrics.
type Recorder interface {
	StrategyAttempt(action, strategy string, ok bool)
	DownloadAttempt(outcome string)
}

func logInfo(l Logger, msg string) {
	if l != nil {
		l.LogInfo(msg)
	}
}

func logWarn(l Logger, msg string) {
	if l != nil {
		l.LogWarn(msg)
	}
}

func logDebug(l Logger, msg string) {
	if l != nil {
		l.LogDebug(msg)
	}
}

func recordStrategy(r Recorder, action, strategy string, ok bool) {
	if r != nil {
		r.StrategyAttempt(action, strategy, ok)
	}
}

func recordDownload(r Recorder, outcome string) {
	if r != nil {
		r.DownloadAttempt(outcome)
	}
}
