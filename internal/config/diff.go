package config

// ConfigDiff describes what changed between two configs. Only fields with a
// reload story are tracked: the log level takes effect immediately, agent and
// turn-taking changes apply to sessions opened after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PromptChanged is true when the system prompt or language hint changed.
	PromptChanged bool

	// VoiceChanged is true when the reply voice or its speed changed.
	VoiceChanged bool

	// TurnChanged is true when a hang window or VAD tuning value changed.
	TurnChanged bool
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return d == ConfigDiff{}
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Agent.SystemPrompt != new.Agent.SystemPrompt || old.Agent.Language != new.Agent.Language {
		d.PromptChanged = true
	}

	if old.Agent.Voice != new.Agent.Voice {
		d.VoiceChanged = true
	}

	if old.Turn != new.Turn {
		d.TurnChanged = true
	}

	return d
}
