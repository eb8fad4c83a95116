package config

// ConfigDiff describes what changed between two configs. Only settings that
// can be applied to a running agent are tracked; everything else needs a
// restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScriptChanged is set when the prompt script path or language changed.
	ScriptChanged bool

	// RAGChanged is set when any responder tuning value changed.
	RAGChanged bool

	// ValidationChanged is set when the LLM second opinion was toggled or
	// its timeout changed.
	ValidationChanged bool
}

// Any reports whether d carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ScriptChanged || d.RAGChanged || d.ValidationChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Dialogue.ScriptPath != new.Dialogue.ScriptPath || old.Dialogue.Language != new.Dialogue.Language {
		d.ScriptChanged = true
	}

	if old.Dialogue.LLMValidationEnabled() != new.Dialogue.LLMValidationEnabled() ||
		old.Dialogue.ValidatorTimeout != new.Dialogue.ValidatorTimeout {
		d.ValidationChanged = true
	}

	or, nr := old.RAG, new.RAG
	if or.TopK != nr.TopK || or.FallbackTopK != nr.FallbackTopK ||
		or.FallbackQuery != nr.FallbackQuery || or.Temperature != nr.Temperature ||
		or.MaxTokens != nr.MaxTokens || or.Timeout != nr.Timeout ||
		or.MaxSentences != nr.MaxSentences || or.BackchannelChance() != nr.BackchannelChance() {
		d.RAGChanged = true
	}

	return d
}
