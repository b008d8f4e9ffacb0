package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. LogLevel and
// Playback changes are applied live; everything listed in Restart only takes
// effect after the server is restarted.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PlaybackChanged bool
	NewPlayback     PlaybackConfig

	// Restart names the top-level sections whose changes are not hot-reloaded.
	Restart []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PlaybackChanged && len(d.Restart) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Playback != new.Playback {
		d.PlaybackChanged = true
		d.NewPlayback = new.Playback
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.Restart = append(d.Restart, "server")
	}
	if !reflect.DeepEqual(old.Correction, new.Correction) {
		d.Restart = append(d.Restart, "correction")
	}
	if !reflect.DeepEqual(old.LLM, new.LLM) {
		d.Restart = append(d.Restart, "llm")
	}
	if !reflect.DeepEqual(old.STT, new.STT) {
		d.Restart = append(d.Restart, "stt")
	}
	if !reflect.DeepEqual(old.TTS, new.TTS) {
		d.Restart = append(d.Restart, "tts")
	}
	if old.Capture != new.Capture {
		d.Restart = append(d.Restart, "capture")
	}
	if old.History != new.History {
		d.Restart = append(d.Restart, "history")
	}
	if old.Accounts != new.Accounts {
		d.Restart = append(d.Restart, "accounts")
	}
	slices.Sort(d.Restart)
	return d
}
