package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Load reads a CUE settings file and returns the decoded, validated
// settings merged over the defaults. The file declares its values under a
// top-level "settings" struct:
//
//	settings: {
//	    download_port:      17980
//	    agent_callback_url: "http://nodeman.example.com/backend"
//	    ...
//	}
func Load(path string) (*Settings, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	return Parse(content, path)
}

// Parse decodes CUE settings from raw bytes. The filename is used only for
// error reporting.
func Parse(content []byte, filename string) (*Settings, error) {
	ctx := cuecontext.New()

	val := ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	settingsVal := val.LookupPath(cue.ParsePath("settings"))
	if !settingsVal.Exists() {
		return nil, fmt.Errorf("settings file %s has no top-level \"settings\" struct", filename)
	}

	settings := Default()
	if err := settingsVal.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}
