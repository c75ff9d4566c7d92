// Package soundkit discovers drum kits and plays their samples through an
// external player process.
package soundkit

// Manifest describes a drum kit. It is read from kit.json in the kit
// directory.
//
// A kit plays samples either through Player, an argv template where {file}
// and {volume} are substituted, or through Executable, a program speaking the
// JSON Request/Response protocol on stdin/stdout.
type Manifest struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Player      []string          `json:"player,omitempty"`
	Executable  string            `json:"executable,omitempty"`
	Samples     map[string]string `json:"samples"`
}

// Request is sent to a kit executable to play one sample.
type Request struct {
	Instrument string  `json:"instrument"`
	File       string  `json:"file"`
	Volume     float64 `json:"volume"`
}

// Response is returned by a kit executable.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Kit is a discovered kit with its manifest and location.
type Kit struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Sample returns the absolute path of an instrument's sample file.
func (k *Kit) Sample(instrument string) (string, bool) {
	file, ok := k.Manifest.Samples[instrument]
	if !ok || file == "" {
		return "", false
	}
	return resolve(k.Path, file), true
}
