// Package main provides a sample player for drum kits. It reads a play
// request on stdin and plays the sample with the platform's audio tool.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// Request represents the input from the kit executor.
type Request struct {
	Instrument string  `json:"instrument"`
	File       string  `json:"file"`
	Volume     float64 `json:"volume"`
}

// Response represents the output to the kit executor.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(fmt.Errorf("failed to decode request: %w", err))
		return
	}
	if req.File == "" {
		writeResponse(fmt.Errorf("no sample for instrument %q", req.Instrument))
		return
	}
	if _, err := os.Stat(req.File); err != nil {
		writeResponse(fmt.Errorf("sample %s: %w", req.File, err))
		return
	}

	writeResponse(play(req.File, req.Volume))
}

func writeResponse(err error) {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

// command returns the platform player invocation for file at volume 0..1.
func command(goos, file string, volume float64) (string, []string, error) {
	switch goos {
	case "darwin":
		return "afplay", []string{"-v", strconv.FormatFloat(volume, 'f', 2, 64), file}, nil
	case "linux":
		if _, err := exec.LookPath("paplay"); err == nil {
			// paplay volume is linear with 65536 as 100%.
			return "paplay", []string{"--volume", strconv.Itoa(int(volume * 65536)), file}, nil
		}
		return "aplay", []string{"-q", file}, nil
	case "windows":
		script := fmt.Sprintf("(New-Object Media.SoundPlayer '%s').PlaySync()", file)
		return "powershell", []string{"-NoProfile", "-Command", script}, nil
	}
	return "", nil, fmt.Errorf("unsupported platform %s", goos)
}

func play(file string, volume float64) error {
	name, args, err := command(runtime.GOOS, file, volume)
	if err != nil {
		return err
	}
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, string(output))
	}
	return nil
}
