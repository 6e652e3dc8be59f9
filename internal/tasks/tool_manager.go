package tasks

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"traj2gps/internal/config"
)

// ToolManager resolves the external tools a geotag run depends on.
type ToolManager struct {
	cfg config.Tools
}

func NewToolManager(cfg config.Tools) *ToolManager {
	return &ToolManager{cfg: cfg}
}

// ToolStatus represents the availability of a tool.
type ToolStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     error  `json:"-"`
}

// CheckTool verifies that a logical tool ("exiftool", "ddb", "imagick") is
// usable.
func (tm *ToolManager) CheckTool(toolName string) ToolStatus {
	var binary string
	var versionArgs []string
	switch toolName {
	case "imagick":
		// linked in at build time
		return ToolStatus{Available: true, Version: "MagickWand"}
	case "exiftool":
		binary, versionArgs = tm.cfg.Exiftool, []string{"-ver"}
	case "ddb":
		binary, versionArgs = tm.cfg.DDB, []string{"--version"}
	default:
		binary = toolName
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		return ToolStatus{Available: false, Error: err}
	}
	if versionArgs == nil {
		return ToolStatus{Available: true, Path: path}
	}

	output, err := exec.Command(path, versionArgs...).CombinedOutput()
	if err != nil {
		if len(output) > 0 {
			return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
		}
		return ToolStatus{Available: false, Path: path, Error: err}
	}
	return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
}

// GetToolStatus reports every tool the program can use.
func (tm *ToolManager) GetToolStatus() map[string]ToolStatus {
	status := make(map[string]ToolStatus)
	for _, name := range []string{"exiftool", "ddb", "imagick"} {
		status[name] = tm.CheckTool(name)
	}
	return status
}

// ToolNames returns the keys of a status map in a stable order.
func ToolNames(status map[string]ToolStatus) []string {
	names := make([]string, 0, len(status))
	for n := range status {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reader picks the capture time reader named by tools.metadata_reader. With
// "auto" exiftool is preferred and MagickWand is the fallback.
func (tm *ToolManager) Reader() (TimeReader, error) {
	switch tm.cfg.MetadataReader {
	case "exiftool":
		if st := tm.CheckTool("exiftool"); !st.Available {
			return nil, fmt.Errorf("exiftool not found: %v", st.Error)
		}
		return NewExifReader(tm.cfg.Exiftool), nil
	case "imagick":
		return ImagickReader{}, nil
	case "", "auto":
		if commandExists(tm.cfg.Exiftool) {
			return NewExifReader(tm.cfg.Exiftool), nil
		}
		return ImagickReader{}, nil
	}
	return nil, fmt.Errorf("unknown metadata reader %q", tm.cfg.MetadataReader)
}

// Writer returns the exiftool GPS writer or an error if exiftool is missing.
func (tm *ToolManager) Writer() (PositionWriter, error) {
	if st := tm.CheckTool("exiftool"); !st.Available {
		return nil, fmt.Errorf("exiftool not found. Is it installed?")
	}
	return NewExifWriter(tm.cfg.Exiftool), nil
}

// extractVersion extracts version information from tool output.
func extractVersion(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(strings.ToLower(line), "version") {
			return line
		}
	}
	if len(lines) > 0 && lines[0] != "" {
		return strings.TrimSpace(lines[0])
	}
	return "unknown"
}
