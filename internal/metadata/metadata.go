package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	latestProbeFile = "latest.json"
	runningFile     = "running.json"

	// HistoryDir holds one directory per day (YYYY-MM-DD) of probe results.
	HistoryDir = "history"
)

type ProbeStatus struct {
	Running bool `json:"running"`
}

// ProbeResult is the outcome of one connectivity probe.
type ProbeResult struct {
	ProbeID       string `json:"probe_id"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at"`
	DurationMs    int64  `json:"duration_ms"`
	Status        string `json:"status"`
	Database      string `json:"database"`
	ServerVersion string `json:"server_version,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ReadLastProbe returns nil without error when no probe has run yet.
func ReadLastProbe(baseDir string) (*ProbeResult, error) {
	filePath := filepath.Join(baseDir, "metadata", latestProbeFile)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read last probe: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse last probe: %w", err)
	}

	return &result, nil
}

func WriteLastProbe(baseDir string, result *ProbeResult) error {
	return writeJSON(baseDir, latestProbeFile, result)
}

// AppendProbeHistory stores result under the day it started on.
func AppendProbeHistory(baseDir string, result *ProbeResult, startedAt time.Time) error {
	dayDir := filepath.Join(baseDir, HistoryDir, startedAt.Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	dataBytes, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal probe history: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dayDir, result.ProbeID+".json"), dataBytes, 0644); err != nil {
		return fmt.Errorf("failed to write probe history: %w", err)
	}
	return nil
}

func ReadProbeStatus(baseDir string) (*ProbeStatus, error) {
	filePath := filepath.Join(baseDir, "metadata", runningFile)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProbeStatus{Running: false}, nil
		}
		return nil, fmt.Errorf("failed to read probe status: %w", err)
	}

	var status ProbeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse probe status: %w", err)
	}

	return &status, nil
}

func WriteProbeStatus(baseDir string, status *ProbeStatus) error {
	return writeJSON(baseDir, runningFile, status)
}

func writeJSON(baseDir, name string, v any) error {
	metadataDir := filepath.Join(baseDir, "metadata")
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	dataBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	// Write then rename so readers never see a partial file.
	tmp := filepath.Join(metadataDir, "."+name+".tmp")
	if err := os.WriteFile(tmp, dataBytes, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(metadataDir, name)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	return nil
}
