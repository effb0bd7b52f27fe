package mikrowisp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const ReportFilename = "download-report.json"

type ReportSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type SuccessfulDownload struct {
	RecordNumber string `json:"recordNumber"`
	ClientName   string `json:"clientName"`
	ClientID     string `json:"clientId"`
	Amount       string `json:"amount,omitempty"`
	Filename     string `json:"filename"`
}

type FailedDownload struct {
	RecordNumber string `json:"recordNumber"`
	ClientName   string `json:"clientName"`
	ClientID     string `json:"clientId"`
	Error        string `json:"error"`
}

type RunReport struct {
	Timestamp           string               `json:"timestamp"`
	Summary             ReportSummary        `json:"summary"`
	SuccessfulDownloads []SuccessfulDownload `json:"successfulDownloads"`
	FailedDownloads     []FailedDownload     `json:"failedDownloads"`
}

// BuildReport only reads the results, it is pure given now.
func BuildReport(now time.Time, successful, failed []DownloadResult) RunReport {
	report := RunReport{
		Timestamp: now.UTC().Format("2006-01-02T15:04:05.000Z"),
		Summary: ReportSummary{
			Total:      len(successful) + len(failed),
			Successful: len(successful),
			Failed:     len(failed),
		},
		SuccessfulDownloads: make([]SuccessfulDownload, 0, len(successful)),
		FailedDownloads:     make([]FailedDownload, 0, len(failed)),
	}
	for _, r := range successful {
		report.SuccessfulDownloads = append(report.SuccessfulDownloads, SuccessfulDownload{
			RecordNumber: r.Record.RecordNumber,
			ClientName:   r.Record.ClientName,
			ClientID:     r.Record.ClientID,
			Amount:       r.Record.Total,
			Filename:     r.Filename,
		})
	}
	for _, r := range failed {
		msg := "unknown error"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		report.FailedDownloads = append(report.FailedDownloads, FailedDownload{
			RecordNumber: r.Record.RecordNumber,
			ClientName:   r.Record.ClientName,
			ClientID:     r.Record.ClientID,
			Error:        msg,
		})
	}
	return report
}

// WriteReport writes dir/download-report.json and returns its path.
func WriteReport(dir string, report RunReport) (string, error) {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ReportFilename)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", err
	}
	return path, nil
}
