package model

import "time"

// TaskEmailSearch is the label of the inference run.
const TaskEmailSearch = "Recherche d'emails"

// Progress is the shared, overwritable status record of a background run.
type Progress struct {
	RunID      string          `json:"run_id,omitempty"`
	Running    bool            `json:"running"`
	TaskName   string          `json:"task_name"`
	Current    int             `json:"current"`
	Total      int             `json:"total"`
	Message    string          `json:"message"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error"`
	Results    *ProgressResult `json:"results,omitempty"`
}

// ProgressResult summarizes a finished run.
type ProgressResult struct {
	Total    int `json:"total"`
	Found    int `json:"found"`
	NotFound int `json:"not_found"`
}
