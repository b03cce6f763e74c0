// Package tasks defines the payloads of jobs sent through Kafka.
package tasks

// DocumentIndexTask asks the indexing pipeline to (re-)index one document.
type DocumentIndexTask struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
}

// ChecklistRunTask asks the orchestrator to execute one pending run.
type ChecklistRunTask struct {
	RunID string `json:"run_id"`
}
