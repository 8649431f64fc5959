package queue

// TypeIngestDocument replaces the active corpus with a spooled file.
const TypeIngestDocument = "ingest:document"

// QueueIngest is the asynq queue ingestion tasks run on.
const QueueIngest = "ingest"

type IngestDocumentPayload struct {
	Key      string `json:"key"`      // spool key of the uploaded file
	Filename string `json:"filename"` // original name, drives type detection
	Source   string `json:"source"`   // "upload" or "watch"
}
