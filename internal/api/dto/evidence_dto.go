package dto

import "encoding/json"

type SubmitEvidenceRequest struct {
	// ID is optional; the server generates one when omitted. Resubmitting
	// an existing id is a no-op and returns the stored job.
	ID        string `json:"id"`
	DigestHex string `json:"digest_hex" binding:"required"`
}

type SubmitEvidenceResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Created bool   `json:"created"`
}

type ListEvidenceRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListEvidenceResponse struct {
	Jobs       []EvidenceJobDTO `json:"jobs"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type EvidenceJobDTO struct {
	JobID         string `json:"job_id"`
	PayloadDigest string `json:"payload_digest"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type TxRefDTO struct {
	Network   string `json:"network"`
	Chain     string `json:"chain"`
	TxID      string `json:"tx_id"`
	Confirmed bool   `json:"confirmed"`
}

type ProofResponse struct {
	JobID string          `json:"job_id"`
	Proof json.RawMessage `json:"proof"`
	Tx    TxRefDTO        `json:"tx"`
}

type BatchStatsResponse struct {
	TotalBatches int `json:"total_batches"`
	TotalItems   int `json:"total_items"`
}
