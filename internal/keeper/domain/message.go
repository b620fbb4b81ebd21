package domain

// SubmissionMessage is the envelope published for every accepted evidence
// submission and consumed by the batch dispatcher.
type SubmissionMessage struct {
	JobID     string `json:"job_id"`
	DigestHex string `json:"digest_hex"`
}
