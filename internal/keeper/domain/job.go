package domain

import "time"

// EvidenceJob is one outbox row: a content digest waiting to be anchored.
type EvidenceJob struct {
	ID             string    `db:"id"`
	PayloadDigest  string    `db:"payload_digest"` // hex-encoded SHA-256
	Status         string    `db:"status"`
	Attempts       int       `db:"attempts"`
	LastError      string    `db:"last_error"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
	NextEligibleAt time.Time `db:"next_eligible_at"`
}

// ChainTxRef references one blockchain transaction anchoring a job or a
// batch root. Created unconfirmed right after a successful anchor call;
// only the confirmation loop flips Confirmed.
type ChainTxRef struct {
	JobID     string     `db:"job_id"`
	Network   string     `db:"network"`
	Chain     string     `db:"chain"`
	TxID      string     `db:"tx_id"`
	Confirmed bool       `db:"confirmed"`
	Timestamp *time.Time `db:"anchored_ts"`
}
