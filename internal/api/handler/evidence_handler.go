package handler

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/provenix/evidence-keeper/internal/api/dto"
	"github.com/provenix/evidence-keeper/internal/api/storage"
	"github.com/provenix/evidence-keeper/internal/keeper/domain"
)

const sha256HexLen = 64

// SubmitEvidence handles POST /api/v1/evidence
// Durably records an anchoring job for the submitted payload digest.
func (h *EvidenceHandler) SubmitEvidence(c *gin.Context) {
	var req dto.SubmitEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	digest := strings.ToLower(req.DigestHex)
	if len(digest) != sha256HexLen {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "digest_hex must be a 64-character hex-encoded SHA-256 digest",
		})
		return
	}
	if _, err := hex.DecodeString(digest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "digest_hex must be valid hex",
		})
		return
	}

	if req.ID != "" {
		if _, err := uuid.Parse(req.ID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "id must be a valid UUID",
			})
			return
		}
	}

	id, created, err := h.jobs.CreateJob(c.Request.Context(), req.ID, digest)
	if err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	if created {
		h.publishSubmission(c, id, digest)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	c.JSON(status, dto.SubmitEvidenceResponse{
		JobID:   id,
		Status:  domain.JobStatusQueued,
		Created: created,
	})
}

// publishSubmission notifies the keeper about a freshly created job. The
// durable row is already committed, so a publish failure is logged and the
// request still succeeds; the keeper's poll loop picks the job up anyway.
func (h *EvidenceHandler) publishSubmission(c *gin.Context, jobID, digest string) {
	body, err := json.Marshal(domain.SubmissionMessage{
		JobID:     jobID,
		DigestHex: digest,
	})
	if err != nil {
		h.logger.Error("Failed to marshal submission message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := h.rabbitClient.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to publish submission message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// GetEvidence handles GET /api/v1/evidence/:job_id
// Retrieves the current outbox state of one job.
func (h *EvidenceHandler) GetEvidence(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, jobToDTO(job))
}

// ListEvidence handles GET /api/v1/evidence
// Lists jobs with optional status filtering and cursor pagination.
func (h *EvidenceHandler) ListEvidence(c *gin.Context) {
	var req dto.ListEvidenceRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.listing.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.EvidenceJobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = jobToDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor, err = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			ID:        lastJob.ID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListEvidenceResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// GetProof handles GET /api/v1/evidence/:job_id/proof
// Returns the Merkle inclusion proof and batch transaction reference. A job
// whose batch has not anchored yet is indistinguishable from an unknown job.
func (h *EvidenceHandler) GetProof(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	proofJSON, txRef, err := h.batches.GetProof(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrProofNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "proof not found",
			})
			return
		}
		h.logger.Error("Failed to get proof", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get proof",
		})
		return
	}

	c.JSON(http.StatusOK, dto.ProofResponse{
		JobID: jobID,
		Proof: json.RawMessage(proofJSON),
		Tx: dto.TxRefDTO{
			Network:   txRef.Network,
			Chain:     txRef.Chain,
			TxID:      txRef.TxID,
			Confirmed: txRef.Confirmed,
		},
	})
}

// GetBatchStats handles GET /api/v1/batches/stats
// Aggregates anchored batch totals. The in-memory pending count lives in
// the keeper process and is exposed there as a metric.
func (h *EvidenceHandler) GetBatchStats(c *gin.Context) {
	batches, items, err := h.batches.AnchoredTotals(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to aggregate batch stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to aggregate batch stats",
		})
		return
	}

	c.JSON(http.StatusOK, dto.BatchStatsResponse{
		TotalBatches: batches,
		TotalItems:   items,
	})
}

func jobToDTO(job *domain.EvidenceJob) dto.EvidenceJobDTO {
	return dto.EvidenceJobDTO{
		JobID:         job.ID,
		PayloadDigest: job.PayloadDigest,
		Status:        job.Status,
		Attempts:      job.Attempts,
		LastError:     job.LastError,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
}
