package engine

import (
	"strings"

	"bountyline/internal/config"
	"bountyline/internal/domain"
)

// Proof payload kinds.
const (
	ProofText       = "text"
	ProofAttachment = "attachment"
)

// ProofPayload is a tagged proof submission: either a text note or an
// attachment described by its metadata.
type ProofPayload struct {
	Kind        string `json:"kind" enum:"text,attachment"`
	Note        string `json:"note,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// ProofCheck is the validator's verdict. Errors holds human-readable
// reasons when Valid is false.
type ProofCheck struct {
	Valid  bool
	Errors []string
}

// ValidateProofPayload decides whether a proof payload is acceptable.
// It reports violations instead of returning an error: a malformed payload
// is an expected input, not a failure.
func ValidateProofPayload(p ProofPayload, cfg *config.Config) ProofCheck {
	var errs []string
	switch p.Kind {
	case ProofText:
		if strings.TrimSpace(p.Note) == "" {
			errs = append(errs, "proof note must not be empty")
		}
	case ProofAttachment:
		if strings.TrimSpace(p.Filename) == "" {
			errs = append(errs, "attachment filename required")
		}
		if p.Size <= 0 {
			errs = append(errs, "attachment must not be empty")
		}
		if cfg != nil {
			if p.Size > cfg.Proof.MaxAttachmentBytes {
				errs = append(errs, "attachment exceeds size limit")
			}
			if !cfg.AllowsContentType(p.ContentType) {
				errs = append(errs, "attachment content type not accepted")
			}
		}
	default:
		errs = append(errs, "proof kind must be text or attachment")
	}
	return ProofCheck{Valid: len(errs) == 0, Errors: errs}
}

// StatusAfterProofSubmission is the single authority for whether a proof
// submission needs issuer sign-off: review when proof is required,
// completed otherwise. Callers must not special-case this elsewhere.
func StatusAfterProofSubmission(proofRequired bool) string {
	if proofRequired {
		return domain.StatusReview
	}
	return domain.StatusCompleted
}
