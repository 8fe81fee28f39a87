package models

import (
	"time"
)

// VerificationStatus is the remote-owned state of an identity verification.
// The client only ever observes it; it never asserts "verified" locally.
type VerificationStatus string

const (
	VerificationNotStarted VerificationStatus = "not_started"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
	VerificationRejected   VerificationStatus = "rejected"
)

// Terminal reports whether no further verification progress is possible.
func (s VerificationStatus) Terminal() bool {
	return s == VerificationVerified
}

// CaptureStep is the locally-owned cursor of the document capture wizard.
// It is meaningful only while the remote status is not verified.
type CaptureStep string

const (
	StepInfo       CaptureStep = "info"
	StepDocFront   CaptureStep = "doc_front"
	StepDocBack    CaptureStep = "doc_back"
	StepLiveness   CaptureStep = "liveness"
	StepSubmitting CaptureStep = "submitting"
)

// ArtifactSlot identifies one of the three document captures.
type ArtifactSlot string

const (
	SlotFront ArtifactSlot = "front"
	SlotBack  ArtifactSlot = "back"
	SlotFace  ArtifactSlot = "face"
)

// Slot returns the artifact slot a capture step collects, or "" for steps
// that collect nothing.
func (s CaptureStep) Slot() ArtifactSlot {
	switch s {
	case StepDocFront:
		return SlotFront
	case StepDocBack:
		return SlotBack
	case StepLiveness:
		return SlotFace
	}
	return ""
}

// VerificationStatusResponse is the gateway's answer to a status fetch.
type VerificationStatusResponse struct {
	Status          VerificationStatus `json:"status"`
	RejectionReason string             `json:"rejectionReason,omitempty"`
}

// SubmitVerificationResponse acknowledges a document submission.
type SubmitVerificationResponse struct {
	Message string `json:"message"`
}

// VerificationCompletion records that the completion side effect for a
// subject has already fired, so re-entering the flow never fires it again.
type VerificationCompletion struct {
	Subject     string    `json:"subject" gorm:"primaryKey"`
	CompletedAt time.Time `json:"completed_at"`
}
