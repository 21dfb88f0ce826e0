package usecase

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"

	"jux/internal/config"
	"jux/internal/domain"
	"jux/internal/infra/canonical"
	"jux/internal/infra/xmlsig"
)

// ReportStore is the slice of the content-addressable store the capture flow
// needs. Verification stays independent of storage entirely.
type ReportStore interface {
	StoreReport(content []byte, digest string) (string, error)
	QueueReport(content []byte, digest string) (string, error)
	ReportExists(digest string) bool
	QueuedExists(digest string) bool
	PutMetadata(digest string, meta domain.ReportMetadata) error
}

type CaptureRequest struct {
	XML         []byte
	Key         crypto.Signer
	Certificate *x509.Certificate
	Metadata    *domain.ReportMetadata
	Mode        config.StorageMode
}

type CaptureReceipt struct {
	Digest       string
	Deduplicated bool
	Stored       bool
	Queued       bool
	SignedXML    []byte
}

// CaptureReport takes raw report bytes through the full pipeline: parse,
// canonical content digest, dedup short-circuit, sign, persist. The store
// key is the content digest, so a report captured twice (even if re-signed
// with a nondeterministic algorithm) still maps to one blob.
type CaptureReport struct {
	Store ReportStore
}

func (uc *CaptureReport) Execute(req CaptureRequest) (*CaptureReceipt, error) {
	if req.Key == nil {
		return nil, errors.New("private key is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = config.ModeLocal
	}

	doc, err := canonical.Load(req.XML)
	if err != nil {
		return nil, err
	}
	digest, err := xmlsig.ContentDigest(doc, canonical.DefaultDigestAlgorithm)
	if err != nil {
		return nil, err
	}

	receipt := &CaptureReceipt{Digest: digest}
	if uc.alreadyCaptured(digest, mode) {
		receipt.Deduplicated = true
		return receipt, nil
	}

	signed, err := xmlsig.Sign(doc, req.Key, req.Certificate)
	if err != nil {
		return nil, err
	}
	signedBytes, err := signed.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize signed report: %w", err)
	}

	if mode == config.ModeLocal || mode == config.ModeBoth {
		if _, err := uc.Store.StoreReport(signedBytes, digest); err != nil {
			return nil, err
		}
		receipt.Stored = true
	}
	if mode == config.ModeQueue || mode == config.ModeBoth {
		if _, err := uc.Store.QueueReport(signedBytes, digest); err != nil {
			return nil, err
		}
		receipt.Queued = true
	}
	if req.Metadata != nil {
		if err := uc.Store.PutMetadata(digest, *req.Metadata); err != nil {
			return nil, err
		}
	}
	receipt.SignedXML = signedBytes
	return receipt, nil
}

func (uc *CaptureReport) alreadyCaptured(digest string, mode config.StorageMode) bool {
	switch mode {
	case config.ModeQueue:
		return uc.Store.QueuedExists(digest) || uc.Store.ReportExists(digest)
	case config.ModeBoth:
		return uc.Store.ReportExists(digest) && uc.Store.QueuedExists(digest)
	default:
		return uc.Store.ReportExists(digest)
	}
}
