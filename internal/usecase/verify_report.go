package usecase

import (
	"crypto/x509"
	"errors"
	"time"

	"jux/internal/domain"
	"jux/internal/infra/canonical"
	"jux/internal/infra/xmlsig"
)

type VerifyRequest struct {
	XML []byte
	// Certificate overrides the one embedded in the signature.
	Certificate *x509.Certificate
}

// VerifyReceipt keeps the user-visible outcomes distinguishable: not signed,
// tampered content, invalid signature, untrusted certificate, and valid are
// separate states, never collapsed into one boolean.
type VerifyReceipt struct {
	State              domain.VerificationState
	Digest             string
	SignatureValid     bool
	CertificateTrusted *bool
	Certificate        *x509.Certificate
}

// VerifyReport checks a report end to end. The raw cryptographic signature
// is always checked; certificate chains are validated only when trust Roots
// are configured, and a chain failure downgrades the state to untrusted
// without touching SignatureValid — a self-signed certificate yields a valid
// signature with CertificateTrusted=false.
type VerifyReport struct {
	Roots *x509.CertPool
	Now   func() time.Time
}

func (uc *VerifyReport) Execute(req VerifyRequest) (*VerifyReceipt, error) {
	doc, err := canonical.Load(req.XML)
	if err != nil {
		return nil, err
	}
	digest, err := xmlsig.ContentDigest(doc, canonical.DefaultDigestAlgorithm)
	if err != nil {
		return nil, err
	}
	receipt := &VerifyReceipt{Digest: digest}

	result, err := xmlsig.Inspect(doc, req.Certificate)
	if err != nil {
		if errors.Is(err, domain.ErrNoSignature) {
			receipt.State = domain.VerificationNotSigned
			return receipt, nil
		}
		return nil, err
	}
	receipt.Certificate = result.Certificate
	if req.Certificate != nil {
		receipt.Certificate = req.Certificate
	}

	switch {
	case !result.DigestValid:
		receipt.State = domain.VerificationTampered
		return receipt, nil
	case !result.SignatureValid:
		receipt.State = domain.VerificationSignatureInvalid
		return receipt, nil
	}
	receipt.SignatureValid = true
	receipt.State = domain.VerificationValid

	if uc.Roots != nil && receipt.Certificate != nil {
		trusted := uc.chainTrusted(receipt.Certificate)
		receipt.CertificateTrusted = &trusted
		if !trusted {
			receipt.State = domain.VerificationUntrusted
		}
	}
	return receipt, nil
}

func (uc *VerifyReport) chainTrusted(cert *x509.Certificate) bool {
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:       uc.Roots,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		CurrentTime: now(),
	})
	return err == nil
}
