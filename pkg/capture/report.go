// Package capture is the public surface of jux: loading and canonicalizing
// JUnit XML reports, computing content digests, signing and verifying
// reports, and opening the local report store. Outer layers (pytest-style
// hooks, CLIs, publishers) consume the core only through this package.
package capture

import (
	"crypto"
	"crypto/x509"

	"github.com/beevik/etree"

	"jux/internal/config"
	"jux/internal/domain"
	"jux/internal/infra/canonical"
	"jux/internal/infra/store"
	"jux/internal/infra/xmlsig"
	"jux/internal/usecase"
)

// Load parses an XML report from a file path, raw text, raw bytes, or an
// io.Reader.
func Load(source any) (*etree.Document, error) {
	return canonical.Load(source)
}

// Canonicalize returns the deterministic byte form of the document.
func Canonicalize(doc *etree.Document, exclusive, withComments bool) ([]byte, error) {
	return canonical.Canonicalize(doc, exclusive, withComments)
}

// Digest hashes the canonical form of the document; algorithm defaults to
// sha256 when empty.
func Digest(doc *etree.Document, algorithm string) (string, error) {
	return canonical.Digest(doc, algorithm)
}

// ContentDigest is like Digest but excludes any enveloped signature, so it
// identifies the same report before and after signing.
func ContentDigest(doc *etree.Document, algorithm string) (string, error) {
	return xmlsig.ContentDigest(doc, algorithm)
}

// Sign appends an enveloped XML signature to the document and returns the
// mutated document.
func Sign(doc *etree.Document, key crypto.Signer, cert *x509.Certificate) (*etree.Document, error) {
	return xmlsig.Sign(doc, key, cert)
}

// Verify checks the document's signature against the embedded certificate.
// False means well-formed but tampered or mismatched; structural problems
// are errors.
func Verify(doc *etree.Document) (bool, error) {
	return xmlsig.Verify(doc)
}

// VerifyWithCertificate checks the signature against the supplied
// certificate instead of the embedded one.
func VerifyWithCertificate(doc *etree.Document, cert *x509.Certificate) (bool, error) {
	return xmlsig.VerifyWithCertificate(doc, cert)
}

// Open opens the report store rooted at path; an empty path selects the
// platform user-data directory.
func Open(path string) (*store.Storage, error) {
	return store.New(path)
}

// StorageMode re-exports for callers driving CaptureAndStore.
type StorageMode = config.StorageMode

const (
	ModeLocal = config.ModeLocal
	ModeQueue = config.ModeQueue
	ModeBoth  = config.ModeBoth
)

// CaptureAndStore runs the full pipeline on raw report bytes: parse,
// content digest, dedup check, sign, persist per mode, optional metadata
// sidecar. It returns the content digest, whether the report was already
// stored, and the signed bytes (empty when deduplicated).
func CaptureAndStore(xml []byte, key crypto.Signer, cert *x509.Certificate, st *store.Storage, mode StorageMode, meta *domain.ReportMetadata) (digest string, deduplicated bool, signed []byte, err error) {
	uc := &usecase.CaptureReport{Store: st}
	receipt, err := uc.Execute(usecase.CaptureRequest{
		XML:         xml,
		Key:         key,
		Certificate: cert,
		Metadata:    meta,
		Mode:        mode,
	})
	if err != nil {
		return "", false, nil, err
	}
	return receipt.Digest, receipt.Deduplicated, receipt.SignedXML, nil
}
