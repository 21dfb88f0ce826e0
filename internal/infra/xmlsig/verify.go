package xmlsig

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/beevik/etree"

	"jux/internal/domain"
)

// signatureRecord is the parsed ds:Signature sub-tree. Digest and signature
// values embedded in the document are never trusted as given; they are only
// compared against recomputed values.
type signatureRecord struct {
	element          *etree.Element
	signedInfo       *etree.Element
	canonicalization string
	signatureMethod  string
	digestMethod     string
	digestValue      []byte
	signatureValue   []byte
	certificate      *x509.Certificate
}

// Verify checks the document's enveloped signature using the certificate
// embedded in ds:KeyInfo. It returns false for a well-formed but tampered or
// mismatched signature, and an error only for documents without a signature
// (domain.ErrNoSignature) or with a structurally malformed one
// (domain.ErrVerification).
//
// Certificate trust chains are deliberately not validated here; a valid
// signature from a self-signed certificate verifies as true. Callers that
// need chain validation perform it separately so "signature invalid" and
// "certificate untrusted" stay distinguishable.
func Verify(doc *etree.Document) (bool, error) {
	return verify(doc, nil)
}

// VerifyWithCertificate checks the signature against the supplied
// certificate's public key, ignoring any embedded certificate.
func VerifyWithCertificate(doc *etree.Document, cert *x509.Certificate) (bool, error) {
	if cert == nil {
		return false, fmt.Errorf("%w: no certificate supplied", domain.ErrVerification)
	}
	return verify(doc, cert)
}

func verify(doc *etree.Document, cert *x509.Certificate) (bool, error) {
	result, err := inspect(doc, cert)
	if err != nil {
		return false, err
	}
	return result.DigestValid && result.SignatureValid, nil
}

// Result separates the two checks a verification performs: the recomputed
// content digest against the embedded one (tamper detection) and the raw
// asymmetric signature over SignedInfo (signer authenticity).
type Result struct {
	DigestValid    bool
	SignatureValid bool
	// Certificate is the one embedded in the signature, if any, so callers
	// can run their own trust-chain checks on it.
	Certificate *x509.Certificate
}

// Inspect runs both verification checks and reports them separately,
// using the supplied certificate or falling back to the embedded one.
func Inspect(doc *etree.Document, cert *x509.Certificate) (Result, error) {
	return inspect(doc, cert)
}

func inspect(doc *etree.Document, cert *x509.Certificate) (Result, error) {
	record, err := locateSignature(doc)
	if err != nil {
		return Result{}, err
	}

	if cert == nil {
		cert = record.certificate
	}
	if cert == nil {
		return Result{}, fmt.Errorf("%w: no certificate embedded or supplied", domain.ErrVerification)
	}

	digestOK, err := verifyContentDigest(doc, record)
	if err != nil {
		return Result{}, err
	}
	sigOK, err := verifySignatureValue(record, cert)
	if err != nil {
		return Result{}, err
	}
	return Result{DigestValid: digestOK, SignatureValid: sigOK, Certificate: record.certificate}, nil
}

// EmbeddedCertificate returns the certificate carried in the signature's
// ds:KeyInfo, or nil when the document is signed without one.
func EmbeddedCertificate(doc *etree.Document) (*x509.Certificate, error) {
	record, err := locateSignature(doc)
	if err != nil {
		return nil, err
	}
	return record.certificate, nil
}

func locateSignature(doc *etree.Document) (*signatureRecord, error) {
	if doc == nil || doc.Root() == nil {
		return nil, fmt.Errorf("%w: no root element", domain.ErrMalformedXML)
	}
	sigs := signatureElements(doc.Root())
	if len(sigs) == 0 {
		return nil, domain.ErrNoSignature
	}
	return parseSignature(sigs[0])
}

func parseSignature(sig *etree.Element) (*signatureRecord, error) {
	record := &signatureRecord{element: sig}

	record.signedInfo = childElement(sig, "SignedInfo")
	if record.signedInfo == nil {
		return nil, fmt.Errorf("%w: missing SignedInfo", domain.ErrVerification)
	}

	cm := childElement(record.signedInfo, "CanonicalizationMethod")
	sm := childElement(record.signedInfo, "SignatureMethod")
	ref := childElement(record.signedInfo, "Reference")
	if cm == nil || sm == nil || ref == nil {
		return nil, fmt.Errorf("%w: incomplete SignedInfo", domain.ErrVerification)
	}
	record.canonicalization = cm.SelectAttrValue("Algorithm", "")
	record.signatureMethod = sm.SelectAttrValue("Algorithm", "")

	dm := childElement(ref, "DigestMethod")
	dv := childElement(ref, "DigestValue")
	if dm == nil || dv == nil {
		return nil, fmt.Errorf("%w: incomplete Reference", domain.ErrVerification)
	}
	record.digestMethod = dm.SelectAttrValue("Algorithm", "")

	digest, err := base64.StdEncoding.DecodeString(strings.TrimSpace(dv.Text()))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DigestValue encoding", domain.ErrVerification)
	}
	record.digestValue = digest

	sv := childElement(sig, "SignatureValue")
	if sv == nil {
		return nil, fmt.Errorf("%w: missing SignatureValue", domain.ErrVerification)
	}
	value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sv.Text()))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid SignatureValue encoding", domain.ErrVerification)
	}
	record.signatureValue = value

	if keyInfo := childElement(sig, "KeyInfo"); keyInfo != nil {
		if x509Data := childElement(keyInfo, "X509Data"); x509Data != nil {
			if certEl := childElement(x509Data, "X509Certificate"); certEl != nil {
				der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certEl.Text()))
				if err != nil {
					return nil, fmt.Errorf("%w: invalid X509Certificate encoding", domain.ErrVerification)
				}
				cert, err := x509.ParseCertificate(der)
				if err != nil {
					return nil, fmt.Errorf("%w: invalid embedded certificate: %v", domain.ErrVerification, err)
				}
				record.certificate = cert
			}
		}
	}

	return record, nil
}

// verifyContentDigest recomputes the reference digest over the document with
// the signature element excluded, per the enveloped-signature transform, and
// compares it against the embedded value.
func verifyContentDigest(doc *etree.Document, record *signatureRecord) (bool, error) {
	canonicalizer, err := canonicalizerForURI(record.canonicalization)
	if err != nil {
		return false, err
	}
	hashID, err := hashForDigestMethod(record.digestMethod)
	if err != nil {
		return false, err
	}

	root := doc.Root()
	sigIndex := -1
	for i, sig := range signatureElements(root) {
		if sig == record.element {
			sigIndex = i
			break
		}
	}
	if sigIndex < 0 {
		return false, fmt.Errorf("%w: signature detached from document", domain.ErrVerification)
	}

	rootCopy := root.Copy()
	sigCopy := signatureElements(rootCopy)[sigIndex]
	if parent := sigCopy.Parent(); parent != nil {
		parent.RemoveChild(sigCopy)
	}

	canonical, err := canonicalizer.Canonicalize(rootCopy)
	if err != nil {
		return false, fmt.Errorf("%w: canonicalize content: %v", domain.ErrVerification, err)
	}
	h := hashID.New()
	h.Write(canonical)
	return bytes.Equal(h.Sum(nil), record.digestValue), nil
}

// verifySignatureValue canonicalizes SignedInfo in place (its namespace
// context comes from the surrounding document) and checks the raw asymmetric
// signature against the certificate's public key.
func verifySignatureValue(record *signatureRecord, cert *x509.Certificate) (bool, error) {
	canonicalizer, err := canonicalizerForURI(record.canonicalization)
	if err != nil {
		return false, err
	}
	signedInfoBytes, err := canonicalizer.Canonicalize(record.signedInfo)
	if err != nil {
		return false, fmt.Errorf("%w: canonicalize SignedInfo: %v", domain.ErrVerification, err)
	}

	switch record.signatureMethod {
	case SignatureMethodRSASHA256:
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return false, fmt.Errorf("%w: signature method %q does not match %T key", domain.ErrVerification, record.signatureMethod, cert.PublicKey)
		}
		hashed := sha256.Sum256(signedInfoBytes)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], record.signatureValue); err != nil {
			return false, nil
		}
		return true, nil
	case SignatureMethodECDSASHA256:
		pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return false, fmt.Errorf("%w: signature method %q does not match %T key", domain.ErrVerification, record.signatureMethod, cert.PublicKey)
		}
		if len(record.signatureValue) == 0 || len(record.signatureValue)%2 != 0 {
			return false, nil
		}
		half := len(record.signatureValue) / 2
		r := new(big.Int).SetBytes(record.signatureValue[:half])
		s := new(big.Int).SetBytes(record.signatureValue[half:])
		hashed := sha256.Sum256(signedInfoBytes)
		return ecdsa.Verify(pub, hashed[:], r, s), nil
	}
	return false, fmt.Errorf("%w: unsupported signature method %q", domain.ErrVerification, record.signatureMethod)
}
