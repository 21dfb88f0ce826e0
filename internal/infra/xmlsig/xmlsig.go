// Package xmlsig builds and verifies enveloped XML digital signatures over
// report documents, following the W3C XML Signature vocabulary so third-party
// verifiers can interoperate. RSA and ECDSA keys are dispatched by variant at
// the package boundary; canonicalization is delegated to goxmldsig.
package xmlsig

import (
	"crypto"
	_ "crypto/sha512" // register SHA-384/512 for digest-method lookups
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"jux/internal/domain"
	"jux/internal/infra/canonical"
)

const (
	Namespace = "http://www.w3.org/2000/09/xmldsig#"
	prefix    = "ds"

	CanonicalizationC14N11      = "http://www.w3.org/2006/12/xml-c14n11"
	CanonicalizationC14N10      = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	CanonicalizationExclusive10 = "http://www.w3.org/2001/10/xml-exc-c14n#"
	TransformEnvelopedSignature = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	SignatureMethodRSASHA256    = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	SignatureMethodECDSASHA256  = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"
	DigestMethodSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	DigestMethodSHA384          = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	DigestMethodSHA512          = "http://www.w3.org/2001/04/xmlenc#sha512"
)

// signatureElements returns every ds:Signature in document order.
func signatureElements(el *etree.Element) []*etree.Element {
	var found []*etree.Element
	if el.Tag == "Signature" && el.NamespaceURI() == Namespace {
		found = append(found, el)
	}
	for _, child := range el.ChildElements() {
		found = append(found, signatureElements(child)...)
	}
	return found
}

// HasSignature reports whether the document carries a ds:Signature element.
func HasSignature(doc *etree.Document) bool {
	if doc == nil || doc.Root() == nil {
		return false
	}
	return len(signatureElements(doc.Root())) > 0
}

func childElement(parent *etree.Element, tag string) *etree.Element {
	for _, child := range parent.ChildElements() {
		if child.Tag == tag && child.NamespaceURI() == Namespace {
			return child
		}
	}
	return nil
}

func canonicalizerForURI(uri string) (dsig.Canonicalizer, error) {
	switch uri {
	case CanonicalizationC14N11:
		return dsig.MakeC14N11Canonicalizer(), nil
	case CanonicalizationC14N10:
		return dsig.MakeC14N10RecCanonicalizer(), nil
	case CanonicalizationExclusive10:
		return dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList(""), nil
	}
	return nil, fmt.Errorf("%w: unsupported canonicalization method %q", domain.ErrVerification, uri)
}

// ContentDigest is the content identity of a report: the hex hash of the
// document canonicalized with any enveloped signatures excluded. Signed and
// unsigned renditions of the same report share one content digest, which is
// what makes it usable as a dedup key.
func ContentDigest(doc *etree.Document, algorithm string) (string, error) {
	if doc == nil || doc.Root() == nil {
		return "", fmt.Errorf("%w: no root element", domain.ErrMalformedXML)
	}
	h, err := canonical.NewHash(algorithm)
	if err != nil {
		return "", err
	}
	rootCopy := doc.Root().Copy()
	for _, sig := range signatureElements(rootCopy) {
		if parent := sig.Parent(); parent != nil {
			parent.RemoveChild(sig)
		}
	}
	c14n, err := canonicalizerForURI(CanonicalizationC14N11)
	if err != nil {
		return "", err
	}
	out, err := c14n.Canonicalize(rootCopy)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	h.Write(out)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func hashForDigestMethod(uri string) (crypto.Hash, error) {
	switch uri {
	case DigestMethodSHA256:
		return crypto.SHA256, nil
	case DigestMethodSHA384:
		return crypto.SHA384, nil
	case DigestMethodSHA512:
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("%w: unsupported digest method %q", domain.ErrVerification, uri)
}
