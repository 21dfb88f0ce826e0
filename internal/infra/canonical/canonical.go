// Package canonical turns JUnit XML reports into a deterministic byte form
// and derives content digests from it. Canonicalization is delegated to the
// W3C-compliant routines in goxmldsig; digests are computed over canonical
// bytes only, never raw input.
package canonical

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"jux/internal/domain"
)

const DefaultDigestAlgorithm = "sha256"

// Load parses an XML report from a file path, raw text, raw bytes, or an
// io.Reader. Path resolution errors keep os.ErrNotExist in the chain;
// anything unparseable maps to domain.ErrMalformedXML.
func Load(source any) (*etree.Document, error) {
	doc := etree.NewDocument()
	switch src := source.(type) {
	case string:
		if strings.ContainsRune(strings.TrimSpace(src), '<') {
			if err := doc.ReadFromString(src); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrMalformedXML, err)
			}
		} else if err := doc.ReadFromFile(src); err != nil {
			if strings.Contains(err.Error(), "XML syntax error") {
				return nil, fmt.Errorf("%w: %v", domain.ErrMalformedXML, err)
			}
			return nil, fmt.Errorf("read report %s: %w", src, err)
		}
	case []byte:
		if err := doc.ReadFromBytes(src); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedXML, err)
		}
	case io.Reader:
		if _, err := doc.ReadFrom(src); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedXML, err)
		}
	case *etree.Document:
		return src, nil
	default:
		return nil, fmt.Errorf("%w: cannot load %T as XML", domain.ErrMalformedXML, source)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: no root element", domain.ErrMalformedXML)
	}
	return doc, nil
}

// Canonicalize serializes the document deterministically. Inclusive mode is
// Canonical XML 1.1; exclusive mode is Exclusive C14N 1.0. Comments are
// stripped unless withComments is set.
func Canonicalize(doc *etree.Document, exclusive, withComments bool) ([]byte, error) {
	if doc == nil || doc.Root() == nil {
		return nil, fmt.Errorf("%w: no root element", domain.ErrMalformedXML)
	}
	out, err := canonicalizer(exclusive, withComments).Canonicalize(doc.Root())
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Digest canonicalizes the document (inclusive, comments stripped) and
// returns the lowercase hex hash of the canonical bytes.
func Digest(doc *etree.Document, algorithm string) (string, error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return "", err
	}
	canonical, err := Canonicalize(doc, false, false)
	if err != nil {
		return "", err
	}
	h.Write(canonical)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// NewHash maps a digest algorithm name to a hash instance. Accepts
// sha256/sha384/sha512, case-insensitive, with or without a dash.
func NewHash(algorithm string) (hash.Hash, error) {
	if algorithm == "" {
		algorithm = DefaultDigestAlgorithm
	}
	switch strings.ToLower(strings.ReplaceAll(algorithm, "-", "")) {
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedAlgorithm, algorithm)
}

func canonicalizer(exclusive, withComments bool) dsig.Canonicalizer {
	switch {
	case exclusive && withComments:
		return dsig.MakeC14N10ExclusiveWithCommentsCanonicalizerWithPrefixList("")
	case exclusive:
		return dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	case withComments:
		return dsig.MakeC14N11WithCommentsCanonicalizer()
	default:
		return dsig.MakeC14N11Canonicalizer()
	}
}
