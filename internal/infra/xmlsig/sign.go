package xmlsig

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"

	"jux/internal/domain"
)

// Sign appends an enveloped XML signature to the document root and returns
// the mutated document. The signature method is a pure function of the key
// variant: RSA keys sign RSA-SHA256, ECDSA keys sign ECDSA-SHA256. Any other
// key is rejected before the tree is touched.
//
// The reference digest covers the document as it stands when Sign is called,
// canonicalized under C14N 1.1 with the about-to-be-added signature excluded
// by construction. When a certificate is supplied it is embedded in
// ds:KeyInfo so verification needs no out-of-band key lookup.
func Sign(doc *etree.Document, key crypto.Signer, cert *x509.Certificate) (*etree.Document, error) {
	if doc == nil || doc.Root() == nil {
		return nil, fmt.Errorf("%w: no root element", domain.ErrMalformedXML)
	}

	var sigMethod string
	switch key.(type) {
	case *rsa.PrivateKey:
		sigMethod = SignatureMethodRSASHA256
	case *ecdsa.PrivateKey:
		sigMethod = SignatureMethodECDSASHA256
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnsupportedKeyType, key)
	}

	root := doc.Root()
	canonicalizer, err := canonicalizerForURI(CanonicalizationC14N11)
	if err != nil {
		return nil, err
	}
	contentBytes, err := canonicalizer.Canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalize content: %v", domain.ErrSigning, err)
	}
	contentDigest := sha256.Sum256(contentBytes)

	sig := buildSignatureElement(sigMethod, contentDigest[:])
	root.AddChild(sig)

	signedInfo := childElement(sig, "SignedInfo")
	signedInfoBytes, err := canonicalizer.Canonicalize(signedInfo)
	if err != nil {
		root.RemoveChild(sig)
		return nil, fmt.Errorf("%w: canonicalize SignedInfo: %v", domain.ErrSigning, err)
	}

	rawSig, err := signDigest(key, signedInfoBytes)
	if err != nil {
		root.RemoveChild(sig)
		return nil, err
	}

	sigValue := sig.CreateElement(prefix + ":SignatureValue")
	sigValue.SetText(base64.StdEncoding.EncodeToString(rawSig))

	if cert != nil {
		keyInfo := sig.CreateElement(prefix + ":KeyInfo")
		x509Data := keyInfo.CreateElement(prefix + ":X509Data")
		x509Cert := x509Data.CreateElement(prefix + ":X509Certificate")
		x509Cert.SetText(base64.StdEncoding.EncodeToString(cert.Raw))
	}

	return doc, nil
}

func buildSignatureElement(sigMethod string, contentDigest []byte) *etree.Element {
	sig := etree.NewElement(prefix + ":Signature")
	sig.CreateAttr("xmlns:"+prefix, Namespace)

	signedInfo := sig.CreateElement(prefix + ":SignedInfo")
	signedInfo.CreateElement(prefix + ":CanonicalizationMethod").
		CreateAttr("Algorithm", CanonicalizationC14N11)
	signedInfo.CreateElement(prefix + ":SignatureMethod").
		CreateAttr("Algorithm", sigMethod)

	ref := signedInfo.CreateElement(prefix + ":Reference")
	ref.CreateAttr("URI", "")
	transforms := ref.CreateElement(prefix + ":Transforms")
	transforms.CreateElement(prefix + ":Transform").
		CreateAttr("Algorithm", TransformEnvelopedSignature)
	transforms.CreateElement(prefix + ":Transform").
		CreateAttr("Algorithm", CanonicalizationC14N11)
	ref.CreateElement(prefix + ":DigestMethod").
		CreateAttr("Algorithm", DigestMethodSHA256)
	ref.CreateElement(prefix + ":DigestValue").
		SetText(base64.StdEncoding.EncodeToString(contentDigest))

	return sig
}

func signDigest(key crypto.Signer, signedInfo []byte) ([]byte, error) {
	hashed := sha256.Sum256(signedInfo)
	switch k := key.(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(rand.Reader, k, crypto.SHA256, hashed[:])
		if err != nil {
			return nil, fmt.Errorf("%w: rsa sign: %v", domain.ErrSigning, err)
		}
		return sig, nil
	case *ecdsa.PrivateKey:
		r, s, err := ecdsa.Sign(rand.Reader, k, hashed[:])
		if err != nil {
			return nil, fmt.Errorf("%w: ecdsa sign: %v", domain.ErrSigning, err)
		}
		// XML-DSig carries ECDSA signatures as fixed-width r||s, not ASN.1.
		byteLen := (k.Curve.Params().BitSize + 7) / 8
		sig := make([]byte, 2*byteLen)
		r.FillBytes(sig[:byteLen])
		s.FillBytes(sig[byteLen:])
		return sig, nil
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnsupportedKeyType, key)
	}
}
