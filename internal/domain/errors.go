package domain

import "errors"

var (
	ErrMalformedXML         = errors.New("malformed xml")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrUnsupportedKeyType   = errors.New("unsupported key type")
	ErrSigning              = errors.New("signing failed")
	ErrVerification         = errors.New("malformed signature")
	ErrNoSignature          = errors.New("no signature found")
	ErrNotFound             = errors.New("not found")
	ErrQueuedNotFound       = errors.New("queued report not found")
	ErrMetadataNotFound     = errors.New("metadata not found")
	ErrCertificateUntrusted = errors.New("certificate untrusted")
)
