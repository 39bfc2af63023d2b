package core

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// DenialKind classifies why the upstream refused a request
type DenialKind int

const (
	DenialNone DenialKind = iota
	DenialTokenInvalid
	DenialChallengeBlock
	DenialRateLimited
	DenialOther
)

func (k DenialKind) String() string {
	switch k {
	case DenialNone:
		return "none"
	case DenialTokenInvalid:
		return "token_invalid"
	case DenialChallengeBlock:
		return "challenge_block"
	case DenialRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// StatusCode is the status the token pool books the denial under. The upstream
// reuses 403 for token problems, so token-invalid denials are booked as 401.
func (k DenialKind) StatusCode(original int) int {
	switch k {
	case DenialTokenInvalid:
		return http.StatusUnauthorized
	case DenialChallengeBlock:
		return http.StatusForbidden
	case DenialRateLimited:
		return http.StatusTooManyRequests
	default:
		return original
	}
}

// Reason is the human-readable failure reason stored on the token record
func (k DenialKind) Reason() string {
	switch k {
	case DenialTokenInvalid:
		return "token blocked/invalid"
	case DenialChallengeBlock:
		return "egress blocked by upstream challenge"
	case DenialRateLimited:
		return "quota exhausted"
	default:
		return "upstream error"
	}
}

var tokenFailureVocabulary = []string{"blocked", "invalid", "expired"}

var challengeMarkers = []string{"challenge-platform", "cf-challenge", "cf_chl_", "just a moment"}

// ClassifyDenial decides what a non-success upstream response means.
// A 403 with a JSON body naming a token failure is a token problem; any other 403
// (challenge markup, unparsable or unrelated JSON) is a challenge block.
func ClassifyDenial(status int, body []byte) DenialKind {
	switch {
	case status >= 200 && status < 300:
		return DenialNone
	case status == http.StatusUnauthorized:
		return DenialTokenInvalid
	case status == http.StatusTooManyRequests:
		return DenialRateLimited
	case status != http.StatusForbidden:
		return DenialOther
	}

	trimmed := bytes.TrimSpace(body)
	var structured any
	if len(trimmed) > 0 && json.Unmarshal(trimmed, &structured) == nil {
		text := strings.ToLower(string(trimmed))
		for _, word := range tokenFailureVocabulary {
			if strings.Contains(text, word) {
				return DenialTokenInvalid
			}
		}
	}
	return DenialChallengeBlock
}

// LooksLikeChallenge reports whether a page body carries challenge interstitial markers
func LooksLikeChallenge(body []byte) bool {
	text := strings.ToLower(string(body))
	for _, marker := range challengeMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// IsTLSFailure reports whether a transport error came from the TLS layer, which
// usually means the current egress node is being interfered with.
func IsTLSFailure(err error) bool {
	if err == nil {
		return false
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "TLS") || strings.Contains(msg, "SSL")
}
