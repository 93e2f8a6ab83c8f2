package sandbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries sandbox webhook signatures.
const SignatureHeader = "X-Sandbox-Signature"

// DefaultTolerance is how far a signature timestamp may drift from now.
const DefaultTolerance = 5 * time.Minute

var (
	errMalformedHeader = errors.New("malformed signature header")
	errStaleTimestamp  = errors.New("signature timestamp outside tolerance")
	errMismatch        = errors.New("signature mismatch")
)

// Sign computes HMAC-SHA256 of "<timestamp>.<payload>" using secret.
// Returns lowercase hex.
func Sign(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue builds the "t=<unix>,v1=<hex>" header for payload.
func SignatureHeaderValue(secret string, at time.Time, payload []byte) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, Sign(secret, ts, payload))
}

// VerifySignature checks header against payload. Comparison is constant time.
func VerifySignature(secret string, payload []byte, header string, now time.Time, tolerance time.Duration) error {
	var (
		ts   int64
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return errMalformedHeader
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errMalformedHeader
			}
			ts = parsed
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return errMalformedHeader
	}

	if tolerance > 0 {
		drift := now.Sub(time.Unix(ts, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > tolerance {
			return errStaleTimestamp
		}
	}

	expected := []byte(Sign(secret, ts, payload))
	for _, sig := range sigs {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return errMismatch
}
