package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// VerifyHMAC checks an HMAC-SHA256 signature over the raw body using the shared secret.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, b)
}

// SignHMAC returns lowercase hex of HMAC-SHA256 for use in headers
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("%x", mac.Sum(nil))
}

// SignTimestamped signs "<unix>.<body>" so receivers can reject replays.
func SignTimestamped(secret string, ts time.Time, body []byte) string {
	return SignHMAC(secret, timestamped(ts.Unix(), body))
}

// VerifyTimestamped checks a SignTimestamped signature and that the
// timestamp header is within tolerance of now.
func VerifyTimestamped(secret string, body []byte, tsHeader, provided string, now time.Time, tolerance time.Duration) bool {
	unix, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return false
	}
	return VerifyHMAC(secret, timestamped(unix, body), provided)
}

func timestamped(unix int64, body []byte) []byte {
	b := strconv.AppendInt(nil, unix, 10)
	b = append(b, '.')
	return append(b, body...)
}
