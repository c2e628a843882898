package trackings_api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	headerSignature = "X-Carrier-Signature"
	headerTimestamp = "X-Carrier-Timestamp"
)

// verifySignature проверяет hex(HMAC-SHA256(secret, timestamp + "." + body))
// и что timestamp (RFC3339) не дальше skew от текущего времени.
func verifySignature(secret, timestamp, signature string, body []byte, now time.Time, skew time.Duration) error {
	if timestamp == "" || signature == "" {
		return errors.New("missing signature headers")
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return errors.New("invalid signature timestamp")
	}
	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > skew {
		return errors.New("signature timestamp outside allowed window")
	}

	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// Sign считает подпись вебхука; перевозчик (или эмулятор) считает её так же.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
