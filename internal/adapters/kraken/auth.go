package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"strconv"
	"sync"
	"time"
)

// Sign computes the API-Sign header for a private call:
//
//	base64(HMAC-SHA512(secret, path + SHA256(nonce + postData)))
//
// secret is the decoded API secret and postData the url-encoded body,
// nonce included.
func Sign(secret []byte, path, nonce, postData string) string {
	sha := sha256.Sum256([]byte(nonce + postData))

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// nonceSource hands out strictly increasing millisecond nonces, even when
// two calls land in the same millisecond.
type nonceSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newNonceSource(now func() time.Time) *nonceSource {
	return &nonceSource{now: now}
}

func (n *nonceSource) next() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	v := n.now().UnixMilli()
	if v <= n.last {
		v = n.last + 1
	}
	n.last = v
	return strconv.FormatInt(v, 10)
}
