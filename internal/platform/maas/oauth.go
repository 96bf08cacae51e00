package maas

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Credentials is the consumer-key / token-key / token-secret triplet the
// backend issues for API access.
type Credentials struct {
	ConsumerKey string
	TokenKey    string
	TokenSecret string
}

// ParseAPIKey splits the backend's colon-joined API key form
// "consumer:token:secret" into Credentials.
func ParseAPIKey(key string) (Credentials, error) {
	parts := strings.Split(strings.TrimSpace(key), ":")
	if len(parts) != 3 {
		return Credentials{}, fmt.Errorf("api key must have 3 colon-separated parts, got %d", len(parts))
	}
	return Credentials{ConsumerKey: parts[0], TokenKey: parts[1], TokenSecret: parts[2]}, nil
}

// authorizationHeader builds an OAuth1 PLAINTEXT Authorization header.
// PLAINTEXT signatures carry no request data: the signature is just the
// consumer secret (empty for this backend) joined with the token secret,
// so no signature base string is computed.
func authorizationHeader(creds Credentials, now time.Time) string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)

	params := []struct{ k, v string }{
		{"oauth_version", "1.0"},
		{"oauth_signature_method", "PLAINTEXT"},
		{"oauth_consumer_key", creds.ConsumerKey},
		{"oauth_token", creds.TokenKey},
		{"oauth_signature", "&" + url.QueryEscape(creds.TokenSecret)},
		{"oauth_nonce", hex.EncodeToString(nonce)},
		{"oauth_timestamp", fmt.Sprintf("%d", now.Unix())},
	}

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%q", p.k, p.v)
	}
	return b.String()
}
