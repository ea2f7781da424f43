package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// BodyHashParam is the query parameter carrying the hex SHA-256 of a signed JSON body.
const BodyHashParam = "bodySHA256"

// ComputeSignature returns Twilio's signature for a form POST: HMAC-SHA1 keyed with the auth
// token over the full URL followed by every POST parameter name and value, sorted by name,
// base64 encoded.
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	var b strings.Builder
	b.WriteString(fullURL)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether signature matches the request in constant time.
func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	want := ComputeSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(want), []byte(signature))
}

// BodyHash returns the value expected in BodyHashParam for body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ValidBodySignature checks a non-form (JSON) request: fullURL must carry BodyHashParam
// matching body, and the signature covers the URL alone.
func ValidBodySignature(authToken, fullURL string, body []byte, signature string) bool {
	u, err := url.Parse(fullURL)
	if err != nil {
		return false
	}
	got := u.Query().Get(BodyHashParam)
	if got == "" || !hmac.Equal([]byte(got), []byte(BodyHash(body))) {
		return false
	}
	return ValidSignature(authToken, fullURL, nil, signature)
}
