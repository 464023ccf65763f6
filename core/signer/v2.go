package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"strings"
	"time"

	"github.com/rslifka/elasticity-sub000/core/canonical"
)

const (
	// SignatureMethodV2 is the HMAC used by the query-string scheme.
	SignatureMethodV2 = "HmacSHA256"
	// SignatureVersionV2 is sent as the SignatureVersion control parameter.
	SignatureVersionV2 = "2"

	requestPath = "/"
)

// V2Signer signs flat parameter mappings with the query-string scheme.
type V2Signer struct {
	Credentials Credentials
	Host        string
	// Method is the HTTP method folded into the string to sign. Defaults to POST.
	Method string
}

// NewV2Signer returns a signer for POST requests to host.
func NewV2Signer(creds Credentials, host string) *V2Signer {
	return &V2Signer{Credentials: creds, Host: host, Method: "POST"}
}

// Payload injects the control parameters into a copy of params and returns
// the canonical query string followed by its signature. params is not
// modified.
func (s *V2Signer) Payload(params map[string]string, now time.Time) string {
	signed := make(map[string]string, len(params)+5)
	for k, v := range params {
		signed[k] = v
	}
	signed["AWSAccessKeyId"] = s.Credentials.AccessKeyID()
	signed["Timestamp"] = V2Timestamp(now)
	signed["SignatureVersion"] = SignatureVersionV2
	signed["SignatureMethod"] = SignatureMethodV2
	if token := s.Credentials.SessionToken(); token != "" {
		signed["SecurityToken"] = token
	}

	canonicalString := CanonicalQueryString(signed)
	return canonicalString + "&Signature=" + canonical.Escape(s.sign(canonicalString))
}

func (s *V2Signer) sign(canonicalString string) string {
	method := s.Method
	if method == "" {
		method = "POST"
	}
	toSign := method + "\n" + strings.ToLower(s.Host) + "\n" + requestPath + "\n" + canonicalString

	mac := hmac.New(sha256.New, s.Credentials.secret())
	mac.Write([]byte(toSign))
	return strings.TrimSpace(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// CanonicalQueryString joins escaped key=value pairs with '&' in ascending
// key order.
func CanonicalQueryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = canonical.Escape(k) + "=" + canonical.Escape(params[k])
	}
	return strings.Join(pairs, "&")
}

// V2Timestamp formats t as YYYY-MM-DDThh:mm:ss.000Z in UTC.
func V2Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05") + ".000Z"
}
