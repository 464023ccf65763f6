package signer

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessKey = "aws_access_key_id"
	testSecretKey = "aws_secret_access_key"
	testHost      = "elasticmapreduce.us-east-1.amazonaws.com"
)

func testCredentials() Credentials {
	return NewCredentials(testAccessKey, testSecretKey, "")
}

func TestResolveCredentials(t *testing.T) {
	t.Run("explicit keys win over the environment", func(t *testing.T) {
		t.Setenv(EnvAccessKeyID, "ENV_ACCESS")
		t.Setenv(EnvSecretAccessKey, "ENV_SECRET")

		creds, err := ResolveCredentials("ACCESS", "SECRET")
		require.NoError(t, err)
		assert.Equal(t, "ACCESS", creds.AccessKeyID())
		assert.Equal(t, "SECRET", creds.ToAWS().SecretAccessKey)
	})

	t.Run("falls back to the environment", func(t *testing.T) {
		t.Setenv(EnvAccessKeyID, "ENV_ACCESS")
		t.Setenv(EnvSecretAccessKey, "ENV_SECRET")
		t.Setenv(EnvSessionToken, "TOKEN")

		creds, err := ResolveCredentials("", "")
		require.NoError(t, err)
		assert.Equal(t, "ENV_ACCESS", creds.AccessKeyID())
		assert.Equal(t, "TOKEN", creds.SessionToken())
	})

	t.Run("missing access key", func(t *testing.T) {
		t.Setenv(EnvAccessKeyID, "")
		t.Setenv(EnvSecretAccessKey, "ENV_SECRET")

		_, err := ResolveCredentials("", "")
		assert.ErrorIs(t, err, ErrMissingAccessKey)
	})

	t.Run("missing secret key", func(t *testing.T) {
		t.Setenv(EnvAccessKeyID, "ENV_ACCESS")
		t.Setenv(EnvSecretAccessKey, "")

		_, err := ResolveCredentials("", "")
		assert.ErrorIs(t, err, ErrMissingSecretKey)
	})
}

func TestV2Signer_Payload(t *testing.T) {
	fixed := time.Unix(1302461096, 0)

	t.Run("GET against example.com", func(t *testing.T) {
		s := &V2Signer{Credentials: testCredentials(), Host: "example.com", Method: "GET"}

		assert.Equal(t,
			"AWSAccessKeyId=aws_access_key_id&SignatureMethod=HmacSHA256&SignatureVersion=2&Timestamp=2011-04-10T18%3A44%3A56.000Z&Signature=jVLfPS056dNmjpCcikBnPmRHJNZ8YGaI7zdmHWUk658%3D",
			s.Payload(map[string]string{}, fixed))
	})

	t.Run("POST against the regional endpoint", func(t *testing.T) {
		s := NewV2Signer(testCredentials(), testHost)

		assert.Equal(t,
			"AWSAccessKeyId=aws_access_key_id&SignatureMethod=HmacSHA256&SignatureVersion=2&Timestamp=2011-04-10T18%3A44%3A56.000Z&Signature=sN2My2HUHsHXCLce5523OV2Cz2%2Fe1SU6JF0R5KwXOCE%3D",
			s.Payload(map[string]string{}, fixed))
	})

	t.Run("does not modify the input mapping", func(t *testing.T) {
		params := map[string]string{"Operation": "RunJobFlow"}
		NewV2Signer(testCredentials(), testHost).Payload(params, fixed)

		assert.Equal(t, map[string]string{"Operation": "RunJobFlow"}, params)
	})

	t.Run("is deterministic", func(t *testing.T) {
		s := NewV2Signer(testCredentials(), testHost)
		params := map[string]string{"Name": "a b", "Steps.member.1.Name": "x"}

		assert.Equal(t, s.Payload(params, fixed), s.Payload(params, fixed))
	})

	t.Run("host case does not matter", func(t *testing.T) {
		lower := NewV2Signer(testCredentials(), testHost).Payload(nil, fixed)
		upper := NewV2Signer(testCredentials(), strings.ToUpper(testHost)).Payload(nil, fixed)

		assert.Equal(t, lower, upper)
	})
}

func TestCanonicalQueryString_SortsByKey(t *testing.T) {
	got := CanonicalQueryString(map[string]string{
		"b":   "2",
		"a":   "1 1",
		"A.c": "x/y",
	})

	assert.Equal(t, "A.c=x%2Fy&a=1%201&b=2", got)
}

func TestV4Request(t *testing.T) {
	ts := time.Date(2015, 3, 14, 9, 26, 53, 0, time.UTC)
	r := NewV4Request(testCredentials(), "us-east-1", testHost, []byte(`{"Name":"Elasticity Job Flow"}`), ts)

	t.Run("canonical request", func(t *testing.T) {
		assert.Equal(t, strings.Join([]string{
			"POST",
			"/",
			"",
			"content-type:application/x-www-form-urlencoded; charset=utf8",
			"host:elasticmapreduce.us-east-1.amazonaws.com",
			"",
			"content-type;host",
			"5f33becd421c8ba1c7980b9982a70a32ba469ba583f3e75f2844af33abe25621",
		}, "\n"), r.CanonicalRequest())
		assert.Equal(t, "68825558ae545a9c10d3f7fa1ff991d869dda71193c1fee43c6f28c28240e8fa",
			hexSHA256([]byte(r.CanonicalRequest())))
	})

	t.Run("string to sign", func(t *testing.T) {
		assert.Equal(t,
			"AWS4-HMAC-SHA256\n20150314T092653Z\n20150314/us-east-1/elasticmapreduce/aws4_request\n68825558ae545a9c10d3f7fa1ff991d869dda71193c1fee43c6f28c28240e8fa",
			r.StringToSign())
	})

	t.Run("signing key and signature", func(t *testing.T) {
		assert.Equal(t, "0f13d47567724d8463690303e5799484e94399422e7522a0431e590f510cfea9", hex.EncodeToString(r.SigningKey()))
		assert.Equal(t, "34b8f3934e2d4f2fdd285963723da4789a6d3dee9a00d6f823e65f29aba4a84a", r.Signature())
	})

	t.Run("identical inputs give identical signatures", func(t *testing.T) {
		again := NewV4Request(testCredentials(), "us-east-1", testHost, []byte(`{"Name":"Elasticity Job Flow"}`), ts.In(time.FixedZone("x", 3600)))
		assert.Equal(t, r.Signature(), again.Signature())
		assert.Equal(t, r.StringToSign(), again.StringToSign())
	})

	t.Run("headers", func(t *testing.T) {
		h := r.Headers()
		assert.Equal(t,
			"AWS4-HMAC-SHA256 Credential=aws_access_key_id/20150314/us-east-1/elasticmapreduce/aws4_request, SignedHeaders=content-type;host, Signature=34b8f3934e2d4f2fdd285963723da4789a6d3dee9a00d6f823e65f29aba4a84a",
			h.Get("Authorization"))
		assert.Equal(t, ContentTypeV4, h.Get("Content-Type"))
		assert.Equal(t, "20150314T092653Z", h.Get("X-Amz-Date"))
		assert.Empty(t, h.Get("X-Amz-Security-Token"))
	})

	t.Run("session token header", func(t *testing.T) {
		withToken := NewV4Request(NewCredentials(testAccessKey, testSecretKey, "TOKEN"), "us-east-1", testHost, nil, ts)
		assert.Equal(t, "TOKEN", withToken.Headers().Get("X-Amz-Security-Token"))
	})
}
