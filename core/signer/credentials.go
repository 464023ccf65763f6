// Package signer produces request signatures for the EMR control plane.
// It supports the legacy query-string scheme (V2) and the canonical-request
// scheme with a derived signing key (V4). Everything here is a pure function
// of its inputs; callers read the clock once per request.
package signer

import (
	"errors"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Environment variables consulted when a key is not given explicitly.
const (
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
)

var (
	// ErrMissingAccessKey is returned when no access key was provided and
	// AWS_ACCESS_KEY_ID is unset.
	ErrMissingAccessKey = errors.New("please provide an access key or set " + EnvAccessKeyID)
	// ErrMissingSecretKey is returned when no secret key was provided and
	// AWS_SECRET_ACCESS_KEY is unset.
	ErrMissingSecretKey = errors.New("please provide a secret key or set " + EnvSecretAccessKey)
)

// Credentials is an immutable access key pair with an optional session token.
type Credentials struct {
	accessKeyID  string
	secretKey    []byte
	sessionToken string
}

// NewCredentials builds credentials from explicit values.
func NewCredentials(accessKeyID, secretAccessKey, sessionToken string) Credentials {
	return Credentials{
		accessKeyID:  accessKeyID,
		secretKey:    []byte(secretAccessKey),
		sessionToken: sessionToken,
	}
}

// ResolveCredentials uses the explicit keys when given and falls back to
// the well-known environment variables otherwise.
func ResolveCredentials(accessKeyID, secretAccessKey string) (Credentials, error) {
	if accessKeyID == "" {
		accessKeyID = os.Getenv(EnvAccessKeyID)
	}
	if accessKeyID == "" {
		return Credentials{}, ErrMissingAccessKey
	}
	if secretAccessKey == "" {
		secretAccessKey = os.Getenv(EnvSecretAccessKey)
	}
	if secretAccessKey == "" {
		return Credentials{}, ErrMissingSecretKey
	}
	return NewCredentials(accessKeyID, secretAccessKey, os.Getenv(EnvSessionToken)), nil
}

// AccessKeyID returns the access key identifier.
func (c Credentials) AccessKeyID() string {
	return c.accessKeyID
}

// SessionToken returns the session token, if any.
func (c Credentials) SessionToken() string {
	return c.sessionToken
}

func (c Credentials) secret() []byte {
	return c.secretKey
}

// ToAWS converts the credentials for use with aws-sdk-go-v2 service clients.
func (c Credentials) ToAWS() aws.Credentials {
	return aws.Credentials{
		AccessKeyID:     c.accessKeyID,
		SecretAccessKey: string(c.secretKey),
		SessionToken:    c.sessionToken,
		Source:          "elasticity",
	}
}

// Provider wraps the credentials in a static aws-sdk-go-v2 provider.
func (c Credentials) Provider() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(c.accessKeyID, string(c.secretKey), c.sessionToken)
}
