// Package secret resolves deployment secrets (session secret, OAuth client
// secret, admin password) from SSM Parameter Store, KMS-encrypted environment
// values or plain environment variables.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrNotFound is returned when a secret has no value in the backend.
var ErrNotFound = errors.New("secret not found")

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Decrypter opens values produced by an envelope service such as KMS.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// Resolver retrieves secret values by name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches secrets from AWS Systems Manager Parameter Store.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) Resolver {
	return &SSMResolver{client: client}
}

// GetSecret retrieves a SecureString parameter from SSM with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", fmt.Errorf("ssm parameter %q: %w", name, ErrNotFound)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver fetches secrets from environment variables.
// "/photoframe/session-secret" is read from SESSION_SECRET.
type EnvResolver struct{}

// NewEnvResolver returns a Resolver that reads from environment variables.
func NewEnvResolver() Resolver {
	return &EnvResolver{}
}

// GetSecret reads from the environment variable derived from the parameter name.
func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val := os.Getenv(envName)
	if val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q): %w", envName, name, ErrNotFound)
	}
	return val, nil
}

// KMSResolver reads a base64 KMS ciphertext from another resolver and decrypts it.
type KMSResolver struct {
	source    Resolver
	decrypter Decrypter
}

// NewKMSResolver wraps source so every value it returns is KMS-decrypted.
func NewKMSResolver(source Resolver, decrypter Decrypter) Resolver {
	return &KMSResolver{source: source, decrypter: decrypter}
}

// GetSecret resolves the ciphertext for name and returns its plaintext.
func (r *KMSResolver) GetSecret(ctx context.Context, name string) (string, error) {
	ciphertext, err := r.source.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	plaintext, err := r.decrypter.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt secret %q: %w", name, err)
	}
	return plaintext, nil
}

// paramNameToEnvVar converts an SSM parameter name to an environment variable name.
// "/photoframe/session-secret" -> "SESSION_SECRET"
// "/photoframe/google-client-secret" -> "GOOGLE_CLIENT_SECRET"
func paramNameToEnvVar(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}
