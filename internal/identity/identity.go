// Package identity issues the short-lived AWS credentials the backend hands
// to clients for direct uploads. The exchange is the unauthenticated Cognito
// identity-pool flow the mobile apps use: get an identity id from the shared
// pool, then trade it for scoped keys.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	smithymiddleware "github.com/aws/smithy-go/middleware"
)

const (
	// DefaultPoolID is the public identity pool the consumer apps draw upload
	// credentials from.
	DefaultPoolID = "us-east-1:b92826c0-8274-43db-abff-136977c13598"

	// DefaultRegion hosts the pool, the upload bucket, and the event queues.
	DefaultRegion = "us-east-1"

	// androidUserAgent matches the vendor's Android build. The pool has been
	// seen rejecting unfamiliar agents, so requests advertise this one.
	androidUserAgent = "aws-sdk-android/2.13.1 Linux/5.4.61-android11 Dalvik/2.1.0/0 en_US"
)

// ErrCredentialExpired marks failures caused by a ticket aging out. Callers
// test for it with errors.Is to decide whether a re-issue is worth trying.
var ErrCredentialExpired = errors.New("identity: credentials expired")

// CredentialError wraps failures in the issuing flow itself.
type CredentialError struct {
	Op  string
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("identity: %s: %v", e.Op, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Ticket is one set of issued credentials. Tickets are immutable; when one
// expires the Provider issues a fresh one rather than refreshing in place.
type Ticket struct {
	IdentityID   string
	AccessKeyID  string
	SecretKey    string
	SessionToken string
	Expires      time.Time
}

// Expired reports whether the ticket is past its expiry. Tickets without an
// expiry never expire here; the backend decides when to stop honoring them.
func (t Ticket) Expired(now time.Time) bool {
	return !t.Expires.IsZero() && !now.Before(t.Expires)
}

// ExpiresWithin reports whether the ticket will be expired d from now. Used
// as a pre-flight check so an upload does not start on credentials that will
// die under it.
func (t Ticket) ExpiresWithin(now time.Time, d time.Duration) bool {
	return t.Expired(now.Add(d))
}

// CognitoAPI is the subset of the Cognito Identity API the provider calls.
type CognitoAPI interface {
	GetId(ctx context.Context, params *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error)
	GetCredentialsForIdentity(ctx context.Context, params *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error)
}

var _ CognitoAPI = (*cognitoidentity.Client)(nil)

// Provider issues tickets from one identity pool.
type Provider struct {
	api    CognitoAPI
	poolID string
	region string
	logger *slog.Logger
}

// Option mutates provider configuration.
type Option func(*Provider)

// WithPoolID overrides the identity pool.
func WithPoolID(poolID string) Option {
	return func(p *Provider) {
		if poolID != "" {
			p.poolID = poolID
		}
	}
}

// WithRegion overrides the pool region.
func WithRegion(region string) Option {
	return func(p *Provider) {
		if region != "" {
			p.region = region
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAPI swaps the Cognito client, mainly for tests.
func WithAPI(api CognitoAPI) Option {
	return func(p *Provider) {
		p.api = api
	}
}

// NewProvider builds a provider. Unless WithAPI is given, a real Cognito
// client is constructed with anonymous credentials; the identity-pool calls
// are the unsigned kind, there is nothing to sign them with yet.
func NewProvider(ctx context.Context, opts ...Option) (*Provider, error) {
	p := &Provider{
		poolID: DefaultPoolID,
		region: DefaultRegion,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.api == nil {
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion(p.region),
			config.WithCredentialsProvider(aws.AnonymousCredentials{}),
			config.WithAPIOptions([]func(*smithymiddleware.Stack) error{
				awsmiddleware.AddUserAgentKey(androidUserAgent),
			}),
		)
		if err != nil {
			return nil, &CredentialError{Op: "load aws config", Err: err}
		}
		p.api = cognitoidentity.NewFromConfig(cfg)
	}
	return p, nil
}

// Issue obtains a fresh ticket from the pool.
func (p *Provider) Issue(ctx context.Context) (Ticket, error) {
	idResp, err := p.api.GetId(ctx, &cognitoidentity.GetIdInput{
		IdentityPoolId: aws.String(p.poolID),
	})
	if err != nil {
		return Ticket{}, &CredentialError{Op: "get identity", Err: err}
	}
	if idResp == nil || aws.ToString(idResp.IdentityId) == "" {
		return Ticket{}, &CredentialError{Op: "get identity", Err: errors.New("empty identity id")}
	}

	credResp, err := p.api.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: idResp.IdentityId,
	})
	if err != nil {
		return Ticket{}, &CredentialError{Op: "get credentials", Err: err}
	}
	if credResp == nil || credResp.Credentials == nil {
		return Ticket{}, &CredentialError{Op: "get credentials", Err: errors.New("empty credential set")}
	}
	creds := credResp.Credentials
	ticket := Ticket{
		IdentityID:   aws.ToString(idResp.IdentityId),
		AccessKeyID:  aws.ToString(creds.AccessKeyId),
		SecretKey:    aws.ToString(creds.SecretKey),
		SessionToken: aws.ToString(creds.SessionToken),
	}
	if ticket.AccessKeyID == "" || ticket.SecretKey == "" {
		return Ticket{}, &CredentialError{Op: "get credentials", Err: errors.New("incomplete credential set")}
	}
	if creds.Expiration != nil {
		ticket.Expires = creds.Expiration.UTC()
	}
	p.logger.Debug("issued upload credentials",
		"identity_id", ticket.IdentityID,
		"expires", ticket.Expires)
	return ticket, nil
}
