// Package credential mints short-lived service tokens the billing-period
// monitor issues for itself before binding a tenant context, as HS256
// claims-based JWTs.
package credential

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/ridgeline/meterbill/internal/config"
	ierr "github.com/ridgeline/meterbill/internal/errors"
)

const (
	subjectMeteringService = "metering-service"
	credentialType         = "service"
)

// Claims is the decoded shape of a minted service credential.
type Claims struct {
	Subject   string
	TenantID  string
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer mints and validates the service credential the monitor presents
// to its upstream collaborators on behalf of a tenant it is about to process.
type Issuer interface {
	Issue(tenantID string) (string, error)
	Validate(token string) (*Claims, error)
}

type issuer struct {
	secret string
	issuer string
	ttl    time.Duration
}

func NewIssuer(cfg config.CredentialConfig) Issuer {
	return &issuer{secret: cfg.Secret, issuer: cfg.Issuer, ttl: cfg.TTL}
}

// Issue mints an HS256 token scoped to tenantID, valid for the
// configured TTL (cfg.TTL; NewConfig supplies no default for it).
func (i *issuer) Issue(tenantID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":       subjectMeteringService,
		"tenant_id": tenantID,
		"type":      credentialType,
		"iss":       i.issuer,
		"iat":       now.Unix(),
		"exp":       now.Add(i.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.secret))
	if err != nil {
		return "", ierr.WithError(err).WithHint("failed to sign service credential").Mark(ierr.ErrStorageError)
	}
	return signed, nil
}

func (i *issuer) Validate(token string) (*Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(i.secret), nil
	})
	if err != nil {
		return nil, ierr.WithError(err).WithHint("invalid service credential").Mark(ierr.ErrUnauthenticated)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ierr.NewError("invalid service credential claims").Mark(ierr.ErrUnauthenticated)
	}

	tenantID, _ := claims["tenant_id"].(string)
	if tenantID == "" {
		return nil, ierr.NewError("service credential missing tenant_id").Mark(ierr.ErrUnauthenticated)
	}
	typ, _ := claims["type"].(string)

	var iat, exp time.Time
	if v, ok := claims["iat"].(float64); ok {
		iat = time.Unix(int64(v), 0)
	}
	if v, ok := claims["exp"].(float64); ok {
		exp = time.Unix(int64(v), 0)
	}

	return &Claims{
		Subject:   subjectMeteringService,
		TenantID:  tenantID,
		Type:      typ,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}
