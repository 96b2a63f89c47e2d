package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"govqueue/internal/platform/middleware"
	"govqueue/pkg/domain"
	derrors "govqueue/pkg/domain-errors"
)

// Claims represents the JWT claims for queue access tokens. The subject is
// the caller's id; officers additionally carry their assigned office.
type Claims struct {
	Role     string `json:"role"`
	OfficeID string `json:"office_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles JWT creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateToken issues a signed token for a caller. OfficeID is only
// meaningful for officers and may be empty otherwise.
func (s *JWTService) GenerateToken(
	callerID uuid.UUID,
	role domain.Role,
	officeID domain.OfficeID,
	expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:     string(role),
		OfficeID: string(officeID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   callerID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// ValidateToken checks signature and expiry and maps the claims onto the
// middleware's caller identity.
func (s *JWTService) ValidateToken(tokenString string) (*middleware.CallerClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, derrors.New(derrors.CodeUnauthorized, "token has expired")
		}
		return nil, derrors.New(derrors.CodeUnauthorized, "invalid token")
	}

	if !parsed.Valid {
		return nil, derrors.New(derrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, derrors.New(derrors.CodeUnauthorized, "invalid token claims")
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return nil, derrors.New(derrors.CodeUnauthorized, "invalid token claims")
	}

	return &middleware.CallerClaims{
		CallerID: claims.Subject,
		Role:     role,
		OfficeID: domain.OfficeID(claims.OfficeID),
	}, nil
}
