package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nurpe/sealed-bids/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the access token payload issued by the identity service.
type Claims struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Parser struct {
	secret []byte
}

func NewParser(secret string) *Parser {
	return &Parser{secret: []byte(secret)}
}

func (p *Parser) Parse(tokenStr string) (model.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject := claims.UserID
	if subject == "" {
		subject = claims.Subject
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: bad user id", ErrInvalidToken)
	}

	var orgID uuid.UUID
	if claims.OrgID != "" {
		orgID, err = uuid.Parse(claims.OrgID)
		if err != nil {
			return model.Principal{}, fmt.Errorf("%w: bad org id", ErrInvalidToken)
		}
	}

	role, err := parseRole(claims.Role)
	if err != nil {
		return model.Principal{}, err
	}

	return model.Principal{UserID: userID, OrgID: orgID, Role: role}, nil
}

func parseRole(raw string) (model.UserRole, error) {
	role := model.UserRole(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case model.UserRoleSupplier, model.UserRoleOfficer, model.UserRoleCommittee, model.UserRoleAuditor, model.UserRoleAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, raw)
	}
}
