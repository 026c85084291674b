package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PurposeAttendance is the only purpose accepted by scan-token verification.
const PurposeAttendance = "attendance"

// Claims represents a teacher access-token payload.
type Claims struct {
	Subject  string `json:"sub"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ScanClaims represents the signed identity token a student presents at scan
// time. Purpose scopes the token so an access token cannot double as one.
type ScanClaims struct {
	StudentID string `json:"student_id"`
	TenantID  string `json:"tenant_id"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

// ErrInvalidToken covers expired, forged, and wrong-purpose tokens alike; the
// caller gets no hint which check failed.
var ErrInvalidToken = errors.New("invalid token")

// Issue signs an access token for a teacher.
func Issue(teacherID, tenantID, role, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := Claims{
		Subject:  teacherID,
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   teacherID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a teacher access token and returns its claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}

// IssueScanToken signs an attendance token for a student.
func IssueScanToken(studentID, tenantID, issuer, key string, ttl time.Duration) (string, error) {
	claims := ScanClaims{
		StudentID: studentID,
		TenantID:  tenantID,
		Purpose:   PurposeAttendance,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   studentID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// VerifyScanToken validates a scan token and its purpose.
func VerifyScanToken(tokenStr, key, issuer string) (ScanClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &ScanClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return ScanClaims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*ScanClaims)
	if !ok || !parsed.Valid {
		return ScanClaims{}, ErrInvalidToken
	}
	if issuer != "" && claims.Issuer != issuer {
		return ScanClaims{}, ErrInvalidToken
	}
	if claims.Purpose != PurposeAttendance {
		return ScanClaims{}, ErrInvalidToken
	}
	return *claims, nil
}
