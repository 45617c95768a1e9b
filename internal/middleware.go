package internal

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	cookieName  = "promo_admin"
	tokenIssuer = "promo-backend"
)

type claims struct {
	AdminID int    `json:"uid"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// bearerOrCookie prefers the session cookie and falls back to an
// Authorization: Bearer header for non-browser clients.
func bearerOrCookie(c *gin.Context) string {
	if tok, err := c.Cookie(cookieName); err == nil && tok != "" {
		return tok
	}
	h := c.GetHeader("Authorization")
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}

func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerOrCookie(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authorized"})
			return
		}

		tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(token *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
		)
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad token"})
			return
		}

		cl, ok := tok.Claims.(*claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad claims"})
			return
		}

		c.Set("uid", cl.AdminID)
		c.Set("role", cl.Role)
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get("role")
		if role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

// uid returns the authenticated admin id, or nil outside the admin group.
func uid(c *gin.Context) *int {
	v, ok := c.Get("uid")
	if !ok {
		return nil
	}
	id, ok := v.(int)
	if !ok {
		return nil
	}
	return &id
}
