package internal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

// CreateAdmin stores a new admin account with a bcrypt hash of password.
func CreateAdmin(ctx context.Context, db DB, username, password string) (int, error) {
	if username == "" || password == "" {
		return 0, errors.New("username and password are required")
	}
	if len(password) < 8 {
		return 0, errors.New("password too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	var id int
	err = qRow(ctx, db, psql.Insert("admins").
		Columns("username", "pass_hash").
		Values(username, string(hash)).
		Suffix("RETURNING id"),
	).Scan(&id)
	return id, err
}

func signToken(secret string, a Admin, now time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		AdminID: a.ID,
		Role:    a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	})
	return tok.SignedString([]byte(secret))
}

func Login(db DB, secret string, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "bad json"})
			return
		}

		ctx := c.Request.Context()
		a := Admin{Role: "admin"}
		var passHash string
		err := qRow(ctx, db, psql.Select("id", "username", "pass_hash").
			From("admins").
			Where("username = ?", req.Username),
		).Scan(&a.ID, &a.Username, &passHash)
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(401, gin.H{"error": "invalid credentials"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "db"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(passHash), []byte(req.Password)) != nil {
			c.JSON(401, gin.H{"error": "invalid credentials"})
			return
		}

		s, err := signToken(secret, a, time.Now())
		if err != nil {
			c.JSON(500, gin.H{"error": "token"})
			return
		}
		c.SetCookie(cookieName, s, int(tokenTTL.Seconds()), "/", "", secure, true)

		logAction(ctx, db, &a.ID, "login", "success")
		c.JSON(200, gin.H{"ok": true, "admin": a})
	}
}

func Logout(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetCookie(cookieName, "", -1, "/", "", secure, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
