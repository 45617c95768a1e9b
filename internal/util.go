package internal

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
)

// logAction appends an audit row; it is a no-op without a database.
func logAction(ctx context.Context, db DB, actorID *int, action, details string) {
	if db == nil {
		return
	}
	_, err := qExec(ctx, db, psql.Insert("logs").
		Columns("actor_id", "action", "details").
		Values(actorID, action, details),
	)
	if err != nil {
		log.Printf("audit log %s: %v", action, err)
	}
}

var phoneStrip = strings.NewReplacer(" ", "", "-", "", "\t", "")

func normalizePhone(p string) string {
	return phoneStrip.Replace(strings.TrimSpace(p))
}

// errorStatus maps domain sentinels to HTTP codes; anything else is a 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrUnknownStatus):
		return 400
	}
	return 500
}

func abortWith(c *gin.Context, err error) {
	code := errorStatus(err)
	msg := err.Error()
	if code == 500 {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		msg = "internal error"
	}
	c.JSON(code, gin.H{"error": msg})
}

// ------------------- Admin: audit log -------------------

func AdminLogs(db DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := qQuery(c.Request.Context(), db, psql.
			Select(
				"l.id",
				"to_char(l.created_at, 'YYYY-MM-DD HH24:MI:SS')",
				"COALESCE(a.username, '(system)')",
				"l.action",
				"l.details",
			).
			From("logs l").
			LeftJoin("admins a ON a.id = l.actor_id").
			OrderBy("l.id DESC").
			Limit(200),
		)
		if err != nil {
			c.JSON(500, gin.H{"error": "db"})
			return
		}
		defer rows.Close()

		type row struct {
			ID        int64  `json:"id"`
			CreatedAt string `json:"created_at"`
			Actor     string `json:"actor"`
			Action    string `json:"action"`
			Details   string `json:"details"`
		}

		out := []row{}
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Actor, &r.Action, &r.Details); err != nil {
				c.JSON(500, gin.H{"error": "scan"})
				return
			}
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			c.JSON(500, gin.H{"error": "db"})
			return
		}

		c.JSON(200, out)
	}
}
