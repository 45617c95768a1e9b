package internal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skip2/go-qrcode"
)

var affiliateCols = []string{
	"id", "name", "phone", "verified", "earnings", "referrals",
	"status", "referred_by", "created_at", "updated_at",
}

func selectAffiliates() sq.SelectBuilder {
	return psql.Select(affiliateCols...).From("affiliates")
}

func scanAffiliate(row pgx.Row) (Affiliate, error) {
	var a Affiliate
	err := row.Scan(&a.ID, &a.Name, &a.Phone, &a.Verified, &a.Earnings, &a.Referrals,
		&a.Status, &a.ReferredBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func collectAffiliates(rows pgx.Rows) ([]Affiliate, error) {
	defer rows.Close()
	out := []Affiliate{}
	for rows.Next() {
		a, err := scanAffiliate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AffiliateStore owns the affiliates, proofs and affiliate_credits tables.
type AffiliateStore struct {
	db            DB
	referralBonus int64
	paidBonus     int64
	publicURL     string
}

func NewAffiliateStore(db DB, cfg *Config) *AffiliateStore {
	return &AffiliateStore{
		db:            db,
		referralBonus: cfg.ReferralBonus,
		paidBonus:     cfg.PaidBonus,
		publicURL:     cfg.PublicURL,
	}
}

// Register creates an affiliate, or returns the one already holding phone.
// The bool reports whether the affiliate existed before the call.
func (s *AffiliateStore) Register(ctx context.Context, name, phone, ref string) (Affiliate, bool, error) {
	name = strings.TrimSpace(name)
	phone = normalizePhone(phone)
	if name == "" || phone == "" {
		return Affiliate{}, false, &ValidationError{"name and phone are required"}
	}

	var referredBy *string
	if ref = strings.TrimSpace(ref); ref != "" {
		var n int
		err := qRow(ctx, s.db, psql.Select("count(*)").From("affiliates").Where(sq.Eq{"id": ref})).Scan(&n)
		if err != nil {
			return Affiliate{}, false, err
		}
		if n > 0 {
			referredBy = &ref
		} else {
			log.Printf("affiliates: ignoring unknown ref %q", ref)
		}
	}

	a, err := scanAffiliate(qRow(ctx, s.db, psql.Insert("affiliates").
		Columns("id", "name", "phone", "referred_by").
		Values(uuid.NewString(), name, phone, referredBy).
		Suffix("ON CONFLICT (phone) DO NOTHING RETURNING "+strings.Join(affiliateCols, ", ")),
	))
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Affiliate{}, false, err
	}

	// phone already registered, possibly by a concurrent request
	a, err = scanAffiliate(qRow(ctx, s.db, selectAffiliates().Where(sq.Eq{"phone": phone})))
	if err != nil {
		return Affiliate{}, false, err
	}
	return a, true, nil
}

func (s *AffiliateStore) Get(ctx context.Context, id string) (Affiliate, error) {
	return scanAffiliate(qRow(ctx, s.db, selectAffiliates().Where(sq.Eq{"id": id})))
}

func (s *AffiliateStore) List(ctx context.Context) ([]Affiliate, error) {
	rows, err := qQuery(ctx, s.db, selectAffiliates().OrderBy("created_at DESC").Limit(500))
	if err != nil {
		return nil, err
	}
	return collectAffiliates(rows)
}

func (s *AffiliateStore) Referrals(ctx context.Context, id string) ([]Affiliate, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := qQuery(ctx, s.db, selectAffiliates().
		Where(sq.Eq{"referred_by": id}).
		OrderBy("created_at DESC"),
	)
	if err != nil {
		return nil, err
	}
	return collectAffiliates(rows)
}

func (s *AffiliateStore) Proofs(ctx context.Context, id string) ([]Proof, error) {
	rows, err := qQuery(ctx, s.db, psql.
		Select("id", "affiliate_id", "file_id", "message_id", "created_at").
		From("proofs").
		Where(sq.Eq{"affiliate_id": id}).
		OrderBy("id DESC"),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Proof{}
	for rows.Next() {
		var p Proof
		if err := rows.Scan(&p.ID, &p.AffiliateID, &p.FileID, &p.MessageID, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func lockAffiliate(ctx context.Context, tx pgx.Tx, id string) (Affiliate, error) {
	return scanAffiliate(qRowTx(ctx, tx, selectAffiliates().Where(sq.Eq{"id": id}).Suffix("FOR UPDATE")))
}

func setAffiliateStatus(ctx context.Context, tx pgx.Tx, id string, next AffiliateStatus) (Affiliate, error) {
	upd := psql.Update("affiliates").
		Set("status", string(next)).
		Set("updated_at", sq.Expr("now()"))
	if next == AffVerified {
		upd = upd.Set("verified", true)
	}
	return scanAffiliate(qRowTx(ctx, tx, upd.
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING "+strings.Join(affiliateCols, ", ")),
	))
}

// Transition moves an affiliate to next and pays the referrer's bonus, all in
// one transaction. A bonus is paid at most once per (affiliate, kind).
func (s *AffiliateStore) Transition(ctx context.Context, id string, next AffiliateStatus) (Affiliate, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Affiliate{}, err
	}
	defer tx.Rollback(ctx)

	cur, err := lockAffiliate(ctx, tx, id)
	if err != nil {
		return Affiliate{}, err
	}
	if !cur.Status.CanTransition(next) {
		return Affiliate{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next)
	}

	updated, err := setAffiliateStatus(ctx, tx, id, next)
	if err != nil {
		return Affiliate{}, err
	}
	if err := s.creditReferrer(ctx, tx, cur, next); err != nil {
		return Affiliate{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Affiliate{}, err
	}
	return updated, nil
}

func (s *AffiliateStore) creditReferrer(ctx context.Context, tx pgx.Tx, subject Affiliate, next AffiliateStatus) error {
	kind := next.creditKind()
	if kind == "" || subject.ReferredBy == nil {
		return nil
	}
	amount := s.referralBonus
	if next == AffPaid {
		amount = s.paidBonus
	}
	referrer := *subject.ReferredBy

	tag, err := qExecTx(ctx, tx, psql.Insert("affiliate_credits").
		Columns("affiliate_id", "kind", "referrer_id", "amount").
		Values(subject.ID, kind, referrer, amount).
		Suffix("ON CONFLICT DO NOTHING"),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	upd := psql.Update("affiliates").
		Set("earnings", sq.Expr("earnings + ?", amount)).
		Set("updated_at", sq.Expr("now()"))
	if kind == "verified" {
		upd = upd.Set("referrals", sq.Expr("referrals + 1"))
	}
	_, err = qExecTx(ctx, tx, upd.Where(sq.Eq{"id": referrer}))
	return err
}

// AttachProof records a delivered proof and puts the affiliate under review.
// Further proofs while already under review are stored without a status change.
func (s *AffiliateStore) AttachProof(ctx context.Context, affiliateID, fileID string, messageID int) (Proof, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Proof{}, err
	}
	defer tx.Rollback(ctx)

	cur, err := lockAffiliate(ctx, tx, affiliateID)
	if err != nil {
		return Proof{}, err
	}
	if cur.Status != AffUnderReview {
		if !cur.Status.CanTransition(AffUnderReview) {
			return Proof{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, AffUnderReview)
		}
		if _, err := setAffiliateStatus(ctx, tx, affiliateID, AffUnderReview); err != nil {
			return Proof{}, err
		}
	}

	p := Proof{AffiliateID: affiliateID, FileID: fileID, MessageID: messageID}
	err = qRowTx(ctx, tx, psql.Insert("proofs").
		Columns("affiliate_id", "file_id", "message_id").
		Values(affiliateID, fileID, messageID).
		Suffix("RETURNING id, created_at"),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Proof{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Proof{}, err
	}
	return p, nil
}

func (s *AffiliateStore) ReferralLink(id string) string {
	return s.publicURL + "/affiliate?ref=" + id
}

func (s *AffiliateStore) QR(ctx context.Context, id string) ([]byte, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return qrcode.Encode(s.ReferralLink(id), qrcode.Medium, 256)
}

// ------------------- Handlers -------------------

// POST /api/affiliates/register?ref=<id>
func RegisterAffiliate(store *AffiliateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name  string `json:"name"`
			Phone string `json:"phone"`
			Ref   string `json:"ref"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "bad json"})
			return
		}
		if req.Ref == "" {
			req.Ref = c.Query("ref")
		}

		a, returning, err := store.Register(c.Request.Context(), req.Name, req.Phone, req.Ref)
		if err != nil {
			appError(c, err)
			return
		}
		code := 201
		if returning {
			code = 200
		}
		c.JSON(code, gin.H{"affiliate": a, "returning": returning, "link": store.ReferralLink(a.ID)})
	}
}

func GetAffiliate(store *AffiliateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			appError(c, err)
			return
		}
		c.JSON(200, a)
	}
}

func ListAffiliates(store *AffiliateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := store.List(c.Request.Context())
		if err != nil {
			appError(c, err)
			return
		}
		c.JSON(200, out)
	}
}

func AffiliateReferrals(store *AffiliateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := store.Referrals(c.Request.Context(), c.Param("id"))
		if err != nil {
			appError(c, err)
			return
		}
		c.JSON(200, out)
	}
}

func AffiliateQR(store *AffiliateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		png, err := store.QR(c.Request.Context(), c.Param("id"))
		if err != nil {
			appError(c, err)
			return
		}
		c.Data(200, "image/png", png)
	}
}

func AdminAffiliateProofs(store *AffiliateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := store.Proofs(c.Request.Context(), c.Param("id"))
		if err != nil {
			appError(c, err)
			return
		}
		c.JSON(200, out)
	}
}

// AdminAffiliateStatus sets the status named in the body, or fixed when non-empty.
func AdminAffiliateStatus(store *AffiliateStore, db DB, fixed AffiliateStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		next := fixed
		if next == "" {
			var req struct {
				Status string `json:"status"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": "bad json"})
				return
			}
			st, err := ParseAffiliateStatus(req.Status)
			if err != nil {
				c.JSON(400, gin.H{"error": "unknown status " + req.Status})
				return
			}
			next = st
		}

		id := c.Param("id")
		a, err := store.Transition(c.Request.Context(), id, next)
		if err != nil {
			appError(c, err)
			return
		}
		logAction(c.Request.Context(), db, uid(c), "admin_affiliate_status", "affiliate_id="+id+" status="+string(next))
		c.JSON(200, a)
	}
}
