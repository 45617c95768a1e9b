package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	applicationsKey   = "cg_users_v2"
	maxWriteRetries   = 5
	defaultWinnersCap = 10
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError carries a message meant for the end user.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

type ApplicationForm struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Country        string `json:"country"`
	PaymentMethod  string `json:"payment_method"`
	PaymentDetails string `json:"payment_details"`
	Reason         string `json:"reason"`
}

func (f ApplicationForm) validate() error {
	switch {
	case strings.TrimSpace(f.Name) == "":
		return &ValidationError{"Please enter your name."}
	case !emailRe.MatchString(f.Email):
		return &ValidationError{"Enter valid email."}
	case strings.TrimSpace(f.Country) == "":
		return &ValidationError{"Enter your country."}
	case f.PaymentMethod == "":
		return &ValidationError{"Select payment method."}
	}
	return nil
}

// ApplicationStore keeps every application in one JSON list under a single
// Redis key. Writers use WATCH so a concurrent write forces a retry.
type ApplicationStore struct {
	rdb      *redis.Client
	key      string
	award    int64
	notifier Notifier
	now      func() time.Time
}

func NewApplicationStore(rdb *redis.Client, award int64, notifier Notifier) *ApplicationStore {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &ApplicationStore{
		rdb:      rdb,
		key:      applicationsKey,
		award:    award,
		notifier: notifier,
		now:      time.Now,
	}
}

func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	log.Println("Connected to Redis")
	return rdb, nil
}

func (s *ApplicationStore) decode(raw []byte) []Application {
	var apps []Application
	if err := json.Unmarshal(raw, &apps); err != nil {
		log.Printf("applications: corrupt blob under %s, treating as empty: %v", s.key, err)
		return nil
	}
	return apps
}

func (s *ApplicationStore) read(ctx context.Context, c redis.Cmdable) ([]Application, error) {
	raw, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.decode(raw), nil
}

// update runs fn over the current list and stores the result atomically.
// fn may return the list unchanged; nothing is written when it returns an error.
func (s *ApplicationStore) update(ctx context.Context, fn func([]Application) ([]Application, error)) error {
	txf := func(tx *redis.Tx) error {
		apps, err := s.read(ctx, tx)
		if err != nil {
			return err
		}
		apps, err = fn(apps)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(apps)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, raw, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWriteRetries; i++ {
		err := s.rdb.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (s *ApplicationStore) Submit(ctx context.Context, form ApplicationForm) (Application, error) {
	if err := form.validate(); err != nil {
		return Application{}, err
	}
	app := Application{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(form.Name),
		Email:          form.Email,
		Country:        strings.TrimSpace(form.Country),
		PaymentMethod:  form.PaymentMethod,
		PaymentDetails: form.PaymentDetails,
		Reason:         form.Reason,
		Status:         AppPending,
		Amount:         s.award,
		CreatedAt:      s.now().UTC(),
	}
	err := s.update(ctx, func(apps []Application) ([]Application, error) {
		return append([]Application{app}, apps...), nil
	})
	return app, err
}

func (s *ApplicationStore) List(ctx context.Context) ([]Application, error) {
	apps, err := s.read(ctx, s.rdb)
	if err != nil {
		return nil, err
	}
	if apps == nil {
		apps = []Application{}
	}
	return apps, nil
}

func (s *ApplicationStore) Get(ctx context.Context, id string) (Application, error) {
	apps, err := s.read(ctx, s.rdb)
	if err != nil {
		return Application{}, err
	}
	for _, a := range apps {
		if a.ID == id {
			return a, nil
		}
	}
	return Application{}, ErrNotFound
}

// modify applies fn to the record with the given id.
func (s *ApplicationStore) modify(ctx context.Context, id string, fn func(*Application) error) (Application, error) {
	var out Application
	err := s.update(ctx, func(apps []Application) ([]Application, error) {
		for i := range apps {
			if apps[i].ID != id {
				continue
			}
			if err := fn(&apps[i]); err != nil {
				return nil, err
			}
			out = apps[i]
			return apps, nil
		}
		return nil, ErrNotFound
	})
	return out, err
}

func (s *ApplicationStore) SavePayment(ctx context.Context, id, method, details string) (Application, error) {
	if method == "" {
		return Application{}, &ValidationError{"Please select a payment method to receive your rewards."}
	}
	return s.modify(ctx, id, func(a *Application) error {
		a.PaymentMethod = method
		a.PaymentDetails = details
		return nil
	})
}

// Apply runs an admin action on an application; paid mirrors the paid status.
func (s *ApplicationStore) Apply(ctx context.Context, id string, op ApplicationOp) (Application, error) {
	var changed bool
	app, err := s.modify(ctx, id, func(a *Application) error {
		if !op.allows(a.Status) {
			return fmt.Errorf("%w: cannot %s a %s application", ErrInvalidTransition, op.Name, a.Status)
		}
		changed = a.Status != op.To
		a.Status = op.To
		a.Paid = op.To == AppPaid
		return nil
	})
	if err != nil {
		return app, err
	}
	if changed && (op.To == AppApproved || op.To == AppPaid) {
		if err := s.notifier.ApplicationStatusChanged(ctx, app); err != nil {
			log.Printf("notify %s: %v", app.ID, err)
		}
	}
	return app, nil
}

func (s *ApplicationStore) Approve(ctx context.Context, id string) (Application, error) {
	return s.Apply(ctx, id, OpApprove)
}

func (s *ApplicationStore) Unapprove(ctx context.Context, id string) (Application, error) {
	return s.Apply(ctx, id, OpUnapprove)
}

func (s *ApplicationStore) MarkPaid(ctx context.Context, id string) (Application, error) {
	return s.Apply(ctx, id, OpMarkPaid)
}

func (s *ApplicationStore) MarkUnpaid(ctx context.Context, id string) (Application, error) {
	return s.Apply(ctx, id, OpMarkUnpaid)
}

// RecentWinners lists paid applications, newest first.
func (s *ApplicationStore) RecentWinners(ctx context.Context, limit int) ([]Winner, error) {
	apps, err := s.read(ctx, s.rdb)
	if err != nil {
		return nil, err
	}
	var paid []Application
	for _, a := range apps {
		if a.Status == AppPaid && a.Paid {
			paid = append(paid, a)
		}
	}
	sort.SliceStable(paid, func(i, j int) bool {
		return paid[i].CreatedAt.After(paid[j].CreatedAt)
	})
	out := []Winner{}
	for _, a := range paid {
		if len(out) == limit {
			break
		}
		out = append(out, Winner{Name: a.Name, Country: a.Country, Amount: a.Amount})
	}
	return out, nil
}

// ------------------- Handlers -------------------

// POST /api/applications
func SubmitApplication(store *ApplicationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var form ApplicationForm
		if err := c.ShouldBindJSON(&form); err != nil {
			c.JSON(400, gin.H{"error": "bad json"})
			return
		}
		app, err := store.Submit(c.Request.Context(), form)
		if err != nil {
			appError(c, err)
			return
		}
		c.JSON(201, app)
	}
}

// GET /api/applications/:id
func GetApplication(store *ApplicationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		app, err := store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			appError(c, err)
			return
		}
		c.JSON(200, app)
	}
}

// PUT /api/applications/:id/payment
func SaveApplicationPayment(store *ApplicationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			PaymentMethod  string `json:"payment_method"`
			PaymentDetails string `json:"payment_details"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "bad json"})
			return
		}
		app, err := store.SavePayment(c.Request.Context(), c.Param("id"), req.PaymentMethod, req.PaymentDetails)
		if err != nil {
			appError(c, err)
			return
		}
		c.JSON(200, app)
	}
}

// GET /api/winners?limit=N
func RecentWinners(store *ApplicationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultWinnersCap)))
		if err != nil || limit <= 0 || limit > 100 {
			c.JSON(400, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		out, err := store.RecentWinners(c.Request.Context(), limit)
		if err != nil {
			appError(c, err)
			return
		}
		c.JSON(200, out)
	}
}

func AdminListApplications(store *ApplicationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		apps, err := store.List(c.Request.Context())
		if err != nil {
			appError(c, err)
			return
		}
		c.JSON(200, apps)
	}
}

// AdminApplicationAction backs the approve/unapprove/mark-paid/mark-unpaid routes.
func AdminApplicationAction(store *ApplicationStore, db DB, op ApplicationOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		app, err := store.Apply(c.Request.Context(), id, op)
		if err != nil {
			appError(c, err)
			return
		}
		logAction(c.Request.Context(), db, uid(c), "admin_"+op.Name+"_application", "application_id="+id)
		c.JSON(200, app)
	}
}

func appError(c *gin.Context, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		c.JSON(400, gin.H{"error": verr.Msg})
		return
	}
	abortWith(c, err)
}
