package internal

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123:abc"

type fakeBotAPI struct {
	mu       sync.Mutex
	reply    string
	status   int
	path     string
	chatID   string
	caption  string
	photoLen int
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = r.URL.Path
	if err := r.ParseMultipartForm(1 << 20); err == nil {
		f.chatID = r.FormValue("chat_id")
		f.caption = r.FormValue("caption")
		// telebot uploads readers without a file name, so the part lands in Value
		if v := r.MultipartForm.Value["photo"]; len(v) > 0 {
			f.photoLen = len(v[0])
		} else if fh := r.MultipartForm.File["photo"]; len(fh) > 0 {
			f.photoLen = int(fh[0].Size)
		}
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = io.WriteString(w, f.reply)
}

func (f *fakeBotAPI) seen() fakeBotAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeBotAPI{path: f.path, chatID: f.chatID, caption: f.caption, photoLen: f.photoLen}
}

const okPhotoReply = `{"ok":true,"result":{"message_id":42,"date":1735000000,
	"chat":{"id":-1001,"type":"supergroup"},
	"photo":[{"file_id":"small","file_unique_id":"s","width":90,"height":90},
	         {"file_id":"AgAD","file_unique_id":"b","width":800,"height":600}]}}`

func newFakeBot(t *testing.T, reply string) (*fakeBotAPI, *TelegramProofSender) {
	t.Helper()
	api := &fakeBotAPI{reply: reply}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	sender, err := NewTelegramProofSender(testBotToken, srv.URL, -1001, 5*time.Second)
	require.NoError(t, err)
	return api, sender
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "proof.jpg")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func proofRouter(sender ProofSender, store *AffiliateStore, max int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/sendProof", SendProof(sender, store, max))
	return r
}

func sendProofRequest(t *testing.T, r http.Handler, fields map[string]string, file []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fields, file)
	req := httptest.NewRequest(http.MethodPost, "/api/sendProof", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendProofNoFile(t *testing.T) {
	api, sender := newFakeBot(t, okPhotoReply)
	w := sendProofRequest(t, proofRouter(sender, nil, 1<<20), map[string]string{"note": "x"}, nil)

	assert.Equal(t, 200, w.Code)
	out := decodeBody(t, w)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, "No file provided", out["error"])
	assert.Empty(t, api.seen().path)
}

func TestSendProofSuccess(t *testing.T) {
	api, sender := newFakeBot(t, okPhotoReply)
	photo := bytes.Repeat([]byte{0xff}, 2048)
	w := sendProofRequest(t, proofRouter(sender, nil, 1<<20), nil, photo)

	require.Equal(t, 200, w.Code, w.Body.String())
	out := decodeBody(t, w)
	assert.Equal(t, true, out["ok"])
	result := out["result"].(map[string]any)
	assert.Equal(t, float64(42), result["message_id"])

	got := api.seen()
	assert.Equal(t, "/bot"+testBotToken+"/sendPhoto", got.path)
	assert.Equal(t, "-1001", got.chatID)
	assert.Equal(t, "New payment proof", got.caption)
	assert.Equal(t, len(photo), got.photoLen)
}

func TestSendProofTelegramError(t *testing.T) {
	_, sender := newFakeBot(t, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	w := sendProofRequest(t, proofRouter(sender, nil, 1<<20), nil, []byte("img"))

	assert.Equal(t, 200, w.Code)
	out := decodeBody(t, w)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, "Bad Request: chat not found", out["error"])
}

func TestSendProofTooLarge(t *testing.T) {
	api, sender := newFakeBot(t, okPhotoReply)
	w := sendProofRequest(t, proofRouter(sender, nil, 1024), nil, bytes.Repeat([]byte("a"), 4096))

	assert.Equal(t, 413, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["ok"])
	assert.Empty(t, api.seen().path)
}

func TestSendProofAttachesToAffiliate(t *testing.T) {
	api, sender := newFakeBot(t, okPhotoReply)
	store, mock := newAffiliateMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(sqlLockAffiliate).WithArgs("aff-1").
		WillReturnRows(affiliateRows(mock, Affiliate{ID: "aff-1", Status: AffNone}))
	mock.ExpectQuery(sqlSetStatus).WithArgs("Under Review", "aff-1").
		WillReturnRows(affiliateRows(mock, Affiliate{ID: "aff-1", Status: AffUnderReview}))
	mock.ExpectQuery(`INSERT INTO proofs`).
		WithArgs("aff-1", "AgAD", 42).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), testTime))
	mock.ExpectCommit()

	w := sendProofRequest(t, proofRouter(sender, store, 1<<20), map[string]string{"affiliate_id": "aff-1"}, []byte("img"))
	require.Equal(t, 200, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["ok"])
	assert.True(t, strings.HasSuffix(api.seen().caption, "aff-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendProofUnknownAffiliateStillDelivers(t *testing.T) {
	api, sender := newFakeBot(t, okPhotoReply)
	store, mock := newAffiliateMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(sqlLockAffiliate).WithArgs("ghost").WillReturnRows(affiliateRows(mock))
	mock.ExpectRollback()

	w := sendProofRequest(t, proofRouter(sender, store, 1<<20), map[string]string{"affiliate_id": "ghost"}, []byte("img"))
	require.Equal(t, 200, w.Code)
	out := decodeBody(t, w)
	assert.Equal(t, false, out["ok"])
	assert.Contains(t, out["error"], "not attached")
	assert.NotEmpty(t, api.seen().path)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTelegramSenderHonoursCancelledContext(t *testing.T) {
	api, sender := newFakeBot(t, okPhotoReply)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sender.SendProof(ctx, strings.NewReader("img"), "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, api.seen().path)
}
