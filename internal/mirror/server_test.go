package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote"
)

var testSecret = []byte("test-secret")

type fixture struct {
	srv *httptest.Server
	log *MemoryLog

	mu  sync.Mutex
	now time.Time
	n   int
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{log: NewMemoryLog(), now: time.Date(2025, time.July, 25, 9, 0, 0, 0, time.UTC)}
	if cfg.Secret == nil {
		cfg.Secret = testSecret
	}
	s, err := NewServer(f.log, cfg, WithClock(f.clock), WithUIDGenerator(f.uid))
	require.NoError(t, err)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) uid() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("uid-%d", f.n)
}

func (f *fixture) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		require.NoError(t, enc.Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) signIn(t *testing.T, prior string) SessionResponse {
	t.Helper()
	var s SessionResponse
	code := f.do(t, http.MethodPost, "/v1/sessions/anonymous", prior, nil, &s)
	require.Equal(t, http.StatusOK, code)
	return s
}

func medicineDoc(t *testing.T, id, name string) remote.Document {
	t.Helper()
	d, err := model.NewPutDelta(model.Medicine{ID: id, Name: name, Stock: 5}, time.Time{})
	require.NoError(t, err)
	doc, err := remote.Encode(d)
	require.NoError(t, err)
	return doc
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil, nil))
}

func TestNewServerRequiresSecret(t *testing.T) {
	_, err := NewServer(NewMemoryLog(), Config{})
	assert.Error(t, err)
}

func TestSignIn_ReusesValidIdentity(t *testing.T) {
	f := newFixture(t, Config{})

	first := f.signIn(t, "")
	assert.Equal(t, "uid-1", first.UID)
	assert.NotEmpty(t, first.Token)

	again := f.signIn(t, first.Token)
	assert.Equal(t, "uid-1", again.UID)

	fresh := f.signIn(t, "garbage")
	assert.Equal(t, "uid-2", fresh.UID)
}

func TestSignIn_ExpiredTokenGetsNewIdentity(t *testing.T) {
	f := newFixture(t, Config{TokenTTL: time.Hour})
	first := f.signIn(t, "")

	f.advance(2 * time.Hour)
	next := f.signIn(t, first.Token)
	assert.NotEqual(t, first.UID, next.UID)
}

func TestPush_RequiresToken(t *testing.T) {
	f := newFixture(t, Config{AllowAnonymousReads: true})
	doc := medicineDoc(t, "med-1", "Metformin")

	code := f.do(t, http.MethodPut, "/v1/collections/medicines/documents/med-1", "", doc, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPush_AssignsVersionsAndIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.signIn(t, "")
	path := "/v1/collections/medicines/documents/"

	var r PushResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, path+"med-1", s.Token, medicineDoc(t, "med-1", "Metformin"), &r))
	assert.Equal(t, int64(1), r.Version)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, path+"med-2", s.Token, medicineDoc(t, "med-2", "Insulin"), &r))
	assert.Equal(t, int64(2), r.Version)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, path+"med-1", s.Token, medicineDoc(t, "med-1", "Metformin"), &r))
	assert.Equal(t, int64(1), r.Version, "identical digest returns the stored version")

	docs, err := f.log.Since(context.Background(), model.CollectionMedicines, 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, s.UID, docs[0].Author)
}

func TestPush_Rejections(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.signIn(t, "")

	doc := medicineDoc(t, "med-1", "Metformin")
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPut, "/v1/collections/medicines/documents/other", s.Token, doc, nil))
	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodPut, "/v1/collections/invoices/documents/med-1", s.Token, doc, nil))

	doc.Digest = "0000"
	assert.Equal(t, http.StatusUnprocessableEntity,
		f.do(t, http.MethodPut, "/v1/collections/medicines/documents/med-1", s.Token, doc, nil))
}

func TestPushList_MarkupCharactersKeepDigest(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.signIn(t, "")

	doc := medicineDoc(t, "med-1", "Salt & Pepper <5mg>")
	require.Contains(t, string(doc.Fields), "Salt & Pepper <5mg>")
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPut, "/v1/collections/medicines/documents/med-1", s.Token, doc, nil))

	var lr ListResponse
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodGet, "/v1/collections/medicines/documents?since=0", s.Token, nil, &lr))
	require.Len(t, lr.Documents, 1)
	got := lr.Documents[0]
	assert.Equal(t, string(doc.Fields), string(got.Fields))
	require.NoError(t, remote.Verify(got))

	e, err := remote.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, "Salt & Pepper <5mg>", e.(model.Medicine).Name)
}

func TestList_AnonymousReadsRespectConfig(t *testing.T) {
	closed := newFixture(t, Config{})
	assert.Equal(t, http.StatusUnauthorized,
		closed.do(t, http.MethodGet, "/v1/collections/medicines/documents?since=0", "", nil, nil))

	open := newFixture(t, Config{AllowAnonymousReads: true})
	var lr ListResponse
	assert.Equal(t, http.StatusOK,
		open.do(t, http.MethodGet, "/v1/collections/medicines/documents?since=0", "", nil, &lr))
	assert.Empty(t, lr.Documents)
}

func TestList_SinceAndLimit(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.signIn(t, "")
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("med-%d", i)
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPut,
			"/v1/collections/medicines/documents/"+id, s.Token, medicineDoc(t, id, id), nil))
	}

	var lr ListResponse
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodGet, "/v1/collections/medicines/documents?since=1&limit=1", s.Token, nil, &lr))
	require.Len(t, lr.Documents, 1)
	assert.Equal(t, int64(2), lr.Documents[0].Version)
	assert.Equal(t, int64(3), lr.Head)

	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodGet, "/v1/collections/medicines/documents?since=-1", s.Token, nil, nil))
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodGet, "/v1/collections/medicines/documents?wait=soon", s.Token, nil, nil))
}

func TestList_LongPollWakesOnPush(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.signIn(t, "")

	type result struct {
		lr  ListResponse
		err error
	}
	got := make(chan result, 1)
	go func() {
		var r result
		req, err := http.NewRequest(http.MethodGet,
			f.srv.URL+"/v1/collections/medicines/documents?since=0&wait=10s", nil)
		if err != nil {
			got <- result{err: err}
			return
		}
		req.Header.Set("Authorization", "Bearer "+s.Token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		r.err = json.NewDecoder(resp.Body).Decode(&r.lr)
		got <- r
	}()

	// Give the poll a moment to park before pushing.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut,
		"/v1/collections/medicines/documents/med-1", s.Token, medicineDoc(t, "med-1", "Metformin"), nil))

	select {
	case r := <-got:
		require.NoError(t, r.err)
		require.Len(t, r.lr.Documents, 1)
		assert.Equal(t, "med-1", r.lr.Documents[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("long poll did not wake")
	}
}

func TestList_LongPollTimesOutEmpty(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.signIn(t, "")

	var lr ListResponse
	start := time.Now()
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodGet, "/v1/collections/medicines/documents?since=0&wait=50ms", s.Token, nil, &lr))
	assert.Empty(t, lr.Documents)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
