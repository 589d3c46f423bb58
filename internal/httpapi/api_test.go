package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebot/internal/delivery"
	"carebot/internal/dispatch"
	"carebot/internal/phone"
	"carebot/internal/reply"
	"carebot/internal/schedule"
	"carebot/internal/storage"
	logx "carebot/pkg/logx"
)

type okSender struct{ calls int }

func (s *okSender) Send(_ context.Context, _, _ string) delivery.Result {
	s.calls++
	return delivery.Result{Delivered: true, ProviderID: "p"}
}

type noopExec struct{}

func (noopExec) Execute(context.Context, storage.ResolvedSchedule) {}

type env struct {
	st     storage.Store
	seed   storage.SeedResult
	reg    *schedule.Registry
	sender *okSender
	srv    *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "api.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	seed, err := storage.Seed(context.Background(), st, storage.SeedOptions{})
	require.NoError(t, err)

	reg := schedule.New(st, noopExec{}, schedule.Options{Location: time.UTC})
	t.Cleanup(func() { _ = reg.StopAll(context.Background()) })
	require.NoError(t, reg.LoadAll(context.Background()))

	sender := &okSender{}
	exec := dispatch.New(dispatch.Deps{Store: st, Sender: sender}, dispatch.Config{})
	replies := reply.New(st, reply.Options{LocalRule: phone.DefaultLocalRule})

	s := NewServer(ServerConfig{}, logx.Nop(),
		NewAPIHandler(st, reg, exec, sender, logx.Nop()),
		NewWebhookHandler(replies, logx.Nop()),
	)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &env{st: st, seed: seed, reg: reg, sender: sender, srv: srv}
}

func (e *env) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, []byte(buf.String())
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestListEndpoints(t *testing.T) {
	e := newEnv(t)
	for _, p := range []string{"/api/recipients", "/api/subjects", "/api/templates", "/api/schedules", "/api/scheduler", "/api/logs"} {
		resp, _ := e.do(t, http.MethodGet, p, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
	}

	resp, body := e.do(t, http.MethodGet, "/api/recipients/"+e.seed.Recipient.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), e.seed.Subject.ID)

	resp, _ = e.do(t, http.MethodGet, "/api/subjects/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/logs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScheduleCRUDKeepsRegistryInSync(t *testing.T) {
	e := newEnv(t)
	body := `{"subjectId":"` + e.seed.Subject.ID + `","templateId":"` + e.seed.Templates[0].ID + `","cron":"*/15 * * * *"}`
	resp, raw := e.do(t, http.MethodPost, "/api/schedules", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var created storage.ResolvedSchedule
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.True(t, created.Enabled)
	assert.Equal(t, e.seed.Recipient.ID, created.RecipientID)
	assert.True(t, e.reg.Active(created.ID))

	resp, _ = e.do(t, http.MethodPost, "/api/schedules/"+created.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, e.reg.Active(created.ID))

	resp, _ = e.do(t, http.MethodPost, "/api/schedules/"+created.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, e.reg.Active(created.ID))

	resp, _ = e.do(t, http.MethodDelete, "/api/schedules/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, e.reg.Active(created.ID))

	resp, _ = e.do(t, http.MethodDelete, "/api/schedules/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/schedules/"+created.ID+"/toggle", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateScheduleRejectsInvalidCron(t *testing.T) {
	e := newEnv(t)
	before := e.reg.Len()
	body := `{"subjectId":"` + e.seed.Subject.ID + `","templateId":"` + e.seed.Templates[0].ID + `","cron":"every day"}`
	resp, _ := e.do(t, http.MethodPost, "/api/schedules", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, before, e.reg.Len())

	all, err := e.st.ListSchedules(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, len(storage.DefaultSchedules))
}

func TestEmergencyEndpoint(t *testing.T) {
	e := newEnv(t)
	resp, raw := e.do(t, http.MethodPost, "/api/emergency/"+e.seed.Subject.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res delivery.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.Delivered)

	resp, _ = e.do(t, http.MethodPost, "/api/emergency/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	logs, err := e.st.ListLogs(context.Background(), storage.LogFilter{SubjectID: e.seed.Subject.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Empty(t, logs[0].ScheduleID)
}

func TestTestSend(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodPost, "/api/test/send", `{"phone":"+6281","message":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, e.sender.calls)

	resp, _ = e.do(t, http.MethodPost, "/api/test/send", `{"phone":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookFlow(t *testing.T) {
	e := newEnv(t)
	resp, raw := e.do(t, http.MethodPost, "/webhook/fonnte", `{"sender":"999","message":"SELESAI"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ignored","reason":"unknown sender"}`, string(raw))

	_, raw = e.do(t, http.MethodPost, "/webhook/fonnte", `{"sender":"6281234567890","message":"SELESAI"}`)
	assert.JSONEq(t, `{"status":"ok","message":"no pending message"}`, string(raw))

	resp, _ = e.do(t, http.MethodPost, "/api/emergency/"+e.seed.Subject.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	form := url.Values{"sender": {"6281234567890"}, "message": {"CATAT: sudah ganti air"}, "device": {"628000"}}
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/webhook/fonnte", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	fresp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer fresp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(fresp.Body).Decode(&out))
	assert.Equal(t, "noted", out["action"])
	assert.Equal(t, "sudah ganti air", out["note"])
}
