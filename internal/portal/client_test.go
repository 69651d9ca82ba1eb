package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gradewatch/internal/grades"
)

const evalJSON = `{"id":%d,"coef":"1","date":"2024-01-10","evaluation_type":0,"heure_debut":"08:00",
"heure_fin":"10:00","description":"DS","note":{"max":"18","min":"4","moy":"%s","value":"12"},
"poids":{"UE1":1,"UE2":0.5},"url":"/e/%d"}`

func eval(id int, mean string) string {
	return fmt.Sprintf(evalJSON, id, mean, id)
}

func resource(id int, title string, evals ...string) string {
	out := `{"id":` + strconv.Itoa(id) + `,"titre":"` + title + `","url":"/r/` + strconv.Itoa(id) + `","evaluations":[`
	for i, e := range evals {
		if i > 0 {
			out += ","
		}
		out += e
	}
	return out + `]}`
}

type fakePortal struct {
	srv      *httptest.Server
	mu       sync.Mutex
	handlers map[string]func(w http.ResponseWriter)
	cookies  []string
	calls    atomic.Int32
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	f := &fakePortal{handlers: map[string]func(w http.ResponseWriter){}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		key := r.URL.Query().Get("q")
		if s := r.URL.Query().Get("semestre"); s != "" {
			key += ":" + s
		}
		if r.URL.Path == checkPath {
			key = "check"
		}
		f.mu.Lock()
		f.cookies = append(f.cookies, r.Header.Get("Cookie"))
		h, ok := f.handlers[key]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePortal) on(key string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key] = func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (f *fakePortal) handle(key string, h func(w http.ResponseWriter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key] = h
}

func (f *fakePortal) client() (*Client, *grades.Session) {
	c := New(Config{ServiceURL: f.srv.URL}, f.srv.Client(), nil)
	return c, &grades.Session{SessionID: "sess-1", ServiceRootURL: f.srv.URL}
}

func TestFetchSnapshotSingle(t *testing.T) {
	t.Parallel()
	f := newFakePortal(t)
	f.on(primaryQuery, http.StatusOK, `{"relevé":{"ressources":{"R101":`+
		resource(1, "Algo", eval(10, "11.2"), eval(11, grades.NoDataMarker))+`}}}`)

	c, sess := f.client()
	snap, err := c.FetchSnapshot(context.Background(), sess, nil)
	require.NoError(t, err)
	require.Contains(t, snap, "R101")
	require.Len(t, snap["R101"].Evaluations, 1)
	assert.Equal(t, int64(10), snap["R101"].Evaluations[0].ID)
	assert.Nil(t, snap["R101"].Term)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"PHPSESSID=sess-1"}, f.cookies)
}

func TestFetchSnapshotTerms(t *testing.T) {
	t.Parallel()
	f := newFakePortal(t)
	f.on(primaryQuery, http.StatusOK,
		`{"semestres":[{"formsemestre_id":101,"semestre_id":1},{"formsemestre_id":202,"semestre_id":2}]}`)
	f.on(termQuery+":101", http.StatusOK, `{"relevé":{"ressources":{"R101":`+resource(1, "Algo", eval(1, "10"))+
		`},"saes":{"SAE11":`+resource(2, "Projet", eval(2, "12"), eval(3, "~"))+`}}}`)
	f.on(termQuery+":202", http.StatusOK, `{"relevé":{"ressources":{"R201":`+resource(3, "Reseaux", eval(4, "9"))+
		`},"saes":{}}}`)

	c, sess := f.client()

	t.Run("all terms", func(t *testing.T) {
		snap, err := c.FetchSnapshot(context.Background(), sess, nil)
		require.NoError(t, err)
		require.Len(t, snap, 3)
		require.NotNil(t, snap["SAE11"].Term)
		assert.Equal(t, 1, *snap["SAE11"].Term)
		assert.Len(t, snap["SAE11"].Evaluations, 1)
		assert.Equal(t, 2, *snap["R201"].Term)
	})

	t.Run("filtered", func(t *testing.T) {
		snap, err := c.FetchSnapshot(context.Background(), sess, []int{2})
		require.NoError(t, err)
		require.Len(t, snap, 1)
		assert.Contains(t, snap, "R201")
	})
}

func TestFetchSnapshotSessionExpired(t *testing.T) {
	t.Parallel()

	t.Run("redirect marker", func(t *testing.T) {
		t.Parallel()
		f := newFakePortal(t)
		f.on(primaryQuery, http.StatusOK, `{"redirect":"/services/doAuth.php"}`)
		c, sess := f.client()
		_, err := c.FetchSnapshot(context.Background(), sess, nil)
		require.Error(t, err)
		assert.True(t, grades.IsKind(err, grades.KindSessionExpired))
	})

	t.Run("http redirect", func(t *testing.T) {
		t.Parallel()
		f := newFakePortal(t)
		f.on(primaryQuery, http.StatusFound, ``)
		c, sess := f.client()
		_, err := c.FetchSnapshot(context.Background(), sess, nil)
		assert.True(t, grades.IsKind(err, grades.KindSessionExpired))
	})

	t.Run("missing session", func(t *testing.T) {
		t.Parallel()
		f := newFakePortal(t)
		c, _ := f.client()
		_, err := c.FetchSnapshot(context.Background(), &grades.Session{}, nil)
		assert.True(t, grades.IsKind(err, grades.KindSessionExpired))
		assert.Zero(t, f.calls.Load())
	})
}

func TestFetchSnapshotSchemaInvalidAbortsWholeFetch(t *testing.T) {
	t.Parallel()
	f := newFakePortal(t)
	f.on(primaryQuery, http.StatusOK,
		`{"semestres":[{"formsemestre_id":101,"semestre_id":1},{"formsemestre_id":202,"semestre_id":2}]}`)
	f.on(termQuery+":101", http.StatusOK, `{"relevé":{"ressources":{"R101":`+resource(1, "Algo", eval(1, "10"))+`}}}`)
	f.on(termQuery+":202", http.StatusOK, `{"relevé":{"ressources":{"R201":{"id":3}}}}`)

	c, sess := f.client()
	snap, err := c.FetchSnapshot(context.Background(), sess, nil)
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.True(t, grades.IsKind(err, grades.KindSchemaInvalid))
}

func TestFetchSnapshotErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		kind   grades.Kind
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, kind: grades.KindRequestFailed},
		{name: "not json", status: http.StatusOK, body: `<html>`, kind: grades.KindSchemaInvalid},
		{name: "empty object", status: http.StatusOK, body: `{}`, kind: grades.KindSchemaInvalid},
		{name: "bad code", status: http.StatusOK, body: `{"relevé":{"ressources":{"X1":` + resource(1, "x") + `}}}`, kind: grades.KindSchemaInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakePortal(t)
			f.on(primaryQuery, tt.status, tt.body)
			c, sess := f.client()
			_, err := c.FetchSnapshot(context.Background(), sess, nil)
			require.Error(t, err)
			assert.Equal(t, tt.kind, grades.KindOf(err))
		})
	}
}

func TestCheckSession(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		f := newFakePortal(t)
		f.handle("check", func(w http.ResponseWriter) {
			w.Header().Set("Location", f.srv.URL+"/")
			w.WriteHeader(http.StatusFound)
		})
		c, sess := f.client()
		ok, err := c.CheckSession(context.Background(), sess)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("redirected to sso", func(t *testing.T) {
		t.Parallel()
		f := newFakePortal(t)
		f.handle("check", func(w http.ResponseWriter) {
			w.Header().Set("Location", "https://cas.example.edu/cas/login")
			w.WriteHeader(http.StatusFound)
		})
		c, sess := f.client()
		ok, err := c.CheckSession(context.Background(), sess)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unexpected status", func(t *testing.T) {
		t.Parallel()
		f := newFakePortal(t)
		f.on("check", http.StatusOK, `{}`)
		c, sess := f.client()
		_, err := c.CheckSession(context.Background(), sess)
		assert.True(t, grades.IsKind(err, grades.KindRequestFailed))
	})
}
