package airquality

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "enel/pkg/logx"
)

func serve(t *testing.T, status int, body string, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAveragesPM25(t *testing.T) {
	t.Parallel()
	body := `{"fields":["sensor_index","pm2.5_atm","temperature","humidity"],
	          "data":[[1,10.0,60,40],[2,20.0,61,41],[3,null,62,42]]}`
	srv := serve(t, http.StatusOK, body, func(r *http.Request) {
		if r.Header.Get("X-API-Key") != "pa-key" {
			t.Errorf("X-API-Key = %q", r.Header.Get("X-API-Key"))
		}
		q := r.URL.Query()
		if q.Get("location_type") != "0" || q.Get("nwlng") != "-79.6" || q.Get("fields") != "pm2.5_atm,temperature,humidity" {
			t.Errorf("query = %v", q)
		}
	})

	c := New(Config{BaseURL: srv.URL, APIKey: "pa-key", NWLng: "-79.6", SELng: "-79.1", NWLat: "43.9", SELat: "43.5"}, srv.Client(), logx.Nop())
	got, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if got == nil {
		t.Fatal("expected reading")
	}
	if math.Abs(got.PM25-15) > 1e-9 || got.Sensors != 2 || len(got.Rows) != 3 {
		t.Fatalf("reading = %+v", got)
	}
}

func TestFetchFallbackColumn(t *testing.T) {
	t.Parallel()
	srv := serve(t, http.StatusOK, `{"data":[[7,0,0,8.0],[8,0,0,4.0]]}`, nil)
	c := New(Config{BaseURL: srv.URL}, srv.Client(), logx.Nop())
	got, err := c.Fetch(context.Background())
	if err != nil || got == nil {
		t.Fatalf("Fetch = (%v, %v)", got, err)
	}
	if got.PM25 != 6 {
		t.Fatalf("PM25 = %v, want 6", got.PM25)
	}
}

func TestFetchNoSensors(t *testing.T) {
	t.Parallel()
	srv := serve(t, http.StatusOK, `{"fields":["sensor_index","pm2.5_atm"],"data":[]}`, nil)
	c := New(Config{BaseURL: srv.URL}, srv.Client(), logx.Nop())
	got, err := c.Fetch(context.Background())
	if err != nil || got != nil {
		t.Fatalf("Fetch = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestFetchHTTPError(t *testing.T) {
	t.Parallel()
	srv := serve(t, http.StatusForbidden, `{"error":"ApiKeyInvalidError"}`, nil)
	c := New(Config{BaseURL: srv.URL}, srv.Client(), logx.Nop())
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 403")
	}
}
