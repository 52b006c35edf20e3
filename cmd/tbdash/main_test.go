package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tbdash/internal/credstore"
	"github.com/nerrad567/tbdash/internal/infrastructure/config"
	"github.com/nerrad567/tbdash/internal/infrastructure/logging"
	"github.com/nerrad567/tbdash/internal/infrastructure/mqtt"
	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// isolate points config loading at an empty .env and clears the variables
// the commands read, so the developer's environment cannot leak in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := config.DotEnvPath
	config.DotEnvPath = filepath.Join(dir, ".env")
	t.Cleanup(func() { config.DotEnvPath = old })

	for _, k := range []string{
		"TBDASH_CONFIG", "THINGSBOARD_URL", "TBDASH_BACKEND_URL",
		"TBDASH_CREDENTIALS_BACKEND", "TBDASH_CREDENTIALS_PATH", "TBDASH_CREDENTIALS_SECRET",
		"TBDASH_USERNAME", "TBDASH_PASSWORD",
	} {
		t.Setenv(k, "")
	}
	return dir
}

// fakeThingsBoard answers the handful of routes the CLI commands use.
type fakeThingsBoard struct {
	srv *httptest.Server

	mu       sync.Mutex
	commands []string
}

func newFakeThingsBoard(t *testing.T) *fakeThingsBoard {
	t.Helper()
	fb := &fakeThingsBoard{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "hunter2" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "Invalid username or password"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]string{"token": "access-1", "refreshToken": "refresh-1"})
	})
	mux.HandleFunc("GET /api/user/profile", fb.protect(func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"id":        map[string]string{"entityType": "USER", "id": "user-1"},
			"email":     "ops@example.com",
			"authority": "TENANT_ADMIN",
		})
	}))
	mux.HandleFunc("GET /api/tenant/devices", fb.protect(func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"id": map[string]string{"entityType": "DEVICE", "id": "pool-1"}, "name": "Main Pool", "type": "pool"},
				{"id": map[string]string{"entityType": "DEVICE", "id": "pump-1"}, "name": "Filter Pump", "type": "pump"},
			},
			"hasNext": false,
		})
	}))
	mux.HandleFunc("POST /api/plugins/rpc/oneway/DEVICE/{id}", fb.protect(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Method string            `json:"method"`
			Params map[string]string `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		fb.mu.Lock()
		fb.commands = append(fb.commands, r.PathValue("id")+":"+body.Method+":"+body.Params["status"])
		fb.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))

	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeThingsBoard) protect(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "Token has expired"})
			return
		}
		h(w, r)
	}
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// runCLI executes one command line and returns stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	err := run(ctx, args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func TestRun_InvalidConfig(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "", "--config", "/nonexistent/path/config.yaml", "whoami")
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	isolate(t)
	if _, err := runCLI(t, "", "frobnicate"); err == nil {
		t.Error("unknown command should fail")
	}
}

func TestCLI_SessionLifecycle(t *testing.T) {
	dir := isolate(t)
	fb := newFakeThingsBoard(t)
	credPath := filepath.Join(dir, "credentials.json")
	t.Setenv("TBDASH_BACKEND_URL", fb.srv.URL+"/api")
	t.Setenv("TBDASH_CREDENTIALS_BACKEND", "file")
	t.Setenv("TBDASH_CREDENTIALS_PATH", credPath)

	if _, err := runCLI(t, "", "whoami"); !errors.Is(err, errNotSignedIn) {
		t.Fatalf("whoami before login error = %v, want errNotSignedIn", err)
	}

	if _, err := runCLI(t, "wrong\n", "login", "-u", "ops", "--password-stdin"); !thingsboard.IsAuthError(err) {
		t.Fatalf("login with bad password error = %v, want auth error", err)
	}

	out, err := runCLI(t, "hunter2\n", "login", "-u", "ops", "--password-stdin")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "Signed in as ops") {
		t.Errorf("login output = %q", out)
	}
	if _, err := os.Stat(credPath); err != nil {
		t.Fatalf("credentials not persisted: %v", err)
	}

	out, err = runCLI(t, "", "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if !strings.Contains(out, "ops@example.com") {
		t.Errorf("whoami output = %q", out)
	}

	out, err = runCLI(t, "", "devices", "--type", "pump")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if !strings.Contains(out, "pump-1") || strings.Contains(out, "pool-1") {
		t.Errorf("devices --type pump output = %q", out)
	}

	out, err = runCLI(t, "", "devices", "--json")
	if err != nil {
		t.Fatalf("devices --json: %v", err)
	}
	var devices []thingsboard.Device
	if err := json.Unmarshal([]byte(out), &devices); err != nil || len(devices) != 2 {
		t.Errorf("devices --json = %q (err %v)", out, err)
	}

	if _, err := runCLI(t, "", "pump", "pump-1", "on"); err != nil {
		t.Fatalf("pump: %v", err)
	}
	fb.mu.Lock()
	got := append([]string(nil), fb.commands...)
	fb.mu.Unlock()
	if len(got) != 1 || got[0] != "pump-1:"+thingsboard.MethodSetPumpStatus+":on" {
		t.Errorf("commands = %v", got)
	}

	if _, err := runCLI(t, "", "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := runCLI(t, "", "whoami"); !errors.Is(err, errNotSignedIn) {
		t.Errorf("whoami after logout error = %v, want errNotSignedIn", err)
	}
}

func TestPumpCmd_RejectsUnknownStatus(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "", "pump", "pump-1", "maybe")
	if !errors.Is(err, thingsboard.ErrInvalidInput) {
		t.Errorf("error = %v, want invalid input", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	isolate(t)

	opts := &rootOptions{}
	if got := opts.resolveConfigPath(); got != "" {
		t.Errorf("no flag, no env: got %q, want empty", got)
	}

	t.Setenv("TBDASH_CONFIG", "/etc/tbdash/config.yaml")
	if got := opts.resolveConfigPath(); got != "/etc/tbdash/config.yaml" {
		t.Errorf("env: got %q", got)
	}

	opts.configPath = "local.yaml"
	if got := opts.resolveConfigPath(); got != "local.yaml" {
		t.Errorf("flag should win: got %q", got)
	}
}

func TestReadPassword(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		stdin   string
		fromIn  bool
		want    string
		wantErr bool
	}{
		{name: "env", env: "from-env", want: "from-env"},
		{name: "no source", wantErr: true},
		{name: "stdin", stdin: "s3cret\r\n", fromIn: true, want: "s3cret"},
		{name: "stdin without newline", stdin: "s3cret", fromIn: true, want: "s3cret"},
		{name: "empty stdin", fromIn: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TBDASH_PASSWORD", tt.env)
			got, err := readPassword(strings.NewReader(tt.stdin), tt.fromIn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readPassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("readPassword() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	dir := isolate(t)
	ctx := context.Background()
	pair := credstore.Pair{Access: "a", Refresh: "r"}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		sealed bool
	}{
		{name: "memory", mutate: func(c *config.Config) { c.Credentials.Backend = config.CredentialsMemory }},
		{name: "file", mutate: func(c *config.Config) {
			c.Credentials.Backend = config.CredentialsFile
			c.Credentials.Path = filepath.Join(dir, "file", "creds.json")
		}},
		{name: "sqlite", mutate: func(c *config.Config) {
			c.Credentials.Backend = config.CredentialsSQLite
			c.Database.Path = filepath.Join(dir, "tbdash.db")
		}},
		{name: "sealed file", sealed: true, mutate: func(c *config.Config) {
			c.Credentials.Backend = config.CredentialsFile
			c.Credentials.Path = filepath.Join(dir, "sealed", "creds.json")
			c.Credentials.Secret = "passphrase"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			store, conn, err := openStore(ctx, cfg, logging.Discard())
			if err != nil {
				t.Fatalf("openStore() error = %v", err)
			}
			defer conn.close()
			if conn.check != nil {
				if err := conn.check(ctx); err != nil {
					t.Errorf("store health check: %v", err)
				}
			}

			if _, isSealed := store.(*credstore.SealedStore); isSealed != tt.sealed {
				t.Errorf("sealed = %v, want %v", isSealed, tt.sealed)
			}
			if err := store.Save(ctx, pair); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got != pair {
				t.Errorf("Load() = %+v, want %+v", got, pair)
			}
		})
	}
}

func TestOpenStore_Errors(t *testing.T) {
	isolate(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := config.Default()
	cfg.Credentials.Backend = "etcd"
	if _, _, err := openStore(ctx, cfg, logging.Discard()); err == nil {
		t.Error("unknown backend should fail")
	}

	cfg = config.Default()
	cfg.Credentials.Backend = config.CredentialsRedis
	cfg.Credentials.Redis.Addr = "127.0.0.1:1"
	if _, _, err := openStore(ctx, cfg, logging.Discard()); err == nil {
		t.Error("unreachable redis should fail")
	}
}

type recordingPumps struct {
	mu   sync.Mutex
	got  []string
	fail error
}

func (r *recordingPumps) SetPump(_ context.Context, id string, status thingsboard.PumpStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, id+"="+string(status))
	return r.fail
}

func TestPumpCommandHandler(t *testing.T) {
	topics := mqtt.NewTopics("tbdash")

	tests := []struct {
		name    string
		topic   string
		payload string
		fail    error
		want    []string
		wantErr bool
	}{
		{name: "plain on", topic: "tbdash/command/pump/pump-1", payload: "on", want: []string{"pump-1=on"}},
		{name: "quoted upper", topic: "tbdash/command/pump/pump-2", payload: ` "OFF" `, want: []string{"pump-2=off"}},
		{name: "bad payload", topic: "tbdash/command/pump/pump-1", payload: "maybe"},
		{name: "foreign topic", topic: "other/command/pump/pump-1", payload: "on"},
		{
			name:    "backend rejects",
			topic:   "tbdash/command/pump/pump-1",
			payload: "on",
			fail:    &thingsboard.RequestError{Op: "sendCommand", Status: 500, Message: "down"},
			want:    []string{"pump-1=on"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pumps := &recordingPumps{fail: tt.fail}
			h := pumpCommandHandler(context.Background(), topics, pumps, logging.Discard())

			err := h(tt.topic, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("handler error = %v, wantErr %v", err, tt.wantErr)
			}
			if strings.Join(pumps.got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("SetPump calls = %v, want %v", pumps.got, tt.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	ok := func(context.Context) error { return nil }
	broken := func(context.Context) error { return errors.New("not connected") }

	if err := healthCheck(context.Background(), []healthChecker{{"a", ok}, {"b", ok}}); err != nil {
		t.Errorf("all healthy: %v", err)
	}

	err := healthCheck(context.Background(), []healthChecker{{"a", ok}, {"mqtt", broken}})
	if err == nil || !strings.HasPrefix(err.Error(), "mqtt: ") {
		t.Errorf("error = %v, want prefixed with mqtt", err)
	}
}
