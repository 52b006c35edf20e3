package thingsboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/nerrad567/tbdash/internal/credstore"
)

func TestListDevicesByType(t *testing.T) {
	fb := newFakeBackend(t)
	fb.allow("a")

	var pageSize string
	fb.mux.HandleFunc("GET /api/tenant/devices", fb.protect(func(w http.ResponseWriter, r *http.Request) {
		pageSize = r.URL.Query().Get("pageSize")
		devicesHandler(
			Device{ID: "p1", Name: "Pool", Type: TypePool},
			Device{ID: "u1", Name: "Pump A", Type: TypePump},
			Device{ID: "u2", Name: "Pump B", Type: TypePump},
			Device{ID: "x", Name: "Pumpish", Type: "pump_v2"},
		)(w, r)
	}))

	c, _ := newTestClient(t, fb, credstore.Pair{Access: "a", Refresh: "r"})
	pumps, err := c.ListDevicesByType(context.Background(), TypePump)
	if err != nil {
		t.Fatalf("ListDevicesByType() error = %v", err)
	}

	if len(pumps) != 2 || pumps[0].ID != "u1" || pumps[1].ID != "u2" {
		t.Errorf("pumps = %+v, want u1, u2 in backend order", pumps)
	}
	if pageSize != "100" {
		t.Errorf("pageSize = %q, want 100", pageSize)
	}
}

func TestListDevices_Validation(t *testing.T) {
	c, err := New(Options{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.ListDevices(context.Background(), 0, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("pageSize 0 error = %v", err)
	}
	if _, err := c.ListDevices(context.Background(), 10, -1); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("page -1 error = %v", err)
	}
}

func TestDevice_EntityIDForms(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"object", `{"id": {"entityType": "DEVICE", "id": "784f394c-42b6-435a-983c-b7beff2784f9"}, "name": "Pool", "type": "pool"}`},
		{"string", `{"id": "784f394c-42b6-435a-983c-b7beff2784f9", "name": "Pool", "type": "pool"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Device
			if err := json.Unmarshal([]byte(tt.json), &d); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if d.ID != "784f394c-42b6-435a-983c-b7beff2784f9" || d.Type != TypePool {
				t.Errorf("device = %+v", d)
			}
		})
	}
}
