package deviceapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
)

// networkDevice stores credentials like the board does. When truncate is
// set it keeps only the first four bytes of a written SSID.
type networkDevice struct {
	mu       sync.Mutex
	stored   NetworkCredentials
	truncate bool
	writes   []NetworkCredentials
}

func (d *networkDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(d.stored)
	case http.MethodPost:
		var creds NetworkCredentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.writes = append(d.writes, creds)
		if d.truncate && len(creds.SSID) > 4 {
			creds.SSID = creds.SSID[:4]
		}
		d.stored = creds
	}
}

func TestChangeNetwork(t *testing.T) {
	previous := NetworkCredentials{SSID: "old", Password: "old-passphrase"}
	next := &NetworkCredentials{SSID: "workshop", Password: "solder-fumes"}

	tests := []struct {
		name           string
		stored         NetworkCredentials
		truncate       bool
		wantSuccess    bool
		wantRolledBack bool
		wantWrites     int
		wantStored     NetworkCredentials
	}{
		{
			name:        "verified",
			stored:      previous,
			wantSuccess: true,
			wantWrites:  1,
			wantStored:  *next,
		},
		{
			name:           "mismatch restores previous",
			stored:         previous,
			truncate:       true,
			wantRolledBack: true,
			wantWrites:     2,
			wantStored:     previous,
		},
		{
			name:       "blank previous is not restored",
			stored:     NetworkCredentials{},
			truncate:   true,
			wantWrites: 1,
			wantStored: NetworkCredentials{SSID: "work", Password: next.Password},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := &networkDevice{stored: tt.stored, truncate: tt.truncate}
			client, _ := newTestClient(t, device)

			result := client.ChangeNetwork(context.Background(), next)

			if result.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v (error %v)", result.Success, tt.wantSuccess, result.Error)
			}
			if result.RolledBack != tt.wantRolledBack {
				t.Errorf("RolledBack = %v, want %v", result.RolledBack, tt.wantRolledBack)
			}
			if tt.wantSuccess != (result.Error == nil) {
				t.Errorf("Error = %v", result.Error)
			}
			if result.Previous == nil || result.Previous.Credentials != tt.stored {
				t.Errorf("Previous = %+v, want %+v", result.Previous, tt.stored)
			}
			if len(device.writes) != tt.wantWrites {
				t.Errorf("device saw %d writes, want %d", len(device.writes), tt.wantWrites)
			}
			if device.stored != tt.wantStored {
				t.Errorf("device holds %+v, want %+v", device.stored, tt.wantStored)
			}
		})
	}
}

func TestChangeNetwork_SnapshotFailureWritesNothing(t *testing.T) {
	posts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))

	result := client.ChangeNetwork(context.Background(), &NetworkCredentials{SSID: "workshop"})
	if result.Error == nil || result.Success {
		t.Fatalf("ChangeNetwork() = %+v, want failure", result)
	}
	if result.Previous != nil {
		t.Errorf("Previous = %+v, want nil", result.Previous)
	}
	if posts != 0 {
		t.Errorf("device saw %d writes, want 0", posts)
	}
}
