package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-cmv/internal/entity"
	"github.com/nerrad567/gray-logic-cmv/internal/polling"
)

// sourceAPI tags actions issued over HTTP in the audit trail.
const sourceAPI = "api"

// syncRefreshTimeout bounds a ?wait=true refresh. Each device read has its
// own 10 second timeout.
const syncRefreshTimeout = 15 * time.Second

// DeviceView is the JSON representation of one unit.
type DeviceView struct {
	entity.DeviceInfo
	Available bool           `json:"available"`
	Poller    PollerView     `json:"poller"`
	Entities  []entity.State `json:"entities"`
}

// PollerView is the JSON form of polling.Status.
type PollerView struct {
	State             string     `json:"state"`
	IntervalSeconds   int        `json:"interval_seconds"`
	LastUpdateSuccess bool       `json:"last_update_success"`
	LastError         string     `json:"last_error,omitempty"`
	LastUpdate        *time.Time `json:"last_update,omitempty"`
	Cycles            uint64     `json:"cycles"`
	Failures          uint64     `json:"failures"`
}

func newDeviceView(d Device) DeviceView {
	st := d.Poller.Status()
	pv := PollerView{
		State:             st.State.String(),
		IntervalSeconds:   int(d.Poller.Interval() / time.Second),
		LastUpdateSuccess: st.LastUpdateSuccess,
		Cycles:            st.Cycles,
		Failures:          st.Failures,
	}
	if st.LastError != nil {
		pv.LastError = st.LastError.Error()
	}
	if !st.LastUpdate.IsZero() {
		t := st.LastUpdate.UTC()
		pv.LastUpdate = &t
	}
	return DeviceView{
		DeviceInfo: d.Unit.Info(),
		Available:  d.Poller.Available(),
		Poller:     pv,
		Entities:   d.Unit.States(),
	}
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	views := make([]DeviceView, 0, len(s.order))
	for _, id := range s.order {
		views = append(views, newDeviceView(s.devices[id]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// lookupDevice resolves {id} or writes a 404.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (Device, bool) {
	id := chi.URLParam(r, "id")
	d, ok := s.device(id)
	if !ok {
		writeNotFound(w, "device not found: "+id)
	}
	return d, ok
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDeviceView(d))
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": d.Unit.States()})
}

// handleGetSnapshot returns the latest snapshot, or 503 before the first
// successful cycle.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	snap, ok := d.Poller.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotAvailable, "no snapshot published yet")
		return
	}
	writeJSON(w, http.StatusOK, snapshotEvent{
		DeviceID:  snap.DeviceID(),
		Available: d.Poller.Available(),
		Snapshot:  snap,
	})
}

// handleRefresh queues a cycle and answers 202. With ?wait=true it runs the
// cycle inline and returns the resulting snapshot.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")) //nolint:errcheck // absent or invalid means false
	if !wait {
		d.Poller.RequestRefresh()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh_requested"})
		return
	}

	// The cycle outlives a client that hangs up; only the timeout abandons it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), syncRefreshTimeout)
	defer cancel()
	if err := d.Poller.Refresh(ctx); err != nil {
		switch {
		case errors.Is(err, polling.ErrUpdateFailed):
			writeError(w, http.StatusBadGateway, ErrCodeUpdateFailed, err.Error())
			return
		case errors.Is(err, polling.ErrCycleAbandoned):
			writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	s.handleGetSnapshot(w, r)
}

// fanRequest selects exactly one fan operation.
type fanRequest struct {
	Action     string  `json:"action,omitempty"` // "on" or "off"
	Percentage *int    `json:"percentage,omitempty"`
	Preset     *string `json:"preset,omitempty"`
}

func (s *Server) handleFan(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req fanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	set := 0
	if req.Action != "" {
		set++
	}
	if req.Percentage != nil {
		set++
	}
	if req.Preset != nil {
		set++
	}
	if set != 1 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "exactly one of action, percentage or preset is required")
		return
	}

	ctx := entity.WithSource(r.Context(), sourceAPI)
	fan := d.Unit.Fan()

	var err error
	switch {
	case req.Percentage != nil:
		err = fan.SetPercentage(ctx, *req.Percentage)
	case req.Preset != nil:
		err = fan.SetPreset(ctx, *req.Preset)
	case req.Action == "on":
		err = fan.TurnOn(ctx)
	case req.Action == "off":
		err = fan.TurnOff(ctx)
	default:
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "action must be on or off")
		return
	}
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fan.State())
}

type ledsRequest struct {
	On *bool `json:"on"`
}

func (s *Server) handleLEDs(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req ledsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "on is required")
		return
	}

	ctx := entity.WithSource(r.Context(), sourceAPI)
	leds := d.Unit.LEDs()
	var err error
	if *req.On {
		err = leds.TurnOn(ctx)
	} else {
		err = leds.TurnOff(ctx)
	}
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leds.State())
}

func (s *Server) handleFilterReset(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if err := d.Unit.FilterReset().Press(entity.WithSource(r.Context(), sourceAPI)); err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
