package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"RollerLink/internal/dispatch"
	"RollerLink/internal/jam"
	"RollerLink/internal/model"
	"RollerLink/internal/util"
)

type motorView struct {
	model.MotorState
	LoadPercent float64   `json:"loadPercent"`
	Jam         jam.Phase `json:"jam"`
}

func (a *App) view(m model.MotorState) motorView {
	v := motorView{MotorState: m, LoadPercent: m.LoadPercent(a.MaxCurrent), Jam: jam.Normal}
	if a.Jam != nil {
		v.Jam = a.Jam.Phase(m.ID)
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Warn("[app] write response: %v", err)
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrBusy), errors.Is(err, model.ErrPreempted):
		return http.StatusConflict
	case errors.Is(err, model.ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrCommandRejected):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrConnectionLost):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func motorParam(r *http.Request) (model.MotorID, error) {
	return model.ParseMotorID(r.PathValue("id"))
}

func (a *App) handleMotors(w http.ResponseWriter, r *http.Request) {
	motors := a.Store.Motors()
	out := make([]motorView, 0, len(motors))
	for _, m := range motors {
		out = append(out, a.view(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleMotor(w http.ResponseWriter, r *http.Request) {
	id, err := motorParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := a.Store.Motor(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(m))
}

type systemView struct {
	System      model.SystemState  `json:"system"`
	Health      model.Health       `json:"health"`
	Mode        string             `json:"mode"`
	Modes       []model.ModeConfig `json:"modes"`
	Busy        bool               `json:"busy"`
	CoolingDown bool               `json:"coolingDown"`
	Telemetry   any                `json:"telemetry,omitempty"`
}

func (a *App) handleSystem(w http.ResponseWriter, r *http.Request) {
	sys := a.Store.System()
	v := systemView{System: sys, Health: sys.Health()}
	if a.Orchestrator != nil {
		v.Mode = a.Orchestrator.Mode()
		v.Modes = a.Orchestrator.Modes()
		v.Busy = a.Orchestrator.Busy()
		v.CoolingDown = a.Orchestrator.CoolingDown()
	}
	if a.Ingest != nil {
		v.Telemetry = a.Ingest.Stats()
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Store.Health())
}

const defaultWindow = 60

// windowParam accepts a sample count or a display window such as "5m".
func windowParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return defaultWindow, nil
	}
	if n, ok := model.WindowSamples[raw]; ok {
		return n, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: window %q, want a sample count or 30s/1m/5m/15m", model.ErrInvalidArgument, raw)
	}
	return n, nil
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := motorParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	metric, err := model.ParseMetric(r.PathValue("metric"))
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := windowParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if limit := a.Store.HistoryCapacity(); n > limit {
		writeError(w, fmt.Errorf("%w: window %d exceeds history capacity %d", model.ErrInvalidArgument, n, limit))
		return
	}
	seq, err := a.Store.History(id, metric, n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"motor":  id,
		"metric": metric,
		"window": n,
		"values": slices.Collect(seq),
	})
}

func (a *App) handleLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: limit %q", model.ErrInvalidArgument, raw))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, a.Store.Log(limit))
}

type commandResponse struct {
	Motor   *motorView    `json:"motor,omitempty"`
	Pending bool          `json:"pending"`
	Result  *model.Result `json:"result,omitempty"`
}

// respond answers a dispatched command. With ?wait=true it blocks for the device
// outcome; otherwise it returns the optimistic state right away.
func (a *App) respond(w http.ResponseWriter, r *http.Request, p *dispatch.Pending, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	id := p.Command().Motor
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		m, _ := a.Store.Motor(id)
		v := a.view(m)
		writeJSON(w, http.StatusAccepted, commandResponse{Motor: &v, Pending: true})
		return
	}

	res, err := p.Wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	m, _ := a.Store.Motor(id)
	v := a.view(m)
	status := http.StatusOK
	if !res.OK() {
		status = statusFor(res.Err())
	}
	writeJSON(w, status, commandResponse{Motor: &v, Result: &res})
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := motorParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := a.Dispatcher.Start(r.Context(), id)
	a.respond(w, r, p, err)
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	id, err := motorParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := a.Dispatcher.Stop(r.Context(), id)
	a.respond(w, r, p, err)
}

func (a *App) handleSpeed(w http.ResponseWriter, r *http.Request) {
	id, err := motorParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Speed *int `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Speed == nil {
		writeError(w, fmt.Errorf(`%w: body must be {"speed": 0..255}`, model.ErrInvalidArgument))
		return
	}
	p, err := a.Dispatcher.SetSpeed(r.Context(), id, *body.Speed)
	a.respond(w, r, p, err)
}

func (a *App) handleDirection(w http.ResponseWriter, r *http.Request) {
	id, err := motorParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Direction string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", model.ErrInvalidArgument, err))
		return
	}
	dir, err := model.ParseDirection(body.Direction)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := a.Dispatcher.SetDirection(r.Context(), id, dir)
	a.respond(w, r, p, err)
}

func (a *App) handleClearJam(w http.ResponseWriter, r *http.Request) {
	id, err := motorParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.Jam.ClearJam(id); err != nil {
		writeError(w, err)
		return
	}
	m, _ := a.Store.Motor(id)
	writeJSON(w, http.StatusOK, a.view(m))
}

func (a *App) handleAux(w http.ResponseWriter, r *http.Request) {
	tok, err := model.ParseAuxToken(r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	id := model.MotorA
	if raw := r.URL.Query().Get("motor"); raw != "" {
		if id, err = model.ParseMotorID(raw); err != nil {
			writeError(w, err)
			return
		}
	}
	p, err := a.Dispatcher.SendCommand(r.Context(), tok, id)
	a.respond(w, r, p, err)
}

// Composite operations outlive the request: a client hanging up must not abort a
// half-applied mode switch.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (a *App) handleMode(w http.ResponseWriter, r *http.Request) {
	if err := a.Orchestrator.SetPowerMode(detached(r), r.PathValue("mode")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": a.Orchestrator.Mode()})
}

func (a *App) handleStartBoth(w http.ResponseWriter, r *http.Request) {
	if err := a.Orchestrator.StartBoth(detached(r)); err != nil {
		writeError(w, err)
		return
	}
	a.handleMotors(w, r)
}

func (a *App) handleStopBoth(w http.ResponseWriter, r *http.Request) {
	if err := a.Orchestrator.StopBoth(detached(r)); err != nil {
		writeError(w, err)
		return
	}
	a.handleMotors(w, r)
}

func (a *App) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	results, err := a.Orchestrator.EmergencyStop(detached(r))
	body := map[string]any{"results": results, "coolingDown": a.Orchestrator.CoolingDown()}
	if err != nil {
		body["error"] = err.Error()
		writeJSON(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
