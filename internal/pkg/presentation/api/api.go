package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/alerts"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/broadcast"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/devicemanagement"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/presentation/api/auth"
	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

var tracer = otel.Tracer("incubator-mgmt/api")

func RegisterHandlers(log zerolog.Logger, router *chi.Mux, tokenAuth *jwtauth.JWTAuth, svc devicemanagement.DeviceManagement, alertSvc alerts.AlertService, registry *broadcast.Registry) *chi.Mux {

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	requireToken := auth.RequireToken(tokenAuth)

	router.Route("/api/v0", func(r chi.Router) {
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", listDevicesHandler(log, svc))
			r.Get("/{deviceID}", getDeviceHandler(log, svc))
			r.Get("/{deviceID}/telemetry", getTelemetryHandler(log, svc))
			r.Get("/{deviceID}/rules", listRulesHandler(log, alertSvc))
			r.Get("/{deviceID}/alerts", listDeviceAlertsHandler(log, alertSvc))

			r.Group(func(r chi.Router) {
				r.Use(requireToken)
				r.Post("/", createDeviceHandler(log, svc))
				r.Patch("/{deviceID}", patchDeviceHandler(log, svc))
				r.Delete("/{deviceID}", deleteDeviceHandler(log, svc))
				r.Post("/{deviceID}/rules", createRuleHandler(log, alertSvc))
				r.Delete("/{deviceID}/rules/{ruleID}", deleteRuleHandler(log, alertSvc))
			})
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", listAlertsHandler(log, alertSvc))
			r.Get("/{alertID}", getAlertHandler(log, alertSvc))
			r.Patch("/{alertID}/acknowledge", acknowledgeAlertHandler(log, alertSvc))
			r.Patch("/acknowledge-all", acknowledgeAllHandler(log, alertSvc))

			r.Group(func(r chi.Router) {
				r.Use(requireToken)
				r.Delete("/acknowledged", clearAcknowledgedHandler(log, alertSvc))
				r.Delete("/", deleteAllAlertsHandler(log, alertSvc))
			})
		})

		r.Get("/ws/{deviceID}", websocketHandler(log, registry))
	})

	return router
}

func listDevicesHandler(log zerolog.Logger, svc devicemanagement.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "list-devices")
		defer span.End()

		devices, err := svc.GetDevices(ctx)
		if err != nil {
			log.Error().Err(err).Msg("unable to fetch devices")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, devices)
	}
}

func getDeviceHandler(log zerolog.Logger, svc devicemanagement.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "get-device")
		defer span.End()

		deviceID := chi.URLParam(r, "deviceID")

		device, err := svc.GetDeviceByDeviceID(ctx, deviceID)
		if errors.Is(err, database.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to fetch device")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, device)
	}
}

func createDeviceHandler(log zerolog.Logger, svc devicemanagement.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "create-device")
		defer span.End()

		defer r.Body.Close()

		var d types.Device
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if d.DeviceID == "" || d.Name == "" {
			writeError(w, http.StatusBadRequest, "device_id and name are required")
			return
		}

		created, err := svc.CreateDevice(ctx, d)
		if errors.Is(err, database.ErrDeviceAlreadyExists) {
			writeError(w, http.StatusBadRequest, "device with this device_id already exists")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to create device")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, created)
	}
}

func patchDeviceHandler(log zerolog.Logger, svc devicemanagement.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "patch-device")
		defer span.End()

		defer r.Body.Close()

		deviceID := chi.URLParam(r, "deviceID")

		var update devicemanagement.DeviceUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		device, err := svc.UpdateDevice(ctx, deviceID, update)
		if errors.Is(err, database.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to update device")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, device)
	}
}

func deleteDeviceHandler(log zerolog.Logger, svc devicemanagement.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "delete-device")
		defer span.End()

		deviceID := chi.URLParam(r, "deviceID")

		err := svc.DeleteDevice(ctx, deviceID)
		if errors.Is(err, database.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to delete device")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getTelemetryHandler(log zerolog.Logger, svc devicemanagement.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "get-telemetry")
		defer span.End()

		deviceID := chi.URLParam(r, "deviceID")
		hours := queryInt(r, "hours", 24, 1, 168)
		limit := queryInt(r, "limit", 1000, 1, 10000)

		history, err := svc.GetTelemetry(ctx, deviceID, hours, limit)
		if errors.Is(err, database.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to fetch telemetry")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, history)
	}
}

func queryInt(r *http.Request, name string, def, min, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return def
	}
	if n > max {
		return max
	}

	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
