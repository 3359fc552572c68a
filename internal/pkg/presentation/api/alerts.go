package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/alerts"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

func listAlertsHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "list-alerts")
		defer span.End()

		limit := queryInt(r, "limit", 50, 1, 1000)
		unackOnly := r.URL.Query().Get("unacknowledged_only") == "true"

		result, err := svc.GetAlerts(ctx, limit, unackOnly)
		if err != nil {
			log.Error().Err(err).Msg("unable to fetch alerts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func getAlertHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "get-alert")
		defer span.End()

		alertID, ok := uintParam(r, "alertID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid alert id")
			return
		}

		alert, err := svc.GetAlertByID(ctx, alertID)
		if errors.Is(err, database.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to fetch alert")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, alert)
	}
}

func listDeviceAlertsHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "list-device-alerts")
		defer span.End()

		deviceID := chi.URLParam(r, "deviceID")
		limit := queryInt(r, "limit", 20, 1, 1000)

		result, err := svc.GetAlertsByDeviceID(ctx, deviceID, limit)
		if errors.Is(err, database.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to fetch device alerts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func acknowledgeAlertHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "acknowledge-alert")
		defer span.End()

		alertID, ok := uintParam(r, "alertID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid alert id")
			return
		}

		alert, err := svc.Acknowledge(ctx, alertID)
		if errors.Is(err, database.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to acknowledge alert")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, alert)
	}
}

func acknowledgeAllHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "acknowledge-all-alerts")
		defer span.End()

		count, err := svc.AcknowledgeAll(ctx)
		if err != nil {
			log.Error().Err(err).Msg("unable to acknowledge alerts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int64{"acknowledged": count})
	}
}

func clearAcknowledgedHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "clear-acknowledged-alerts")
		defer span.End()

		count, err := svc.ClearAcknowledged(ctx)
		if err != nil {
			log.Error().Err(err).Msg("unable to delete acknowledged alerts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int64{"deleted": count})
	}
}

func deleteAllAlertsHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "delete-all-alerts")
		defer span.End()

		count, err := svc.DeleteAll(ctx)
		if err != nil {
			log.Error().Err(err).Msg("unable to delete alerts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int64{"deleted": count})
	}
}

func listRulesHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "list-rules")
		defer span.End()

		deviceID := chi.URLParam(r, "deviceID")

		rules, err := svc.GetRules(ctx, deviceID)
		if errors.Is(err, database.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to fetch rules")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, rules)
	}
}

func createRuleHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "create-rule")
		defer span.End()

		defer r.Body.Close()

		deviceID := chi.URLParam(r, "deviceID")

		body := struct {
			TempMin *float64 `json:"temp_min"`
			TempMax *float64 `json:"temp_max"`
			Active  *bool    `json:"active"`
		}{}

		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rule := types.AlertRule{
			TempMin: alerts.DefaultTempMin,
			TempMax: alerts.DefaultTempMax,
			Active:  true,
		}
		if body.TempMin != nil {
			rule.TempMin = *body.TempMin
		}
		if body.TempMax != nil {
			rule.TempMax = *body.TempMax
		}
		if body.Active != nil {
			rule.Active = *body.Active
		}

		created, err := svc.CreateRule(ctx, deviceID, rule)
		if errors.Is(err, alerts.ErrInvalidRange) {
			writeError(w, http.StatusBadRequest, "temp_min must be less than temp_max")
			return
		}
		if errors.Is(err, database.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to create rule")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, created)
	}
}

func deleteRuleHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "delete-rule")
		defer span.End()

		deviceID := chi.URLParam(r, "deviceID")

		ruleID, ok := uintParam(r, "ruleID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid rule id")
			return
		}

		err := svc.DeleteRule(ctx, deviceID, ruleID)
		if errors.Is(err, database.ErrDeviceNotFound) || errors.Is(err, database.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to delete rule")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func uintParam(r *http.Request, name string) (uint, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}
