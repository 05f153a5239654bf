package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/dispatchradio/internal/dispatch/domain"
	"github.com/example/dispatchradio/internal/dispatch/fanout"
	"github.com/example/dispatchradio/internal/dispatch/handler"
	"github.com/example/dispatchradio/internal/dispatch/service"
)

func TestSnapshotEndpoints(t *testing.T) {
	engine := service.New(fanout.NewHub(), nil, nil, nil, nil)
	ctx := context.Background()
	engine.Connect(ctx, &recorder{id: "A"})
	engine.RegisterDriver(ctx, "A", "TX-01", "Ana")
	svc, err := engine.AssignService(ctx, "D", "A", "Main St 1")
	require.NoError(t, err)

	router := handler.NewHTTP(engine, http.NotFoundHandler(), nil).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/roster", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var roster map[string]domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roster))
	require.Equal(t, domain.AvailabilityBusy, roster["A"].Availability)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/services", nil))
	var services []domain.Service
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &services))
	require.Len(t, services, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/services/"+strconv.FormatInt(svc.ID, 10), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/services/1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/services/abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channel", nil))
	require.JSONEq(t, `{"free":true,"holder":null}`, rec.Body.String())

	engine.RequestChannel(ctx, service.ChannelRequest{ConnectionID: "A", Role: domain.RoleDriver})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channel", nil))
	var channel struct {
		Free   bool                 `json:"free"`
		Holder domain.ChannelHolder `json:"holder"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &channel))
	require.False(t, channel.Free)
	require.Equal(t, "TX-01", channel.Holder.DriverCode)
}

func TestHandshakeMiddlewareWrapsWebSocketRoute(t *testing.T) {
	engine := service.New(fanout.NewHub(), nil, nil, nil, nil)
	blocked := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	router := handler.NewHTTP(engine, http.NotFoundHandler(), blocked).Router()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
