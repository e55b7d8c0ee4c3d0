package api

import (
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"entity-stream/bus"
	"entity-stream/domain"
	"entity-stream/history"
	"entity-stream/hub"
	"entity-stream/internal/consts"
)

// Authenticator resolves the caller's channel from the Authorization header.
type Authenticator interface {
	ChannelFromAuthHeader(string) (string, error)
}

// Register wires up all routes on the given Echo instance.
func Register(e *echo.Echo, store history.Store, h *hub.Hub, b *bus.Bus, auth Authenticator, eventsToken string, logger *log.Logger) {
	ingester := &eventIngester{bus: b, token: eventsToken}
	e.GET("/api/entity-stream", streamEntities(store, h, auth, logger))
	e.POST("/internal/events", ingester.handleEvent)
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// eventIngester accepts committed domain events from the host application
// and publishes them onto the in-process bus. Guarded by a shared bearer
// token rather than user auth: this is a service-to-service seam.
type eventIngester struct {
	bus   *bus.Bus
	token string
}

func (i *eventIngester) handleEvent(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] != i.token {
		return c.NoContent(http.StatusUnauthorized)
	}
	var ev domain.Event
	dec := sonic.ConfigStd.NewDecoder(c.Request().Body)
	if err := dec.Decode(&ev); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if ev.Entity == "" || ev.Action == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	i.bus.Publish(c.Request().Context(), ev)
	return c.NoContent(http.StatusAccepted)
}

// streamEntities serves one long-lived SSE connection: replay the channel's
// recent history oldest-first, then tail the hub filtered to that channel.
// A message published between the history read and the hub subscription may
// be delivered twice or, more rarely, missed; this window is accepted.
func streamEntities(store history.Store, h *hub.Hub, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, spanCtx := newStreamRequestMetrics(c.Request().Context(), logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
		}
		defer func() {
			metrics.EndConnect(c.Response().Status)
			metrics.Log(c.Response().Status, err)
		}()

		// EventSource clients cannot set headers, so the token may arrive as
		// a query parameter instead.
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		channel, authErr := auth.ChannelFromAuthHeader(authHeader)
		metrics.ObserveAuth()
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}
		if q := c.QueryParam("channel"); q != "" {
			channel = q
		}
		if channel == "" {
			metrics.SetErrorStage("channel")
			return c.String(http.StatusBadRequest, "no channel resolved")
		}
		metrics.SetChannel(channel)

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			metrics.SetErrorStage("flusher")
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)

		ctx := c.Request().Context()
		replayed := store.Recent(ctx, channel)
		for _, msg := range replayed {
			if writeErr := writeFrame(c, msg); writeErr != nil {
				metrics.SetErrorStage("replay_write")
				return nil
			}
		}
		if len(replayed) > 0 {
			flusher.Flush()
		}
		metrics.SetReplayed(len(replayed))
		metrics.EndConnect(http.StatusOK)

		sub := h.Subscribe()
		defer h.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-sub.C:
				if msg.TenantID != channel {
					continue
				}
				if writeErr := writeFrame(c, msg); writeErr != nil {
					metrics.SetErrorStage("live_write")
					return nil
				}
				flusher.Flush()
				metrics.AddDelivered(1)
			}
		}
	}
}

func writeFrame(c echo.Context, msg domain.CanonicalMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte(consts.SSEDataPrefix)); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	_, err = c.Response().Write([]byte("\n\n"))
	return err
}
