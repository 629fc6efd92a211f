package api

import (
	"errors"
	"net/http"
	"time"

	models "Rewind/internal/domain/models"
	xhttp "Rewind/pkg/http"
	xlogger "Rewind/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// StreamConfig controls how often live progress is pushed.
type StreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" default:"500ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
}

func (s *StreamConfig) normalize() {
	if s.PollInterval <= 0 {
		s.PollInterval = 500 * time.Millisecond
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 5 * time.Second
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream upgrades to a websocket and pushes a progress snapshot whenever the
// counters change, closing after the terminal snapshot. Unknown experiments
// are rejected before the upgrade.
func (h *ExperimentsHandler) Stream(c echo.Context) error {
	req := &models.ExperimentIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.runner.Progress(req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("progress stream upgrade failed", xlogger.String("experiment_id", req.ID), xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	log := h.logger.With(xlogger.String("experiment_id", req.ID))
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.stream.PollInterval)
	defer ticker.Stop()

	var last *models.ExperimentProgress
	for {
		if last == nil || changed(*last, snap) {
			if err := h.push(conn, snap); err != nil {
				log.Debug("progress stream write failed", xlogger.Error(err))
				return nil
			}
			s := snap
			last = &s
		}
		if snap.Status.IsTerminal() {
			h.closeStream(conn, "experiment "+string(snap.Status))
			return nil
		}

		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
		}

		snap, err = h.runner.Progress(req.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				h.closeStream(conn, "experiment evicted")
				return nil
			}
			log.Warn("progress stream snapshot failed", xlogger.Error(err))
			return nil
		}
	}
}

func (h *ExperimentsHandler) push(conn *websocket.Conn, snap models.ExperimentProgress) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.stream.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(snap)
}

func (h *ExperimentsHandler) closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.stream.WriteTimeout))
}

func changed(a, b models.ExperimentProgress) bool {
	return a.CompletedIntervals != b.CompletedIntervals ||
		a.FailedIntervals != b.FailedIntervals ||
		a.Status != b.Status ||
		a.Error != b.Error
}
