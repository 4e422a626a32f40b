package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// outboxSize covers a burst of ticks plus the terminal events.
const outboxSize = 128

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// TestCatalog resolves the test a learner is about to take.
type TestCatalog interface {
	Definition(ctx context.Context, courseID, testID string) (*model.TestDefinition, error)
}

// WalletDirectory looks up the wallet stored on a learner profile.
type WalletDirectory interface {
	WalletAddress(ctx context.Context, studentID string) (string, error)
}

// ProctorHandler hosts one proctored session per WebSocket connection.
type ProctorHandler struct {
	tests        TestCatalog
	registry     *proctor.Registry
	backend      proctor.Backend
	attempts     proctor.AttemptStore
	wallets      WalletDirectory
	cfg          config.ProctorConfig
	pollInterval time.Duration
	clock        proctor.Clock
	log          zerolog.Logger
	upgrader     websocket.Upgrader
}

// NewProctorHandler creates a new ProctorHandler. attempts and wallets may be nil.
func NewProctorHandler(
	tests TestCatalog,
	registry *proctor.Registry,
	backend proctor.Backend,
	attempts proctor.AttemptStore,
	wallets WalletDirectory,
	cfg *config.Config,
	log zerolog.Logger,
) *ProctorHandler {
	return &ProctorHandler{
		tests:        tests,
		registry:     registry,
		backend:      backend,
		attempts:     attempts,
		wallets:      wallets,
		cfg:          cfg.Proctor,
		pollInterval: cfg.BlockPollInterval,
		clock:        proctor.SystemClock(),
		log:          log.With().Str("component", "proctor_handler").Logger(),
		upgrader:     buildUpgrader(cfg.AllowedOrigins),
	}
}

// ProctorStream godoc
// WS /ws/v1/learner/courses/:course_id/tests/:test_id/proctor
// Arms a proctored attempt and relays browser signals to it until the
// session tears down or the connection drops.
func (h *ProctorHandler) ProctorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	courseID, testID := c.Param("course_id"), c.Param("test_id")

	def, err := h.tests.Definition(c.Request.Context(), courseID, testID)
	switch {
	case errors.Is(err, service.ErrTestNotFound), errors.Is(err, service.ErrTestMismatch):
		response.Fail(c, http.StatusNotFound, response.ErrTestNotFound)
		return
	case errors.Is(err, service.ErrTestNoQuestion):
		response.Fail(c, http.StatusConflict, response.ErrTestUnavailable)
		return
	case err != nil:
		h.log.Error().Err(err).Str("test_id", testID).Msg("Load test definition failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	studentID := claims.UserID
	wsLog := h.log.With().
		Str("student_id", studentID).
		Str("course_id", courseID).
		Str("test_id", testID).
		Logger()

	outbox := ws.NewOutbox(conn, outboxSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := outbox.Run(ctx); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			wsLog.Debug().Err(err).Msg("Writer stopped")
		}
		conn.Close()
	}()
	finish := func() {
		outbox.Close()
		<-writerDone
	}

	ctrl := proctor.NewController(studentID, h.cfg, proctor.Deps{
		Backend:  h.backend,
		Attempts: h.attempts,
		Notifier: proctor.NotifierFunc(func(ev model.ProctorEvent) { outbox.Send(ev) }),
		Wallet:   h.walletResolver(c, claims, wsLog),
		Clock:    h.clock,
		Log:      wsLog,
	})

	if err := h.registry.Register(ctx, ctrl, time.Duration(def.DurationMinutes)*time.Minute); err != nil {
		sendError(outbox, err)
		finish()
		return
	}
	if err := ctrl.Arm(ctx, def); err != nil {
		var blocked *proctor.BlockedError
		if errors.As(err, &blocked) {
			outbox.Send(model.ProctorEvent{
				Type: model.EventBlockStatus,
				Data: model.BlockStatusData{Blocked: true, Count: blocked.Count, Source: proctor.BlockSourceBackend},
			})
		}
		sendError(outbox, err)
		ctrl.Close()
		finish()
		return
	}

	wsLog.Info().Str("session_id", ctrl.ID()).Msg("Learner connected")

	gate := proctor.NewBlockGate(h.backend, h.cfg.ReportTimeout, h.clock, wsLog)
	go gate.Watch(ctx, ctrl.Block(), h.pollInterval, func(st proctor.BlockState) {
		outbox.Send(model.ProctorEvent{
			Type: model.EventBlockStatus,
			Data: model.BlockStatusData{Blocked: st.Blocked, Count: st.Count, Source: st.Source},
		})
	})

	// The connection ends with the session.
	go func() {
		select {
		case <-ctrl.Done():
			outbox.Close()
		case <-ctx.Done():
		}
	}()

	ws.PrepareRead(conn)
	for {
		action, raw, err := ws.ReadMessage(conn)
		if err != nil {
			if raw != nil {
				outbox.Send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "malformed message"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		if h.dispatch(ctx, ctrl, outbox, action, raw) {
			break
		}
	}

	// A dropped connection closes the attempt and keeps its elapsed time.
	if err := ctrl.Close(); err != nil {
		wsLog.Warn().Err(err).Msg("Close on disconnect failed")
	}
	finish()
	out := ctrl.Outcome()
	wsLog.Info().Str("state", string(out.State)).Int("time_spent", out.TimeSpent).Msg("Learner disconnected")
}

// dispatch applies one client action. It returns true when the connection
// should end.
func (h *ProctorHandler) dispatch(ctx context.Context, ctrl *proctor.Controller, outbox *ws.Outbox, action ws.Action, raw []byte) bool {
	now := h.clock.Now()

	switch action {
	case ws.ActionStart:
		req, ok := decode[ws.StartRequest](outbox, raw)
		if !ok {
			return false
		}
		if err := ctrl.Start(ctx, proctor.StartOptions{CameraAvailable: req.CameraAvailable}); err != nil {
			sendError(outbox, err)
		}

	case ws.ActionFrame:
		req, ok := decode[ws.FrameRequest](outbox, raw)
		if !ok {
			return false
		}
		data, contentType, err := proctor.DecodeDataURL(req.Image)
		if err != nil {
			outbox.Send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: err.Error()})
			return false
		}
		ctrl.ObserveFrame(data, contentType)

	case ws.ActionFace:
		if req, ok := decode[ws.FaceRequest](outbox, raw); ok {
			ctrl.ObserveFace(proctor.FaceSample{At: now, FaceDetected: req.FaceDetected, Yaw: req.Yaw, Pitch: req.Pitch})
		}

	case ws.ActionObjects:
		if req, ok := decode[ws.ObjectsRequest](outbox, raw); ok {
			ctrl.ObserveObjects(proctor.ObjectFrame{At: now, Detections: req.Detections})
		}

	case ws.ActionFullscreen:
		if req, ok := decode[ws.FullscreenRequest](outbox, raw); ok {
			ctrl.ObserveFullscreen(proctor.FullscreenEvent{At: now, Active: req.Active})
		}

	case ws.ActionVisibility:
		if req, ok := decode[ws.VisibilityRequest](outbox, raw); ok {
			ctrl.ObserveVisibility(proctor.VisibilityEvent{At: now, Hidden: req.Hidden})
		}

	case ws.ActionKeydown:
		if req, ok := decode[ws.KeydownRequest](outbox, raw); ok {
			ctrl.ObserveKey(proctor.KeyEvent{At: now, Key: req.Key})
		}

	case ws.ActionSignal:
		if req, ok := decode[ws.SignalRequest](outbox, raw); ok && strings.TrimSpace(req.Reason) != "" {
			ctrl.ReportSignal(req.Reason)
		}

	case ws.ActionAnswer:
		if req, ok := decode[ws.AnswerRequest](outbox, raw); ok {
			if err := ctrl.Answer(req.Index, req.Answer); err != nil {
				sendError(outbox, err)
			}
		}

	case ws.ActionNavigate:
		if req, ok := decode[ws.NavigateRequest](outbox, raw); ok {
			if err := ctrl.Navigate(req.Index); err != nil {
				sendError(outbox, err)
			}
		}

	case ws.ActionSubmit:
		if _, err := ctrl.Submit(); err != nil {
			sendError(outbox, err)
		}

	case ws.ActionClose, ws.ActionUnload:
		if err := ctrl.Close(); err != nil {
			sendError(outbox, err)
		}
		return true

	case ws.ActionPing:
		outbox.Send(ws.PongResponse{Event: ws.EventPong})

	default:
		outbox.Send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "unknown action: " + string(action)})
	}
	return false
}

// walletResolver orders the wallet sources: connected wallet, alternate
// handle, token claim, then the learner profile.
func (h *ProctorHandler) walletResolver(c *gin.Context, claims *service.Claims, log zerolog.Logger) *proctor.WalletResolver {
	sources := []proctor.WalletSource{
		proctor.StaticWallet("query", c.Query("wallet")),
		proctor.StaticWallet("alt_wallet", c.Query("alt_wallet")),
		proctor.StaticWallet("token", claims.Wallet),
	}
	if h.wallets != nil {
		studentID := claims.UserID
		sources = append(sources, proctor.WalletSource{
			Name: "profile",
			Lookup: func(ctx context.Context) (string, error) {
				return h.wallets.WalletAddress(ctx, studentID)
			},
		})
	}
	return proctor.NewWalletResolver(log, sources...)
}

func decode[T any](outbox *ws.Outbox, raw []byte) (T, bool) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		outbox.Send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "malformed message"})
		return v, false
	}
	return v, true
}

// sendError reports an engine error to the browser with a stable code.
func sendError(outbox *ws.Outbox, err error) {
	code := engineErrCode(err)
	outbox.Send(ws.ErrorResponse{Event: ws.EventError, Code: string(code), Error: response.GetMessage(code)})
}

func engineErrCode(err error) response.ErrCode {
	var blocked *proctor.BlockedError
	switch {
	case errors.As(err, &blocked):
		return response.ErrLearnerBlocked
	case errors.Is(err, proctor.ErrAlreadyPassed):
		return response.ErrAlreadyPassed
	case errors.Is(err, proctor.ErrSessionActive):
		return response.ErrSessionActive
	case errors.Is(err, proctor.ErrUnanswered):
		return response.ErrUnansweredQuestions
	case errors.Is(err, proctor.ErrQuestionIndex):
		return response.ErrValidation
	case errors.Is(err, proctor.ErrInvalidTransition), errors.Is(err, proctor.ErrSessionClosed):
		return response.ErrSessionNotRunning
	default:
		return response.ErrInternal
	}
}
