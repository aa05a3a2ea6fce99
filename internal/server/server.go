package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/table-talk25/TableTalk-app-sub000/internal/api"
	"github.com/table-talk25/TableTalk-app-sub000/internal/engine"
	"github.com/table-talk25/TableTalk-app-sub000/internal/router"
	"github.com/table-talk25/TableTalk-app-sub000/internal/server/middleware"
	"github.com/table-talk25/TableTalk-app-sub000/internal/store"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/config"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/state/statemanager"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/transport"
)

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	eventRouter  *router.EventRouter
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

// NewApp wires the relay. The store stays owned by the caller.
func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st store.Store, clk clock.Clock) (*App, error) {
	stateManager := statemanager.NewInMemoryManager(logger, statemanager.WithClock(clk))
	registry := engine.New(logger, engine.Options{Store: st, Clock: clk})
	if err := config.CompilePipelines(cfg, registry.GetActionFunc, registry.GetModifierFunc); err != nil {
		return nil, fmt.Errorf("failed to compile event pipelines: %w", err)
	}
	eventRouter := router.NewEventRouter(logger, stateManager, cfg.Pipelines, registry)

	app := &App{
		logger:       logger.With(slog.String("component", "server")),
		stateManager: stateManager,
		eventRouter:  eventRouter,
		config:       cfg,
		ctx:          rootCtx,
	}

	connCounter := middleware.UserConnectionCounter(stateManager.GetUserConnectionCount)
	// Create a cycler function that closes over the stateManager and logger.
	connCycler := func(userID string) {
		oldest, found := stateManager.FindOldestUserConnection(userID)
		if found {
			app.logger.Info("Cycling connection: closing oldest", slog.String("userID", userID), slog.String("connID", oldest.ID.String()))
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}
	permCompiler := middleware.PermissionCompiler(config.CompilePermissions)
	auth := middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret, permCompiler)

	mux := chi.NewRouter()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			auth,
			middleware.NewConnectionLimiter(
				logger,
				connCounter,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	mux.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequestMetadataMiddleware(), middleware.NewRequestLogger(logger), auth)
		api.New(st, app, logger).RegisterRoutes(r)
	})
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app, nil
}

// Handler exposes the routes, mainly for httptest servers.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			errCh <- err
		}
	}()

	select {
	case <-a.ctx.Done():
	case err := <-errCh:
		return err
	}
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	// register new connection
	stateConn, err := a.stateManager.RegisterConnection(conn, reqMeta.IP)
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	// associate the authenticated user with the registered connection.
	if _, err := a.stateManager.AssociateUser(stateConn.ID, reqMeta.UserID, reqMeta.DisplayName, reqMeta.GlobalPermissions); err != nil {
		connLogger.Error("Failed to associate user with connection", slog.Any("error", err))
		a.stateManager.DeregisterConnection(stateConn.ID)
		conn.Close(err)
		return
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		if dErr := a.stateManager.DeregisterConnection(id); dErr != nil {
			connLogger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
		}
	})

	hello, err := protocol.Encode(protocol.EventSession, protocol.SessionInfo{SocketID: conn.ID().String(), UserID: reqMeta.UserID})
	if err == nil {
		err = conn.Send(hello)
	}
	if err != nil {
		connLogger.Error("Failed to send session event", slog.Any("error", err))
	}

	connLogger.Info("User connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// PushNotification delivers new_notification to every live connection of
// userID. Offline users get it from the REST list later.
func (a *App) PushNotification(userID string, n protocol.Notification) {
	frame, err := protocol.Encode(protocol.EventNewNotification, n)
	if err != nil {
		a.logger.Error("Failed to encode notification", slog.Any("error", err))
		return
	}
	conns, err := engine.ConnectionsFor(a.stateManager, engine.UserRoom(userID), "", a.logger)
	if err != nil {
		a.logger.Debug("Notification recipient is offline", slog.String("userID", userID))
		return
	}
	for _, conn := range conns {
		if err := conn.Send(frame); err != nil {
			a.logger.Debug("Dropped notification for closed connection", slog.String("connID", conn.ID().String()))
		}
	}
}

func (a *App) LeaveRoom(userID, chatID string) {
	if err := a.stateManager.Leave(userID, chatID); err != nil {
		a.logger.Warn("Failed to drop user from room", slog.String("userID", userID), slog.String("chatID", chatID), slog.Any("error", err))
	}
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.CloseConnections()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

// CloseConnections closes every live WebSocket and waits for their
// cleanup. Hijacked connections are not covered by http.Server.Shutdown.
func (a *App) CloseConnections() {
	a.logger.Info("Closing all active connections...")
	allUsers, err := a.stateManager.GetAllUsers()
	if err != nil {
		a.logger.Error("Failed to list users", slog.Any("error", err))
	}
	var conns []*transport.Connection
	for _, user := range allUsers {
		userConns, err := a.stateManager.GetUserConnections(user.ID)
		if err != nil {
			continue
		}
		conns = append(conns, userConns...)
	}
	for _, conn := range conns {
		conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
}
