package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
	"codecollab/internal/core/services"
	"codecollab/internal/crdt"
	"codecollab/internal/infrastructure/relayclient"
	"codecollab/internal/infrastructure/repositories/memory"
	webrtcinfra "codecollab/internal/infrastructure/webrtc"
	"codecollab/pkg/config"
	"codecollab/pkg/logger"
)

// agent is a headless collaborator: it joins a room through the relay, opens
// one file and mirrors the converged text to stdout-level logging. Useful for
// soak testing a room and as a wiring reference for editor embedders.
func main() {
	var (
		relayURL = flag.String("relay", "ws://localhost:8081/ws", "relay websocket endpoint")
		roomID   = flag.String("room", "", "room to join (appended as room_id query param)")
		fileID   = flag.String("file", "", "file to open")
		token    = flag.String("token", "", "join token issued by the API server")
		name     = flag.String("name", "agent", "display name")
		color    = flag.String("color", "#8b5cf6", "cursor color")
		voice    = flag.Bool("voice", false, "join the voice overlay")
		seed     = flag.Bool("seed", false, "seed the document from the file store on open")
	)
	flag.Parse()

	cfg := config.DefaultConfig()

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *roomID == "" || *fileID == "" {
		log.Fatal("both -room and -file are required")
	}

	url := *relayURL + "?room_id=" + *roomID
	clientCfg := relayclient.DefaultConfig(url, *token)
	clientCfg.PingInterval = cfg.Relay.PingInterval
	clientCfg.PongTimeout = cfg.Relay.PongTimeout
	clientCfg.WriteTimeout = cfg.Relay.WriteTimeout
	clientCfg.MaxMessage = cfg.Relay.MaxMessageSizeBytes

	relayClient := relayclient.New(clientCfg, log)

	presence := services.NewPresenceService(relayClient, log)

	docCfg := services.DocumentConfig{
		OpFlushInterval: cfg.Collab.OpFlushInterval,
		OpBatchSize:     cfg.Collab.OpBatchSize,
		PersistDebounce: cfg.Collab.PersistDebounce,
	}
	// The agent has no file store of its own; persistence is the relay
	// deployment's job. A memory store absorbs the debounced writes.
	docs := services.NewDocumentService(relayClient, memory.NewMemoryFileRepository(), domain.RoomID(*roomID), docCfg, log)

	var voiceService *services.VoiceService
	if *voice {
		engine := webrtcinfra.NewEngine(webrtcinfra.EngineConfig{
			ICEServers: webrtcinfra.ICEServersFromConfig(cfg.WebRTC.ICEServers),
		}, log)
		voiceService = services.NewVoiceService(relayClient, presence, engine, cfg.WebRTC.ConnectTimeout, log)
	}

	session := services.NewSessionService(relayClient, presence, docs, voiceService, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relayClient.OnStatus(func(status ports.ConnStatus) {
		log.Infow("relay status changed", "status", status)
	})

	if err := session.Join(ctx, services.Identity{Name: *name, Color: *color}); err != nil {
		log.Fatalw("failed to join room", "room", *roomID, "error", err)
	}
	log.Infow("joined room", "room", *roomID, "client_id", session.ClientID())

	presence.OnChange(func(entries map[domain.ClientID]domain.PresenceEntry) {
		for id, e := range entries {
			log.Debugw("presence", "client", id, "name", e.Name, "muted", e.Muted)
		}
	})

	if err := docs.Open(ctx, domain.FileID(*fileID), *seed); err != nil {
		log.Fatalw("failed to open file", "file", *fileID, "error", err)
	}
	if _, err := docs.OnRemotePatch(domain.FileID(*fileID), func(patches []crdt.Patch) {
		log.Debugw("remote edit", "file", *fileID, "patches", len(patches))
	}); err != nil {
		log.Fatalw("failed to subscribe to remote edits", "error", err)
	}

	if voiceService != nil {
		if err := voiceService.Join(ctx); err != nil {
			log.Errorw("failed to join voice, continuing without it", "error", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infow("shutting down", "signal", sig)

	if err := session.Leave(); err != nil {
		log.Errorw("error leaving session", "error", err)
	}
}
