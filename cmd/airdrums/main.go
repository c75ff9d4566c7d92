package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayusman/airdrums/internal/capture"
	"github.com/ayusman/airdrums/internal/config"
	"github.com/ayusman/airdrums/internal/engine"
	"github.com/ayusman/airdrums/internal/input"
	"github.com/ayusman/airdrums/internal/overlay"
	"github.com/ayusman/airdrums/internal/server"
	"github.com/ayusman/airdrums/internal/soundkit"
	"github.com/ayusman/airdrums/internal/store"
	"github.com/ayusman/airdrums/internal/tray"
)

func main() {
	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	path, _ := fs.GetString("config")

	settings, err := config.Load(path, fs)
	if err == nil {
		err = settings.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "airdrums: %v\n", err)
		os.Exit(2)
	}

	log := newLogger(settings.Log.Level)
	log.Info().Msg("Air Drums - color marker drum kit")

	if err := run(settings, log); err != nil {
		log.Fatal().Err(err).Msg("session failed")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

func run(settings config.Settings, log zerolog.Logger) error {
	st, err := store.New(settings.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ids, err := settings.MarkerIDs()
	if err != nil {
		return err
	}
	zones, err := settings.ZoneMap()
	if err != nil {
		return err
	}
	calib, err := settings.CalibrateConfig()
	if err != nil {
		return err
	}

	opts := settings.CaptureOptions()
	var source capture.Source
	if settings.Camera.File != "" {
		source = capture.NewFile(settings.Camera.File, opts)
	} else {
		source = capture.NewCamera(settings.Camera.Device, opts)
	}

	var audio engine.AudioSink
	player, err := newPlayer(settings, log)
	if err != nil {
		log.Warn().Err(err).Str("kit", settings.Sound.Kit).Msg("no drum kit, running silent")
	} else {
		audio = player
		defer func() {
			player.Close()
			played, dropped, failed := player.Stats()
			log.Info().Int64("played", played).Int64("dropped", dropped).Int64("failed", failed).Msg("audio")
		}()
	}

	sessionID := uuid.NewString()
	recorder := store.NewHitRecorder(st.Hits(), sessionID, 256, log)
	defer func() {
		recorder.Close()
		log.Info().Int64("written", recorder.Written()).Int64("dropped", recorder.Dropped()).Msg("hits")
	}()

	queue := input.NewQueue()
	renderer := overlay.New(overlay.Config{Logger: log})
	defer renderer.Close()

	var menu *tray.Tray
	hits := engine.HitSink(recorder)
	if settings.Tray {
		menu = tray.New(queue)
		hits = engine.MultiHitSink(recorder, menu)
	}

	eng, err := engine.New(engine.Config{
		Source:      source,
		Input:       queue,
		Markers:     ids,
		Zones:       zones,
		Calibration: calib,
		Saved:       settings.SavedModels(),
		SkipIfSaved: settings.Calibration.SkipIfSaved && !settings.Recalibrate,
		Locate:      settings.LocateConfig(),
		Track:       settings.TrackConfig(),
		Strike:      settings.StrikeConfig(),
		Audio:       audio,
		Render:      renderer,
		Hits:        hits,
		Models:      st.ColorModels(),
		Sessions:    st.Sessions(),
		SessionID:   sessionID,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := input.ReadKeys(ctx, os.Stdin, queue); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Msg("stdin closed")
		}
	}()

	if settings.Server.Enabled {
		srv := server.New(server.Config{
			StaticDir: findWebDir(),
			Store:     st,
			Frames:    renderer,
			Snapshots: renderer,
			Input:     queue,
			Zones:     engine.ZoneViews(zones),
			Logger:    log,
		})
		go func() {
			log.Info().Str("addr", settings.Server.Addr).Msg("starting server")
			if err := srv.Run(ctx, settings.Server.Addr); err != nil {
				log.Error().Err(err).Msg("server failed")
			}
		}()
	}

	log.Info().Str("session", eng.SessionID()).Int("markers", len(ids)).Int("zones", zones.Len()).Msg("session starting")

	type result struct {
		reason engine.StopReason
		err    error
	}
	done := make(chan result, 1)
	go func() {
		reason, err := eng.Run(ctx)
		done <- result{reason, err}
	}()

	if menu != nil {
		menu.OnOpen(func() { openBrowser(viewerURL(settings.Server.Addr), log) })
		menu.OnExit(stop)
		go func() {
			res := <-done
			done <- res
			menu.Quit()
		}()
		menu.Run()
	}

	res := <-done
	log.Info().Str("reason", string(res.reason)).Msg("session ended")
	return res.err
}

func newPlayer(settings config.Settings, log zerolog.Logger) (*soundkit.Player, error) {
	mgr := soundkit.NewManager(settings.Sound.KitsDir)
	if err := mgr.Discover(); err != nil {
		return nil, err
	}
	kit, err := mgr.Get(settings.Sound.Kit)
	if err != nil {
		return nil, err
	}
	cfg := soundkit.DefaultPlayerConfig()
	cfg.Workers = settings.Sound.Workers
	cfg.Queue = settings.Sound.Queue
	cfg.Timeout = settings.Sound.Timeout
	cfg.Logger = log
	return soundkit.NewPlayer(kit, cfg), nil
}

func viewerURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string, log zerolog.Logger) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to open browser")
		return
	}
	go cmd.Wait()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.airdrums/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".airdrums", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
