package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/creatorpass/creatorpass/internal/playback"
)

func runPlay(ctx context.Context, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errUsage
	}
	mediaID := args[0]

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	startMetrics(metricsCtx, slog.Default())

	manifestTimeout := getEnvDuration("CREATORPASS_MANIFEST_TIMEOUT", playback.DefaultManifestTimeout)
	resolver := playback.NewCredentialResolver(newAPIClient(), getEnvDuration("CREATORPASS_RESOLVE_TIMEOUT", playback.DefaultResolveTimeout))
	session := playback.NewSession(mediaID, resolver, engineProvider(manifestTimeout),
		playback.WithManifestTimeout(manifestTimeout))
	defer session.Close()

	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	st := session.Play(ctx)
	for {
		printStatus(mediaID, st)
		switch st.State {
		case playback.StateIdle:
			return nil
		case playback.StateError:
			if st.ShowUpsell() {
				fmt.Println("Subscribe to the creator to unlock this video.")
			}
			return fmt.Errorf("play %s: %s", mediaID, st.Kind)
		}

		select {
		case _, ok := <-updates:
			if !ok {
				return nil
			}
			st = session.Status()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// engineProvider configures engine selection from the environment. The
// adaptive engine is always available in process; CREATORPASS_USER_AGENT
// narrows capabilities to what that browser would offer.
func engineProvider(manifestTimeout time.Duration) playback.EngineProvider {
	caps := playback.Capabilities{Adaptive: true, NativeHLS: true}
	if ua := os.Getenv("CREATORPASS_USER_AGENT"); ua != "" {
		caps = playback.DetectCapabilities(ua)
	}

	var surface playback.Surface = &playback.DiscardSurface{}
	if dir := os.Getenv("CREATORPASS_OUTPUT_DIR"); dir != "" {
		surface = playback.DirSurface{Dir: dir}
	}

	provider := playback.EngineProvider{
		Capabilities: caps,
		NewAdaptive: func() playback.Engine {
			return playback.NewAdaptiveEngine(playback.AdaptiveConfig{
				Surface:         surface,
				MaxBandwidth:    int(getEnvInt64("CREATORPASS_MAX_BANDWIDTH", 0)),
				ManifestTimeout: manifestTimeout,
			})
		},
	}
	if fields := strings.Fields(os.Getenv("CREATORPASS_NATIVE_PLAYER")); len(fields) > 0 {
		provider.Native = playback.NewExecPlayer(fields[0], fields[1:]...)
	}
	return provider
}

func printStatus(mediaID string, st playback.Status) {
	if st.Message != "" {
		fmt.Printf("%s: %s (%s)\n", mediaID, st.State, st.Message)
		return
	}
	fmt.Printf("%s: %s\n", mediaID, st.State)
}
