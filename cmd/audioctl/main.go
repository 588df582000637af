// Package main provides the command-line client for the audio server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/audiopro/internal/api/connect"
)

var (
	app    = kingpin.New("audioctl", "audiopro command-line client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Server token").Envar("AUDIOPRO_TOKEN").String()

	playCmd      = app.Command("play", "Play a track")
	playURL      = playCmd.Arg("url", "Track URL or absolute file path").Required().String()
	playTitle    = playCmd.Flag("title", "Track title").String()
	playArtist   = playCmd.Flag("artist", "Track artist").String()
	playStart    = playCmd.Flag("start", "Start position in milliseconds").Int64()
	playNoAuto   = playCmd.Flag("no-autoplay", "Load the track paused").Bool()
	playHeaders  = playCmd.Flag("header", "Request header (repeatable)").StringMap()
	playCacheOpt = playCmd.Flag("cache", "Cache policy").Default("default").Enum("default", "none", "force")

	pauseCmd  = app.Command("pause", "Pause playback")
	resumeCmd = app.Command("resume", "Resume playback")
	stopCmd   = app.Command("stop", "Stop playback")
	clearCmd  = app.Command("clear", "Release the current session")

	seekCmd      = app.Command("seek", "Seek to a position")
	seekPosition = seekCmd.Arg("position-ms", "Position in milliseconds").Required().Int64()
	forwardCmd   = app.Command("forward", "Seek forward")
	forwardMs    = forwardCmd.Arg("amount-ms", "Amount in milliseconds").Default("15000").Int64()
	backCmd      = app.Command("back", "Seek back")
	backMs       = backCmd.Arg("amount-ms", "Amount in milliseconds").Default("15000").Int64()

	speedCmd   = app.Command("speed", "Set playback speed")
	speedValue = speedCmd.Arg("speed", "Speed multiplier").Required().Float64()
	volumeCmd  = app.Command("volume", "Set volume")
	volumeVal  = volumeCmd.Arg("volume", "Volume between 0 and 1").Required().Float64()

	remoteCmd      = app.Command("remote", "Send a remote-control command")
	remoteCommand  = remoteCmd.Arg("command", "Command").Required().Enum("next", "prev", "play", "pause", "seek")
	remotePosition = remoteCmd.Arg("position-ms", "Position for seek").Int64()

	ambientCmd        = app.Command("ambient", "Control the ambient sound")
	ambientPlayCmd    = ambientCmd.Command("play", "Play an ambient sound")
	ambientURL        = ambientPlayCmd.Arg("url", "Sound URL or absolute file path").Required().String()
	ambientOnce       = ambientPlayCmd.Flag("once", "Do not loop").Bool()
	ambientPlayVolume = ambientPlayCmd.Flag("volume", "Volume between 0 and 1").Float64()
	ambientStopCmd    = ambientCmd.Command("stop", "Stop the ambient sound")
	ambientPauseCmd   = ambientCmd.Command("pause", "Pause the ambient sound")
	ambientResumeCmd  = ambientCmd.Command("resume", "Resume the ambient sound")
	ambientVolumeCmd  = ambientCmd.Command("volume", "Set the ambient volume")
	ambientVolumeVal  = ambientVolumeCmd.Arg("volume", "Volume between 0 and 1").Required().Float64()
	ambientSeekCmd    = ambientCmd.Command("seek", "Seek the ambient sound")
	ambientSeekPos    = ambientSeekCmd.Arg("position-ms", "Position in milliseconds").Required().Int64()

	stateCmd  = app.Command("state", "Show the current state")
	eventsCmd = app.Command("events", "Subscribe to events")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	var err error
	switch command {
	case playCmd.FullCommand():
		err = client.Play(ctx, trackArgs(), optionArgs())
	case pauseCmd.FullCommand():
		err = client.Pause(ctx)
	case resumeCmd.FullCommand():
		err = client.Resume(ctx)
	case stopCmd.FullCommand():
		err = client.Stop(ctx)
	case clearCmd.FullCommand():
		err = client.Clear(ctx)
	case seekCmd.FullCommand():
		err = client.SeekTo(ctx, *seekPosition)
	case forwardCmd.FullCommand():
		err = client.SeekForward(ctx, *forwardMs)
	case backCmd.FullCommand():
		err = client.SeekBack(ctx, *backMs)
	case speedCmd.FullCommand():
		err = client.SetPlaybackSpeed(ctx, *speedValue)
	case volumeCmd.FullCommand():
		err = client.SetVolume(ctx, *volumeVal)
	case remoteCmd.FullCommand():
		err = client.Remote(ctx, *remoteCommand, *remotePosition)
	case ambientPlayCmd.FullCommand():
		err = client.AmbientPlay(ctx, ambientArgs())
	case ambientStopCmd.FullCommand():
		err = client.AmbientStop(ctx)
	case ambientPauseCmd.FullCommand():
		err = client.AmbientPause(ctx)
	case ambientResumeCmd.FullCommand():
		err = client.AmbientResume(ctx)
	case ambientVolumeCmd.FullCommand():
		err = client.AmbientSetVolume(ctx, *ambientVolumeVal)
	case ambientSeekCmd.FullCommand():
		err = client.AmbientSeekTo(ctx, *ambientSeekPos)
	case stateCmd.FullCommand():
		err = showState(ctx, client)
	case eventsCmd.FullCommand():
		err = subscribe(ctx, client)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func trackArgs() map[string]any {
	t := map[string]any{"url": *playURL}
	if *playTitle != "" {
		t["title"] = *playTitle
	}
	if *playArtist != "" {
		t["artist"] = *playArtist
	}
	return t
}

func optionArgs() map[string]any {
	opts := map[string]any{
		"startPositionMs": *playStart,
		"autoPlay":        !*playNoAuto,
		"cachePolicy":     *playCacheOpt,
	}
	if len(*playHeaders) > 0 {
		headers := make(map[string]any, len(*playHeaders))
		for k, v := range *playHeaders {
			headers[k] = v
		}
		opts["headers"] = headers
	}
	return opts
}

func ambientArgs() map[string]any {
	opts := map[string]any{
		"url":  *ambientURL,
		"loop": !*ambientOnce,
	}
	if *ambientPlayVolume > 0 {
		opts["volume"] = *ambientPlayVolume
	}
	return opts
}

func showState(ctx context.Context, client *apiconnect.Client) error {
	state, err := client.State(ctx)
	if err != nil {
		return err
	}
	if main, ok := state["main"].(map[string]any); ok {
		fmt.Println("Main:")
		printFields(main, "  ")
	}
	if amb, ok := state["ambient"].(map[string]any); ok {
		fmt.Println("Ambient:")
		printFields(amb, "  ")
	}
	return nil
}

func subscribe(ctx context.Context, client *apiconnect.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Println("Subscribed to events. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nUnsubscribing...")
		cancel()
	}()

	return client.SubscribeEvents(ctx, func(msg map[string]any) error {
		printEvent(msg)
		return nil
	})
}

func printEvent(msg map[string]any) {
	fmt.Printf("\n[Sequence: %v] === %v ===", msg["sequenceNo"], msg["type"])
	if source, ok := msg["source"]; ok {
		fmt.Printf(" (%v", source)
		if trigger, ok := msg["triggerSource"]; ok {
			fmt.Printf(", %v", trigger)
		}
		fmt.Print(")")
	}
	fmt.Println()
	if payload, ok := msg["payload"].(map[string]any); ok {
		printFields(payload, "  ")
	}
}

func printFields(m map[string]any, indent string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]any:
			fmt.Printf("%s%s:\n", indent, k)
			printFields(v, indent+"  ")
		case []any:
			data, _ := json.Marshal(v)
			fmt.Printf("%s%s: %s\n", indent, k, data)
		default:
			fmt.Printf("%s%s: %v\n", indent, k, v)
		}
	}
}
