package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voice-server-go/internal/bootstrap"
	"voice-server-go/internal/domain/call"
)

type callFlags struct {
	in           string
	out          string
	rate         int
	duration     time.Duration
	contribution string
	character    string
	voice        string
	instruction  string
}

var callOpts callFlags

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Hold a live call with the model using WAV files as microphone and speaker",
	Long: `call replays --in as the microphone in real time and records everything
the model says into --out. The call hangs up after --duration or on Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runCall,
}

func init() {
	f := callCmd.Flags()
	f.StringVarP(&callOpts.in, "in", "i", "", "WAV file used as the microphone")
	f.StringVarP(&callOpts.out, "out", "o", "call.wav", "WAV file the model's speech is recorded to")
	f.IntVar(&callOpts.rate, "rate", call.DefaultInboundRate, "playback sample rate")
	f.DurationVar(&callOpts.duration, "duration", 30*time.Second, "hang up after this long")
	f.StringVar(&callOpts.contribution, "contribution", "", "contribution id usage is credited to")
	f.StringVar(&callOpts.character, "character", "", "character id")
	f.StringVar(&callOpts.voice, "voice", "", "prebuilt voice name")
	f.StringVar(&callOpts.instruction, "instruction", "", "system instruction for the model")
	_ = callCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, _ []string) error {
	app, err := bootstrap.Prepare(cmd.Context(), options())
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Credentials() == nil {
		return fmt.Errorf("live calls need call.credential_url or call.jwt_secret")
	}

	capture, err := call.OpenWAVCapture(callOpts.in, true)
	if err != nil {
		return err
	}
	sink := call.NewWAVSink(callOpts.out, callOpts.rate, 0)

	cfg := app.CallConfig()
	cfg.ContributionID = callOpts.contribution
	cfg.CharacterID = callOpts.character
	cfg.SystemInstruction = callOpts.instruction
	cfg.InboundRate = callOpts.rate
	if callOpts.voice != "" {
		cfg.VoiceName = callOpts.voice
	}

	session, err := call.NewSession(cfg, call.Deps{
		Credentials: app.Credentials(),
		Dialer:      app.Dialer(),
		Capture:     capture,
		Playback:    sink,
		Usage:       app.Usage(),
		Metrics:     app.Metrics(),
		Logger:      app.Logger(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for change := range session.Events() {
			fmt.Fprintf(cmd.ErrOrStderr(), "call %s: %s -> %s\n", session.ID(), change.From, change.To)
		}
	}()

	if err := session.Start(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(callOpts.duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-session.Done():
	}

	hangupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = session.Hangup(hangupCtx)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: heard %.1fs, sent %d frames\n", callOpts.out, session.HeardSeconds(), session.FramesSent())
	return err
}
