package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"voice-server-go/internal/bootstrap"
	"voice-server-go/internal/domain/tts"
	"voice-server-go/internal/domain/tts/aggregate"
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/domain/voice"
)

type synthFlags struct {
	out          string
	characterID  string
	contribution string
	voiceID      string
	archetype    string
	gender       string
	accent       string
	style        string
	cache        bool
}

var synthOpts synthFlags

var synthCmd = &cobra.Command{
	Use:   "synth [text]",
	Short: "Synthesize text to a WAV file through the provider chain",
	Example: `  voice-server synth --archetype narrator --gender female -o hello.wav "Hello there"
  echo "Long passage" | voice-server synth -o passage.wav`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSynth,
}

func init() {
	f := synthCmd.Flags()
	f.StringVarP(&synthOpts.out, "out", "o", "speech.wav", "output WAV path")
	f.StringVar(&synthOpts.characterID, "character", "", "character id used for reference lookup")
	f.StringVar(&synthOpts.contribution, "contribution", "", "contribution id usage is credited to")
	f.StringVar(&synthOpts.voiceID, "voice-id", "", "provider voice id")
	f.StringVar(&synthOpts.archetype, "archetype", "", "voice archetype")
	f.StringVar(&synthOpts.gender, "gender", "", "male, female or neutral")
	f.StringVar(&synthOpts.accent, "accent", "", "accent hint")
	f.StringVar(&synthOpts.style, "style", "", "style prompt")
	f.BoolVar(&synthOpts.cache, "cache", false, "use the result cache when configured")
	rootCmd.AddCommand(synthCmd)
}

func runSynth(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args)
	if err != nil {
		return err
	}

	app, err := bootstrap.Prepare(cmd.Context(), options())
	if err != nil {
		return err
	}
	defer app.Close()

	meta := aggregate.CharacterMeta{
		CharacterID:    synthOpts.characterID,
		ContributionID: synthOpts.contribution,
		Voice: inter.VoiceSpec{
			VoiceID:     synthOpts.voiceID,
			Archetype:   synthOpts.archetype,
			Gender:      voice.ParseGender(synthOpts.gender),
			AccentHint:  synthOpts.accent,
			StylePrompt: synthOpts.style,
		},
	}
	var opts []tts.RequestOption
	if synthOpts.cache {
		opts = append(opts, tts.UseCache())
	}

	result, err := app.Orchestrator().Synthesize(cmd.Context(), text, meta, opts...)
	if err != nil {
		return err
	}
	if err := os.WriteFile(synthOpts.out, result.Audio, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", synthOpts.out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d ms at %d Hz via %s\n",
		synthOpts.out, result.DurationMs, result.Format.SampleRateHz, result.Provider)
	return nil
}

func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no text given")
	}
	return text, nil
}
