package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/Conceptual-Machines/magda-composer/internal/audio"
	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/Conceptual-Machines/magda-composer/internal/config"
	"github.com/Conceptual-Machines/magda-composer/internal/share"
	"github.com/Conceptual-Machines/magda-composer/internal/storage"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const (
	formatWAV  = "wav"
	formatMIDI = "midi"
)

type renderOptions struct {
	out        string
	format     string
	loops      int
	sampleRate int
	tail       float64
	maxSeconds float64
	samples    string
	fromStore  bool
	quiet      bool
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := renderOptions{}
	cmd := &cobra.Command{
		Use:   "composer-render <run.json | share-code | run-id>",
		Short: "Render a shared composition to WAV or MIDI",
		Long: `Render a composition offline. The source is a run file saved by the
server, a share code, or with --store the id of a run in the configured
storage backend.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), args[0], opts, cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.out, "out", "o", "composition.wav", "output file")
	flags.StringVarP(&opts.format, "format", "f", "", "wav or midi (default: from the output extension)")
	flags.IntVar(&opts.loops, "loops", 1, "number of passes to render")
	flags.IntVar(&opts.sampleRate, "sample-rate", audio.DefaultSampleRate, "output sample rate")
	flags.Float64Var(&opts.tail, "tail", audio.DefaultTail, "seconds rendered after the last pass")
	flags.Float64Var(&opts.maxSeconds, "max-seconds", audio.DefaultMaxRenderSeconds, "refuse renders longer than this")
	flags.StringVar(&opts.samples, "samples", "", "sample bank directory")
	flags.BoolVar(&opts.fromStore, "store", false, "treat the source as a run id in the configured storage")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "hide the progress bar")
	return cmd
}

func runRender(ctx context.Context, source string, opts renderOptions, stderr io.Writer) error {
	format, err := outputFormat(opts)
	if err != nil {
		return err
	}

	comp, err := loadSource(ctx, source, opts.fromStore)
	if err != nil {
		return err
	}

	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", opts.out, err)
	}
	defer f.Close()

	switch format {
	case formatMIDI:
		if err := audio.ExportMIDI(f, comp); err != nil {
			return err
		}
	default:
		if err := renderWAV(ctx, comp, opts, f, stderr); err != nil {
			return err
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.out, err)
	}

	fmt.Fprintf(stderr, "Wrote %s (%d notes, %d tracks)\n", opts.out, len(comp.Notes), len(comp.Tracks))
	return nil
}

func renderWAV(ctx context.Context, comp *composition.Composition, opts renderOptions, w io.Writer, stderr io.Writer) error {
	var bar *progressbar.ProgressBar
	renderOpts := audio.OfflineOptions{
		SampleRate: opts.sampleRate,
		Loops:      opts.loops,
		Tail:       opts.tail,
		MaxSeconds: opts.maxSeconds,
	}
	if opts.samples != "" {
		renderOpts.Instruments = audio.NewSampleBank(opts.samples, opts.sampleRate)
	}
	if !opts.quiet {
		renderOpts.Progress = func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(
					total,
					progressbar.OptionSetWriter(stderr),
					progressbar.OptionSetTheme(progressbar.ThemeASCII),
					progressbar.OptionFullWidth(),
					progressbar.OptionSetDescription("Rendering"),
					progressbar.OptionOnCompletion(func() { fmt.Fprintln(stderr) }),
				)
			}
			_ = bar.Set(done)
		}
	}

	buf, err := audio.RenderOffline(ctx, comp, renderOpts)
	if errors.Is(err, audio.ErrRenderTooLong) {
		return fmt.Errorf("%w; raise --max-seconds to allow it", err)
	}
	if err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return audio.WriteWAV(w, buf)
}

func outputFormat(opts renderOptions) (string, error) {
	format := strings.ToLower(opts.format)
	if format == "" {
		switch strings.ToLower(filepath.Ext(opts.out)) {
		case ".mid", ".midi":
			format = formatMIDI
		default:
			format = formatWAV
		}
	}
	switch format {
	case formatWAV, formatMIDI:
		return format, nil
	case "mid":
		return formatMIDI, nil
	}
	return "", fmt.Errorf("unknown format %q (allowed: wav, midi)", opts.format)
}

// loadSource resolves a run file, a share code or a stored run id
func loadSource(ctx context.Context, source string, fromStore bool) (*composition.Composition, error) {
	if fromStore {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		store, err := storage.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		run, err := store.Load(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", source, err)
		}
		return run.Composition, nil
	}

	if data, err := os.ReadFile(source); err == nil {
		run, err := share.UnmarshalRun(data)
		if err != nil {
			return nil, fmt.Errorf("failed to read run file %s: %w", source, err)
		}
		return run.Composition, nil
	}

	comp, err := share.Decode(strings.TrimSpace(source))
	if err != nil {
		return nil, fmt.Errorf("source is neither a readable run file nor a share code: %w", err)
	}
	return comp, nil
}
