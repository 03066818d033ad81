// Command repforge-replay runs a recorded pose stream through the rep
// pipeline offline and prints every rep and the set summary.
//
// Input is newline-delimited JSON frame records, one per line:
//
//	{"ts":"2026-03-02T18:00:00Z","joints":{"left_knee":{"x":0.5,"y":0.7,"confidence":0.9}}}
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/pipeline"
	"github.com/claude/repforge/internal/profiles"
	"github.com/claude/repforge/internal/ranking"
	"github.com/claude/repforge/internal/recovery"
	"github.com/claude/repforge/internal/training"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "repforge-replay:", err)
		os.Exit(1)
	}
}

type options struct {
	input      string
	exercise   string
	profiles   string
	height     float64
	bodyweight float64
	sex        string
	load       float64
	rank       bool
	realtime   bool
	speed      float64
	verbose    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("repforge-replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.input, "in", "-", "JSONL frame file, - for stdin")
	fs.StringVar(&o.exercise, "exercise", "back_squat", "exercise profile name")
	fs.StringVar(&o.profiles, "profiles", "", "optional YAML file of extra exercise profiles")
	fs.Float64Var(&o.height, "height", 0, "lifter height in meters, enables velocity")
	fs.Float64Var(&o.bodyweight, "bodyweight", 0, "lifter bodyweight in kg, enables ranking")
	fs.StringVar(&o.sex, "sex", "", "male, female or empty")
	fs.Float64Var(&o.load, "load", 0, "external load in kg")
	fs.BoolVar(&o.rank, "rank", false, "score the set as a one-set session and print the rank outcome")
	fs.BoolVar(&o.realtime, "realtime", false, "publish frames at their recorded pace through a drop-on-overrun mailbox")
	fs.Float64Var(&o.speed, "speed", 1, "playback speed multiplier for -realtime")
	fs.BoolVar(&o.verbose, "v", false, "log pipeline notices")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	switch models.Sex(o.sex) {
	case models.SexMale, models.SexFemale, models.SexUnknown:
	default:
		return o, fmt.Errorf("unknown sex %q", o.sex)
	}
	if o.speed <= 0 {
		return o, errors.New("speed must be positive")
	}
	if o.height < 0 || o.bodyweight < 0 || o.load < 0 {
		return o, errors.New("height, bodyweight and load must not be negative")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	in := stdin
	if o.input != "-" {
		f, err := os.Open(o.input)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		in = f
	}

	catalog, err := profiles.LoadFile(o.profiles)
	if err != nil {
		return err
	}
	profile, err := catalog.Get(o.exercise)
	if err != nil {
		return err
	}
	user := models.UserContext{HeightM: o.height, BodyweightKg: o.bodyweight, Sex: models.Sex(o.sex)}

	cfg := pipeline.DefaultConfig()
	sess := pipeline.NewSession(cfg, user, log)
	if err := sess.SelectExercise(profile); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for rep := range sess.RepEvents() {
			printRep(stdout, rep)
		}
	}()

	src := pipeline.NewJSONSource(in, cfg.MinConfidence)
	var runErr error
	var mb *pipeline.Mailbox
	if o.realtime {
		var feedErr <-chan error
		mb, feedErr = publishPaced(ctx, src, o.speed)
		runErr = sess.Run(ctx, mb)
		if err := <-feedErr; err != nil && runErr == nil {
			runErr = err
		}
	} else {
		runErr = sess.Run(ctx, src)
	}
	sum, setErr := sess.EndSet(o.load)
	sess.End()
	wg.Wait()
	if runErr != nil {
		return runErr
	}
	if setErr != nil {
		return setErr
	}
	printSet(stdout, sum)
	if mb != nil {
		published, dropped := mb.Stats()
		fmt.Fprintf(stdout, "realtime: %d frames published, %d dropped\n", published, dropped)
	}

	if n, lastErr := src.Skipped(); n > 0 {
		fmt.Fprintf(stderr, "warning: %d malformed frame lines skipped (last: %v)\n", n, lastErr)
	}

	if d := sess.Drops(); d.RepEvents > 0 {
		fmt.Fprintf(stderr, "warning: %d rep events not printed\n", d.RepEvents)
	}

	if !o.rank {
		return nil
	}
	return printRank(ctx, stdout, catalog, user, sum)
}

// publishPaced replays src into a mailbox at the recorded frame pace scaled
// by speed. The producer never waits on the consumer; a frame not taken
// before the next one arrives is dropped. The returned channel yields a
// read error, if any, once the mailbox is closed.
func publishPaced(ctx context.Context, src pipeline.FrameSource, speed float64) (*pipeline.Mailbox, <-chan error) {
	mb := pipeline.NewMailbox()
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer mb.Close()
		var first time.Time
		start := time.Now()
		for {
			f, err := src.Next(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					errc <- err
				}
				return
			}
			if first.IsZero() {
				first = f.Timestamp
			}
			due := start.Add(time.Duration(float64(f.Timestamp.Sub(first)) / speed))
			if d := time.Until(due); d > 0 {
				t := time.NewTimer(d)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			mb.Publish(f)
		}
	}()
	return mb, errc
}

// printRank scores the set through the training service backed by an
// in-memory store, as a fresh user's first session.
func printRank(ctx context.Context, w io.Writer, catalog *profiles.Store, user models.UserContext,
	sum models.SetSummary) error {
	rank, err := ranking.New(ranking.DefaultConfig(), catalog)
	if err != nil {
		return err
	}
	rec, err := recovery.New(recovery.DefaultConfig())
	if err != nil {
		return err
	}

	outcome, next := rank.Apply(models.RankState{}, []models.SetRecord{sum.Record}, user)
	if !outcome.Computed {
		fmt.Fprintf(w, "rank: not computed (%s)\n", outcome.Reason)
	} else {
		fmt.Fprintf(w, "rank: +%d LP, %d total, tier %s\n", outcome.Delta, next.Points, next.Tier)
	}

	svc := training.New(training.DefaultConfig(), catalog, rank, rec, training.NewMemoryStore(), nil, slog.New(slog.DiscardHandler))
	view, err := svc.ImportVolume(ctx, 1, recovery.VolumeFromSets(catalog, []models.SetRecord{sum.Record}, sum.EndedAt))
	if err != nil {
		return err
	}
	for _, m := range view {
		fmt.Fprintf(w, "recovery: %-10s %5.1f\n", m.Muscle, m.Score)
	}
	return nil
}

func printRep(w io.Writer, r models.RepEvent) {
	vel := "n/a"
	if r.MeanConcentricVelocity.Available {
		vel = fmt.Sprintf("%.2f m/s", r.MeanConcentricVelocity.MetersPerSecond)
	}
	fmt.Fprintf(w, "rep %d: ecc %s con %s rom %.0f° form %.0f velocity %s loss %.1f%%\n",
		r.Number, r.EccentricDuration, r.ConcentricDuration, r.ROMDegrees, r.FormScore, vel, r.VelocityLossPct)
	for _, is := range r.Issues {
		fmt.Fprintf(w, "  %s: %s\n", is.Severity, is.Code)
	}
}

func printSet(w io.Writer, s models.SetSummary) {
	fmt.Fprintf(w, "set: %s %d reps at %.1f kg, form %.0f, rpe %.1f (rir %.1f)",
		s.Record.Exercise, s.Record.Reps, s.Record.LoadKg, s.Record.FormScore, s.RPE, s.RIR)
	if s.Fatigue.AutoStop {
		fmt.Fprint(w, ", auto-stop")
	}
	fmt.Fprintln(w)
}
