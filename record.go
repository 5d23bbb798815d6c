package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"voxdrop/access"
	"voxdrop/account"
	"voxdrop/audio"
	"voxdrop/log"
	"voxdrop/recorder"
)

type reviewChoice int

const (
	choiceUpload reviewChoice = iota
	choiceRerecord
	choiceDiscard
)

var errDiscarded = errors.New("recording discarded")

func parseChoice(line string) (reviewChoice, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "u", "upload", "y", "yes":
		return choiceUpload, true
	case "r", "rerecord", "re-record":
		return choiceRerecord, true
	case "d", "discard", "n", "no":
		return choiceDiscard, true
	}
	return 0, false
}

// readLines feeds stdin lines to a channel so prompts can be raced against
// timers and cancellation.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

type recordOptions struct {
	Visibility access.Visibility
	Title      *string
	// MaxDuration stops the capture on its own; zero waits for Enter.
	MaxDuration time.Duration
	// AutoUpload skips the review prompt.
	AutoUpload bool
}

// recordMessage drives one session from Idle to Uploaded, offering the
// review choices in between. It returns the new record id.
func recordMessage(ctx context.Context, sess *recorder.Session, acct *account.Session, opts recordOptions, lines <-chan string, out io.Writer) (string, error) {
	for {
		if err := sess.Start(ctx); err != nil {
			return "", err
		}
		if opts.MaxDuration > 0 {
			fmt.Fprintf(out, "Recording (up to %s), press Enter to stop...\n", opts.MaxDuration)
		} else {
			fmt.Fprintln(out, "Recording, press Enter to stop...")
		}

		var timer *time.Timer
		var limit <-chan time.Time
		if opts.MaxDuration > 0 {
			timer = time.NewTimer(opts.MaxDuration)
			limit = timer.C
		}
	wait:
		for {
			select {
			case _, ok := <-lines:
				if ok || limit == nil {
					break wait
				}
				// Input is closed; only the time limit can stop us now.
				lines = nil
			case <-limit:
				break wait
			case <-ctx.Done():
				break wait
			}
		}
		if timer != nil {
			timer.Stop()
		}

		blob, err := sess.Stop()
		if err != nil {
			return "", err
		}
		if ctx.Err() != nil {
			sess.Discard()
			return "", ctx.Err()
		}
		fmt.Fprintf(out, "Captured %.1fs (%.1f KB)\n", blob.Duration.Seconds(), float64(len(blob.Data))/1024)

		choice := choiceUpload
		if !opts.AutoUpload {
			choice, err = prompt(ctx, lines, out)
			if err != nil {
				sess.Discard()
				return "", err
			}
		}
		switch choice {
		case choiceRerecord:
			if err := sess.Discard(); err != nil {
				return "", err
			}
			continue
		case choiceDiscard:
			if err := sess.Discard(); err != nil {
				return "", err
			}
			return "", errDiscarded
		}

		id, err := sess.Upload(ctx, recorder.UploadContext{
			Profile:    acct.Profile,
			Library:    acct.Library,
			Visibility: opts.Visibility,
			Title:      opts.Title,
			OnProgress: func(pct int) {
				fmt.Fprintf(out, "\rUploading... %3d%%", pct)
			},
		})
		fmt.Fprintln(out)
		return id, err
	}
}

func prompt(ctx context.Context, lines <-chan string, out io.Writer) (reviewChoice, error) {
	for {
		fmt.Fprint(out, "[U]pload, [r]e-record or [d]iscard? ")
		select {
		case line, ok := <-lines:
			if !ok {
				return 0, io.EOF
			}
			if c, ok := parseChoice(line); ok {
				return c, nil
			}
			fmt.Fprintf(out, "unknown choice %q\n", strings.TrimSpace(line))
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// pickDevice resolves the capture device: the interactive picker when asked,
// otherwise the named device or the system default.
func pickDevice(actx audio.Context, name string, setup bool) (*audio.DeviceInfo, error) {
	if setup {
		dev, err := audio.SelectDevice(actx)
		if err != nil {
			return nil, err
		}
		log.Info("device_selected: " + dev.Name)
		return dev, nil
	}
	return audio.FindDevice(actx, name)
}
