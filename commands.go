package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"voxdrop/access"
	"voxdrop/account"
	"voxdrop/audio"
	"voxdrop/clipboard"
	"voxdrop/doctor"
	"voxdrop/invite"
	"voxdrop/log"
	"voxdrop/message"
	"voxdrop/recorder"
)

// cli binds the commands to one opened app and the terminal.
type cli struct {
	app      *app
	in       io.Reader
	out      io.Writer
	newAudio func() (audio.Context, error)
}

type command struct {
	usage string
	run   func(c *cli, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"record":     {"record [-private] [-title T] [-device D] [-setup] [-max DUR] [-yes]", (*cli).record},
	"list":       {"list", (*cli).list},
	"show":       {"show <id>", (*cli).show},
	"delete":     {"delete <id>", (*cli).remove},
	"transcribe": {"transcribe <id>", (*cli).transcribe},
	"title":      {"title <id> [text]", (*cli).title},
	"invite":     {"invite [-role reader|writer|owner] [-copy] <id>", (*cli).invite},
	"accept":     {"accept <link>", (*cli).accept},
	"serve":      {"serve [-addr ADDR]", (*cli).serve},
	"devices":    {"devices", (*cli).devices},
	"doctor":     {"doctor [-device D] [-duration DUR]", (*cli).doctor},
	"profile":    {"profile [-name N] [-first-name F]", (*cli).profile},
}

func oneArg(args []string, what string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("expected exactly one %s", what)
	}
	return args[0], nil
}

func (c *cli) record(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	fs.SetOutput(c.out)
	private := fs.Bool("private", false, "Only invited people can listen")
	title := fs.String("title", "", "Title for the message")
	device := fs.String("device", c.app.cfg.Audio.Device, "Capture device name or id")
	setup := fs.Bool("setup", false, "Pick the capture device interactively")
	maxDur := fs.Duration("max", 0, "Stop recording after this long")
	yes := fs.Bool("yes", false, "Upload without asking")
	if err := fs.Parse(args); err != nil {
		return err
	}

	acct, err := c.app.session(ctx)
	if err != nil {
		return err
	}
	actx, err := c.newAudio()
	if err != nil {
		return fmt.Errorf("%w: %v", recorder.ErrDeviceUnavailable, err)
	}
	defer actx.Close()
	dev, err := pickDevice(actx, *device, *setup)
	if err != nil {
		return err
	}
	if dev != nil && audio.IsBluetooth(dev.Name) {
		fmt.Fprintf(c.out, "Warning: %s looks like a bluetooth headset; quality may drop while recording\n", dev.Name)
	}

	sess := recorder.New(recorder.Config{
		Audio:   actx,
		Device:  dev,
		Store:   c.app.store,
		Channel: c.app.channel(),
	})

	opts := recordOptions{
		Visibility:  access.Public,
		MaxDuration: *maxDur,
		AutoUpload:  *yes,
	}
	if *private {
		opts.Visibility = access.Private
	}
	if *title != "" {
		opts.Title = title
	}

	id, err := recordMessage(ctx, sess, acct, opts, readLines(c.in), c.out)
	if errors.Is(err, errDiscarded) {
		fmt.Fprintln(c.out, "Discarded.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Saved %s (%s)\n", id, opts.Visibility)
	return nil
}

func (c *cli) list(ctx context.Context, args []string) error {
	acct, err := c.app.session(ctx)
	if err != nil {
		return err
	}
	recs, err := acct.Library.List(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(c.out, "No messages.")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTITLE\tTRANSCRIPT")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"),
			orDash(r.Title), clip(orDash(r.Transcription), 40))
	}
	return tw.Flush()
}

func (c *cli) resolve(ctx context.Context, id string) (*message.Record, access.Principal, error) {
	acct, err := c.app.session(ctx)
	if err != nil {
		return nil, "", err
	}
	rec, err := message.Resolve(ctx, c.app.store, id, acct.Principal())
	if err != nil {
		return nil, "", err
	}
	return rec, acct.Principal(), nil
}

func (c *cli) show(ctx context.Context, args []string) error {
	id, err := oneArg(args, "message id")
	if err != nil {
		return err
	}
	rec, _, err := c.resolve(ctx, id)
	if err != nil {
		return err
	}
	printRecord(c.out, rec)
	return nil
}

func printRecord(w io.Writer, rec *message.Record) {
	fmt.Fprintf(w, "ID:            %s\n", rec.ID)
	fmt.Fprintf(w, "Created:       %s\n", rec.CreatedAt.Local().Format(time.RFC1123))
	if rec.Creator != nil {
		fmt.Fprintf(w, "Creator:       %s (%s)\n", rec.Creator.FirstName, rec.Creator.ID)
	}
	fmt.Fprintf(w, "Title:         %s\n", orDash(rec.Title))
	fmt.Fprintf(w, "Audio:         %s\n", rec.AudioRef)
	fmt.Fprintf(w, "Transcription: %s\n", orDash(rec.Transcription))
}

func (c *cli) remove(ctx context.Context, args []string) error {
	id, err := oneArg(args, "message id")
	if err != nil {
		return err
	}
	acct, err := c.app.session(ctx)
	if err != nil {
		return err
	}
	removed, err := acct.Library.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%s is not in your library", id)
	}
	fmt.Fprintf(c.out, "Removed %s from your library\n", id)
	return nil
}

func (c *cli) transcribe(ctx context.Context, args []string) error {
	id, err := oneArg(args, "message id")
	if err != nil {
		return err
	}
	if c.app.coordinator == nil {
		return errors.New("no transcription provider configured")
	}
	rec, _, err := c.resolve(ctx, id)
	if err != nil {
		return err
	}
	out := c.app.coordinator.EnsureTranscribed(ctx, rec)
	if out.Err != nil {
		return fmt.Errorf("%s: %w", out.Status, out.Err)
	}
	text := out.Text
	if text == "" {
		if latest, err := c.app.store.Record(ctx, id); err == nil && latest.Transcription != nil {
			text = *latest.Transcription
		}
	}
	fmt.Fprintf(c.out, "%s: %s\n", out.Status, orDash(&text))
	return nil
}

func (c *cli) title(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected a message id")
	}
	rec, who, err := c.resolve(ctx, args[0])
	if err != nil {
		return err
	}
	var title *string
	if text := strings.TrimSpace(strings.Join(args[1:], " ")); text != "" {
		title = &text
	}
	updated, err := message.SetTitle(ctx, c.app.store, rec.ID, who, title)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Title: %s\n", orDash(updated.Title))
	return nil
}

func (c *cli) invite(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("invite", flag.ContinueOnError)
	fs.SetOutput(c.out)
	role := fs.String("role", string(access.RoleReader), "Role granted to whoever accepts")
	copyLink := fs.Bool("copy", false, "Copy the link to the clipboard")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := oneArg(fs.Args(), "message id")
	if err != nil {
		return err
	}
	r, err := access.ParseRole(*role)
	if err != nil {
		return err
	}
	rec, who, err := c.resolve(ctx, id)
	if err != nil {
		return err
	}
	if !rec.CreatedBy(who) {
		return errors.New("only the creator can invite")
	}
	link, err := c.app.issuer.CreateInviteLink(rec, r)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, link)
	if *copyLink {
		if err := clipboard.Copy(link); err != nil {
			log.Warnf("clipboard_copy_failed: %v", err)
			fmt.Fprintln(c.out, "(could not copy to clipboard)")
		} else {
			fmt.Fprintln(c.out, "(copied to clipboard)")
		}
	}
	return nil
}

func (c *cli) accept(ctx context.Context, args []string) error {
	link, err := oneArg(args, "invite link")
	if err != nil {
		return err
	}
	acct, err := c.app.session(ctx)
	if err != nil {
		return err
	}
	claims, err := c.app.issuer.Accept(ctx, c.app.store, invite.TokenFromLink(link), acct.Principal())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Joined %s as %s\n", claims.Record, claims.Role)
	return nil
}

// profile shows the account's profile, updating the names given as flags.
func (c *cli) profile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fs.SetOutput(c.out)
	name := fs.String("name", "", "Display name")
	firstName := fs.String("first-name", "", "First name shown on your messages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	acct, err := c.app.session(ctx)
	if err != nil {
		return err
	}
	p := acct.Profile

	var newName, newFirst *string
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			newName = name
		case "first-name":
			newFirst = firstName
		}
	})
	if newName != nil || newFirst != nil {
		p, err = account.Update(ctx, c.app.store, acct.AccountID, newName, newFirst)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(c.out, "ID:         %s\n", p.ID)
	fmt.Fprintf(c.out, "Name:       %s\n", p.Name)
	fmt.Fprintf(c.out, "First name: %s\n", orDash(&p.FirstName))
	return nil
}

func (c *cli) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(c.out)
	addr := fs.String("addr", c.app.cfg.Server.Addr, "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Serving on %s (ctrl+c to stop)\n", *addr)
	return c.app.server().Run(ctx, *addr)
}

func (c *cli) devices(ctx context.Context, args []string) error {
	actx, err := c.newAudio()
	if err != nil {
		return err
	}
	defer actx.Close()
	devices, err := actx.Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(c.out, "No capture devices found.")
		return nil
	}
	for _, d := range devices {
		suffix := ""
		if audio.IsBluetooth(d.Name) {
			suffix = " [bluetooth]"
		}
		fmt.Fprintf(c.out, "%s%s\n  id: %s\n", d.Name, suffix, d.ID)
	}
	return nil
}

// errChecksFailed carries doctor's non-zero exit without another message.
var errChecksFailed = errors.New("checks failed")

func (c *cli) doctor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(c.out)
	device := fs.String("device", c.app.cfg.Audio.Device, "Capture device name or id")
	duration := fs.Duration("duration", 3*time.Second, "How long to record the microphone test")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var actx audio.Context
	if a, err := c.newAudio(); err != nil {
		log.Warnf("audio_init_failed: %v", err)
	} else {
		actx = a
		defer a.Close()
	}

	sample := &doctor.Sample{}
	checks := []doctor.Check{doctor.MicCheck(actx, *device, *duration, sample)}
	checks = append(checks, c.app.checks...)
	checks = append(checks, doctor.TranscriptionCheck(c.app.backend, sample), doctor.ClipboardCheck())
	if doctor.Run(ctx, c.out, checks) != 0 {
		return errChecksFailed
	}
	return nil
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
