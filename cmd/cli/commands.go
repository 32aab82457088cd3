package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/slotkeeper/api/slotkeeper/v1"
	"github.com/and161185/slotkeeper/internal/generation"
)

var errUsage = errors.New("usage")

func usageErr(msg string) error { return fmt.Errorf("%w: %s", errUsage, msg) }

// reasonOf extracts the ErrorInfo reason the server attaches to failures.
func reasonOf(s *status.Status) string {
	for _, d := range s.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}
	return ""
}

// ------- validators -------

// refMIME guesses the content type of a reference image from its name,
// falling back to sniffing.
func refMIME(name string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		if base, _, _ := strings.Cut(t, ";"); strings.HasPrefix(base, "image/") {
			return base
		}
	}
	return http.DetectContentType(data)
}

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

func buildGenerate(slot int, prompt, ar, refPath string, chars []string) (*pb.GenerateRequest, error) {
	if slot < 1 {
		return nil, usageErr("need -slot >= 1")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, usageErr("need -prompt")
	}
	if err := generation.ValidateAspectRatio(ar); err != nil {
		return nil, err
	}
	req := &pb.GenerateRequest{SlotIndex: slot, Prompt: prompt, AspectRatio: ar, CharacterReferences: chars}
	if refPath != "" {
		data, err := readAll(refPath)
		if err != nil {
			return nil, err
		}
		req.ReferenceImage = data
		req.ReferenceMIME = refMIME(refPath, data)
	}
	return req, nil
}

// slotRow is the short form printed by `slots`.
type slotRow struct {
	ID       string `json:"id"`
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	Attempts string `json:"attempts"`
	State    string `json:"state"`
	Locked   bool   `json:"locked"`
	Image    string `json:"image,omitempty"`
	History  int    `json:"history"`
}

func toRows(slots []*pb.Slot) []slotRow {
	rows := make([]slotRow, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, slotRow{
			ID:       s.ID,
			Index:    s.SlotIndex,
			Kind:     s.Kind,
			Attempts: fmt.Sprintf("%d/%d", s.AttemptsUsed, s.MaxAttempts),
			State:    s.State,
			Locked:   s.Locked,
			Image:    s.CurrentArtifactURL,
			History:  len(s.HistoryURLs),
		})
	}
	return rows
}

// ------- commands -------

// cmdLogin exchanges credentials for a token and saves it.
func cmdLogin(ctx context.Context, c conn, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	_ = fs.Parse(args)
	if *u == "" || *p == "" {
		return usageErr("need -u and -p")
	}

	cc, cli, err := c.dial("")
	if err != nil {
		return err
	}
	defer cc.Close()

	resp, err := cli.Login(ctx, &pb.LoginRequest{Username: *u, Password: *p})
	if err != nil {
		return err
	}
	exp := resp.ExpiresAt
	if exp.IsZero() {
		exp = time.Now().Add(15 * time.Minute)
	}
	if err := saveToken(tokenFile{AccessToken: resp.AccessToken, ExpiresAt: exp, UserID: resp.UserID, Role: resp.Role}); err != nil {
		return err
	}
	fmt.Printf("ok (%s, until %s)\n", resp.Role, exp.Local().Format(time.Kitchen))
	return nil
}

// cmdSlots prints the caller's slots, or another user's with -user.
func cmdSlots(ctx context.Context, c conn, args []string) error {
	fs := flag.NewFlagSet("slots", flag.ExitOnError)
	user := fs.String("user", "", "owner id (admins only)")
	full := fs.Bool("full", false, "print full slot views")
	_ = fs.Parse(args)

	cc, cli, err := c.dialAuthed()
	if err != nil {
		return err
	}
	defer cc.Close()

	out, err := cli.ListSlots(ctx, &pb.ListSlotsRequest{UserID: *user})
	if err != nil {
		return err
	}
	if *full {
		printJSON(out.Slots)
		return nil
	}
	printJSON(toRows(out.Slots))
	return nil
}

// cmdGenerate submits one attempt. A moderation block exits with status 3.
func cmdGenerate(ctx context.Context, c conn, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	slot := fs.Int("slot", 0, "slot index (1-based)")
	prompt := fs.String("prompt", "", "prompt text ('-'=stdin)")
	ar := fs.String("ar", "", "aspect ratio ("+strings.Join(generation.AspectRatios, ", ")+")")
	ref := fs.String("ref", "", "reference image file")
	var chars listFlag
	fs.Var(&chars, "char", "character reference blob key (repeatable)")
	_ = fs.Parse(args)

	text := *prompt
	if text == "-" {
		b, err := readAll("-")
		if err != nil {
			return err
		}
		text = strings.TrimSpace(string(b))
	}
	req, err := buildGenerate(*slot, text, *ar, *ref, chars)
	if err != nil {
		return err
	}

	cc, cli, err := c.dialAuthed()
	if err != nil {
		return err
	}
	defer cc.Close()

	out, err := cli.Generate(ctx, req)
	if err != nil {
		return err
	}
	if out.Blocked {
		fmt.Fprintf(os.Stderr, "blocked (%s): %s\n", out.BlockType, out.Message)
		os.Exit(3)
	}
	fmt.Println(out.ImageURL)
	if out.Slot != nil {
		fmt.Printf("attempts %d/%d, state %s\n", out.Slot.AttemptsUsed, out.Slot.MaxAttempts, out.Slot.State)
	}
	return nil
}

// cmdExit leaves a locked slot.
func cmdExit(ctx context.Context, c conn, args []string) error {
	fs := flag.NewFlagSet("exit", flag.ExitOnError)
	slot := fs.Int("slot", 0, "slot index (1-based)")
	mode := fs.String("mode", "", "archive | discard (server policy may override)")
	_ = fs.Parse(args)
	if *slot < 1 {
		return usageErr("need -slot >= 1")
	}

	cc, cli, err := c.dialAuthed()
	if err != nil {
		return err
	}
	defer cc.Close()

	out, err := cli.ExitSlot(ctx, &pb.ExitSlotRequest{SlotIndex: *slot, Mode: *mode})
	if err != nil {
		return err
	}
	printJSON(toRows([]*pb.Slot{out.Slot}))
	return nil
}

func cmdGate(ctx context.Context, c conn) error {
	cc, cli, err := c.dial("")
	if err != nil {
		return err
	}
	defer cc.Close()
	st, err := cli.GetGate(ctx, &pb.Empty{})
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// cmdWatchGate prints every gate transition until interrupted.
func cmdWatchGate(ctx context.Context, c conn) error {
	cc, cli, err := c.dial("")
	if err != nil {
		return err
	}
	defer cc.Close()

	stream, err := cli.WatchGate(ctx, &pb.Empty{})
	if err != nil {
		return err
	}
	for {
		st, err := stream.Recv()
		if err == io.EOF || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s loginLocked=%v\n", time.Now().Format(time.TimeOnly), st.LoginLocked)
	}
}

// cmdAdmin dispatches the admin subcommands.
func cmdAdmin(ctx context.Context, c conn, args []string) error {
	if len(args) < 1 {
		return usageErr("admin needs a subcommand")
	}
	sub, args := args[0], args[1:]

	cc, cli, err := c.dialAuthed()
	if err != nil {
		return err
	}
	defer cc.Close()

	switch sub {
	case "student":
		fs := flag.NewFlagSet("admin student", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		name := fs.String("name", "", "display name")
		_ = fs.Parse(args)
		if *u == "" || *p == "" {
			return usageErr("need -u and -p")
		}
		out, err := cli.CreateStudent(ctx, &pb.CreateStudentRequest{Username: *u, Password: *p, DisplayName: *name})
		if err != nil {
			return err
		}
		fmt.Println(out.UserID)

	case "students":
		out, err := cli.ListStudents(ctx, &pb.Empty{})
		if err != nil {
			return err
		}
		printJSON(out.Students)

	case "presence":
		out, err := cli.GetPresence(ctx, &pb.Empty{})
		if err != nil {
			return err
		}
		printJSON(out.Generating)

	case "gate":
		fs := flag.NewFlagSet("admin gate", flag.ExitOnError)
		locked := fs.Bool("locked", false, "close login for students")
		_ = fs.Parse(args)
		out, err := cli.SetLoginLocked(ctx, &pb.SetLoginLockedRequest{Locked: *locked})
		if err != nil {
			return err
		}
		printJSON(out)

	case "reset", "lock", "unlock", "clear":
		fs := flag.NewFlagSet("admin "+sub, flag.ExitOnError)
		id := fs.String("id", "", "slot id (uuid)")
		_ = fs.Parse(args)
		if *id == "" {
			return usageErr("need -id")
		}
		req := &pb.SlotIDRequest{SlotID: *id}
		var out *pb.SlotResponse
		switch sub {
		case "reset":
			out, err = cli.ResetSlot(ctx, req)
		case "lock":
			out, err = cli.ForceLockSlot(ctx, req)
		case "unlock":
			out, err = cli.ForceUnlockSlot(ctx, req)
		default:
			out, err = cli.ForceClearSlot(ctx, req)
		}
		if err != nil {
			return err
		}
		printJSON(toRows([]*pb.Slot{out.Slot}))

	default:
		return usageErr("unknown admin subcommand " + sub)
	}
	return nil
}
