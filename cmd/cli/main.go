// Command sk is a CLI client for the slotkeeper service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/slotkeeper/api/slotkeeper/v1"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "slotkeeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "slotkeeper")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadToken() (tokenFile, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tokenFile{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return tokenFile{}, errors.New("no valid token (login required)")
	}
	return tf, nil
}

func removeToken() error {
	err := os.Remove(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

// conn holds the global connection flags.
type conn struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
}

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func (c conn) dial(bearer string) (*grpc.ClientConn, pb.SlotKeeperClient, error) {
	creds := insecure.NewCredentials()
	if !c.plaintext {
		var err error
		if creds, err = loadTLS(c.caPath, c.insecure); err != nil {
			return nil, nil, err
		}
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(pb.CallOption()),
	}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !c.plaintext}))
	}
	cc, err := grpc.NewClient(c.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, pb.NewSlotKeeperClient(cc), nil
}

// dialAuthed dials with the saved token.
func (c conn) dialAuthed() (*grpc.ClientConn, pb.SlotKeeperClient, error) {
	tf, err := loadToken()
	if err != nil {
		return nil, nil, err
	}
	return c.dial(tf.AccessToken)
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `sk CLI
Usage:
  sk -addr HOST:PORT [-cacert file | -insecure | -plaintext] [-timeout d] <cmd> [args]

Commands:
  version
  login      -u <username> -p <password>           (saves token)
  logout
  slots      [-user <uuid>]                        (admins may list any user)
  generate   -slot <n> -prompt <text|-> [-ar 16:9] [-ref file] [-char key]...
  exit       -slot <n> [-mode archive|discard]
  gate                                             (print login gate)
  watch-gate                                       (stream gate changes)
  admin student  -u <username> -p <password> [-name <display>]
  admin students
  admin presence
  admin reset|lock|unlock|clear -id <slot uuid>
  admin gate     -locked=true|false
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	var c conn
	flag.StringVar(&c.addr, "addr", "localhost:8443", "server addr")
	flag.StringVar(&c.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&c.insecure, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&c.plaintext, "plaintext", false, "no TLS (server started with -plaintext)")
	timeout := flag.Duration("timeout", 2*time.Minute, "per-command deadline (generation can be slow)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cmd != "watch-gate" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	var err error
	switch cmd {
	case "version":
		fmt.Printf("sk %s (%s)\n", version, buildDate)
	case "login":
		err = cmdLogin(ctx, c, args)
	case "logout":
		err = removeToken()
	case "slots":
		err = cmdSlots(ctx, c, args)
	case "generate":
		err = cmdGenerate(ctx, c, args)
	case "exit":
		err = cmdExit(ctx, c, args)
	case "gate":
		err = cmdGate(ctx, c)
	case "watch-gate":
		err = cmdWatchGate(ctx, c)
	case "admin":
		err = cmdAdmin(ctx, c, args)
	default:
		usage()
	}
	if err != nil {
		fail(err)
	}
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		msg := fmt.Sprintf("rpc error: code=%s msg=%s", s.Code(), s.Message())
		if r := reasonOf(s); r != "" {
			msg += " reason=" + r
		}
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
