package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"github.com/joshp123/gohome-resideo/internal/config"
	"github.com/joshp123/gohome-resideo/internal/oauth"
	"github.com/joshp123/gohome-resideo/internal/oauthflow"
	"github.com/joshp123/gohome-resideo/plugins/resideo"
)

const defaultRedirectURL = "http://localhost:8585/callback"

func linkCommand() *cli.Command {
	return &cli.Command{
		Name:  "link",
		Usage: "Authorize the Resideo account and store a refresh token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "redirect-url", Usage: "Callback URL registered with the consumer key"},
			&cli.BoolFlag{Name: "no-open", Usage: "Do not open the browser automatically"},
			&cli.BoolFlag{Name: "print-token", Usage: "Print the refresh token"},
			&cli.StringFlag{Name: "state-path", Usage: "Write token state here instead of resideo.state_file"},
			&cli.BoolFlag{Name: "skip-blob", Usage: "Do not mirror token state to blob storage"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute, Usage: "Timeout for the authorization"},
		},
		Action: link,
	}
}

func link(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	rc := cfg.Resideo
	if rc == nil {
		return errors.New("config has no resideo section")
	}
	if rc.Credentials.ConsumerKey == "" || rc.Credentials.ConsumerSecret == "" {
		return errors.New("resideo.credentials.consumer_key and consumer_secret are required")
	}

	redirectURL := c.String("redirect-url")
	if redirectURL == "" {
		redirectURL = rc.Credentials.RedirectURL
	}
	if redirectURL == "" {
		redirectURL = defaultRedirectURL
	}

	decl := resideo.Declaration(rc.BaseURL, rc.StateFile)
	conf := decl.AuthCodeConfig(rc.Credentials.ConsumerKey, rc.Credentials.ConsumerSecret, redirectURL)

	state, err := randomState(16)
	if err != nil {
		return err
	}
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Println("Open this URL to authorize:")
	fmt.Println(authURL)
	if !c.Bool("no-open") {
		_ = openBrowser(authURL)
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	code, err := waitForAuthCode(ctx, redirectURL, state)
	if err != nil {
		return err
	}
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if token.RefreshToken == "" {
		return errors.New("no refresh_token returned; check the callback URL registered for the consumer key")
	}

	result, err := persistLink(ctx, cfg, decl, token.RefreshToken, oauthflow.PersistOptions{
		StatePathOverride: c.String("state-path"),
		SkipBlob:          c.Bool("skip-blob"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Linked. Token state written to %s\n", result.StatePath)
	if result.BlobSaved {
		fmt.Println("Token state mirrored to blob storage.")
	}
	if result.ConfigWritten {
		fmt.Printf("Refresh token written to %s\n", cfg.Path())
	}
	if c.Bool("print-token") {
		fmt.Printf("refresh_token: %s\n", token.RefreshToken)
	}
	return nil
}

func persistLink(ctx context.Context, cfg *config.Config, decl oauth.Declaration, refreshToken string, opts oauthflow.PersistOptions) (oauthflow.PersistResult, error) {
	rc := cfg.Resideo
	state := oauthflow.NewState(rc.Credentials.ConsumerKey, rc.Credentials.ConsumerSecret, refreshToken, decl.Scope, time.Now())

	var store oauth.BlobStore
	if !cfg.OAuth.BlobEnabled() {
		opts.SkipBlob = true
	}
	if !opts.SkipBlob {
		var err error
		if store, err = oauth.NewBlobStore(cfg.OAuth); err != nil {
			return oauthflow.PersistResult{}, err
		}
	}
	if rc.PersistToConfig {
		opts.ConfigPath = cfg.Path()
	}
	result, err := oauthflow.PersistState(ctx, decl, state, store, opts)
	if err != nil {
		return result, err
	}
	if result.BlobErr != nil {
		logrus.WithError(result.BlobErr).Warn("token state not mirrored to blob storage")
	}
	return result, nil
}

func waitForAuthCode(ctx context.Context, redirectURL, state string) (string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}

	if isLoopback(parsed.Hostname()) && parsed.Scheme == "http" && parsed.Host != "" {
		code, err := listenForAuthCode(ctx, parsed, state)
		if err == nil {
			return code, nil
		}
		fmt.Printf("Warning: could not listen for the callback, falling back to manual paste: %v\n", err)
	}

	fmt.Print("Paste the authorization code (or full redirect URL): ")
	return readCode(os.Stdin)
}

func listenForAuthCode(ctx context.Context, redirect *url.URL, state string) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{
		Addr:              redirect.Host,
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           callbackHandler(redirect.Path, state, codeCh, errCh),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer func() {
		_ = srv.Close()
	}()

	select {
	case <-ctx.Done():
		return "", errors.New("authorization timed out")
	case err := <-errCh:
		return "", err
	case code := <-codeCh:
		return code, nil
	}
}

func callbackHandler(path, state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	report := func(w http.ResponseWriter, err error, msg string) {
		select {
		case errCh <- err:
		default:
		}
		_, _ = io.WriteString(w, msg)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if path != "" && r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		query := r.URL.Query()
		if errStr := query.Get("error"); errStr != "" {
			report(w, fmt.Errorf("authorization error: %s", errStr), "Authorization failed. You can close this window.")
			return
		}
		if got := query.Get("state"); got != "" && got != state {
			report(w, errors.New("state mismatch"), "State mismatch. You can close this window.")
			return
		}
		code := query.Get("code")
		if code == "" {
			report(w, errors.New("missing code in callback"), "Missing authorization code. You can close this window.")
			return
		}
		select {
		case codeCh <- code:
		default:
		}
		_, _ = io.WriteString(w, "Authorization received. You can close this window.")
	})
}

// readCode accepts a bare code or the full redirect URL.
func readCode(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no code provided")
	}
	if parsed, err := url.Parse(line); err == nil && parsed.Query().Get("code") != "" {
		return parsed.Query().Get("code"), nil
	}
	return line, nil
}

func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "linux":
		return exec.Command("xdg-open", target).Start()
	default:
		return nil
	}
}

func randomState(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
